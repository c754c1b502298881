// Package syserr defines the error categories shared by the cache, device,
// file and mapping layers.
//
// Every failure returned by this module wraps exactly one of the sentinels
// below, so callers can classify errors with errors.Is regardless of which
// layer produced them:
//
//	if errors.Is(err, syserr.ErrExhausted) {
//	    // retry later
//	}
package syserr
