// Package pgalloc hands out physical page frames from an anonymous memory
// arena mapped outside the Go heap.
//
// Free frames are tracked in a roaring bitmap and handed out lowest first.
// Every frame returned by Alloc is zero-filled.
package pgalloc
