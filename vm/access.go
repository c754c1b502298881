package vm

import (
	"context"

	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/syserr"
)

// Load copies len(p) bytes of user memory at addr into p, faulting pages
// in as needed.
func (s *Space) Load(ctx context.Context, addr page.Addr, p []byte) error {
	return s.access(ctx, addr, p, false)
}

// Store copies p into user memory at addr, faulting pages in as needed and
// marking them dirty.
func (s *Space) Store(ctx context.Context, addr page.Addr, p []byte) error {
	return s.access(ctx, addr, p, true)
}

func (s *Space) access(ctx context.Context, addr page.Addr, p []byte, write bool) error {
	if _, ok := addr.AddLength(uint64(len(p))); !ok {
		return syserr.Invalid("access at %v of %d bytes overflows", addr, len(p))
	}
	need := page.User | page.Read
	if write {
		need = page.User | page.Write
	}

	for len(p) > 0 {
		n, err := s.accessPage(ctx, addr, p, need, write)
		if err != nil {
			return err
		}
		p = p[n:]
		addr += page.Addr(n)
	}
	return nil
}

// accessPage transfers the part of p that lies in addr's page.
func (s *Space) accessPage(ctx context.Context, addr page.Addr, p []byte, need page.Perm, write bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va := addr.RoundDown()
	e, ok := s.pt.Lookup(va)
	if !ok || !e.Valid {
		if err := s.faultLocked(ctx, addr); err != nil {
			return 0, err
		}
		if e, ok = s.pt.Lookup(va); !ok {
			return 0, syserr.Invalid("page %v vanished", va)
		}
	}
	if !e.Perm.SupersetOf(need) {
		return 0, syserr.Denied("%s access to %v with %s", need, addr, e.Perm)
	}

	frame := s.frames.Bytes(e.Frame)[addr.PageOffset():]
	var n int
	if write {
		n = copy(frame, p)
		s.pt.SetDirty(va)
	} else {
		n = copy(p, frame)
	}
	return n, nil
}
