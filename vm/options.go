package vm

import (
	"log/slog"

	"github.com/hupe1980/kcache/internal/page"
)

// Option configures a Space.
type Option func(*Space)

// WithLogger sets the logger for the address space.
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) {
		s.logger = l
	}
}

// WithMetricsObserver sets the metrics observer for the address space.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(s *Space) {
		if o != nil {
			s.metrics = o
		}
	}
}

// WithTop sets the exclusive upper bound below which regions are placed.
// It is rounded down to a page boundary.
func WithTop(top page.Addr) Option {
	return func(s *Space) {
		s.top = top.RoundDown()
	}
}
