package vm

import "time"

// MetricsObserver receives address-space events.
type MetricsObserver interface {
	OnMap(err error)
	OnUnmap(err error)
	OnFault(duration time.Duration, err error)
	// OnWriteBack is called for every page written back on unmap.
	OnWriteBack(bytes int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnMap(error)                 {}
func (NoopMetricsObserver) OnUnmap(error)               {}
func (NoopMetricsObserver) OnFault(time.Duration, error) {}
func (NoopMetricsObserver) OnWriteBack(int)             {}
