package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NplusM420/think-marketplace/internal/logger"
)

// ExportObserver is told the result of every destination write.
type ExportObserver interface {
	ObserveExport(destination string, err error)
}

// Scheduler exports the catalog to its destinations on a fixed interval.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	observer     ExportObserver
	log          logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithObserver reports per-destination results.
func WithObserver(o ExportObserver) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler exports from src to destinations every interval.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		log:          logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one export immediately, then one per tick until Stop or until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for an in-flight export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("Catalog export failed", logger.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("Catalog export failed", logger.Error(err))
			}
		}
	}
}

// RunOnce builds one snapshot and writes it to every destination
// concurrently. A failing destination does not stop the others; all
// failures are joined into the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		return fmt.Errorf("export catalog: %w", err)
	}
	data := buf.Bytes()

	errs := make([]error, len(s.destinations))
	var g errgroup.Group
	for i, dest := range s.destinations {
		g.Go(func() error {
			err := dest.Write(ctx, data)
			if s.observer != nil {
				s.observer.ObserveExport(dest.Name(), err)
			}
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", dest.Name(), err)
				s.log.Warn("Catalog destination write failed",
					logger.String("destination", dest.Name()),
					logger.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info("Catalog exported",
		logger.Int("destinations", len(s.destinations)),
		logger.Int("bytes", len(data)),
	)
	return nil
}
