package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically checks every unit for uplink silence. Push-based
// evaluation cannot notice a sensor that stopped talking; this loop can.
type Sweeper struct {
	service  *Service
	interval time.Duration
	clock    Clock
	log      *zap.Logger
}

// NewSweeper constructs the liveness sweeper.
func NewSweeper(service *Service, interval time.Duration, log *zap.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if service == nil {
		return nil, errors.New("sweeper: nil service")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{service: service, interval: interval, clock: systemClock{}, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperClock overrides the wall clock.
func WithSweeperClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Run blocks, sweeping on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.service.SweepOnce(ctx, s.clock.Now()); err != nil {
				s.log.Error("liveness sweep failed", zap.Error(err))
			}
		}
	}
}
