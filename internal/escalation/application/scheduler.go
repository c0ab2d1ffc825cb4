package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	escalation "coldchain-cloud/internal/escalation/domain"
	"coldchain-cloud/internal/notify"
	"coldchain-cloud/internal/observability/metrics"
)

// AlertSource serves open alerts and applies escalation steps. The
// level guard inside Escalate keeps each step at-most-once across
// scheduler replicas.
type AlertSource interface {
	ListOpen(ctx context.Context) ([]alerts.Alert, error)
	Escalate(ctx context.Context, id string, level int) (bool, error)
}

// PolicyProvider serves a site's escalation ladder.
type PolicyProvider interface {
	PolicyFor(siteID string) escalation.Policy
}

// DispatchLog records notification attempts.
type DispatchLog interface {
	Record(ctx context.Context, d *escalation.Dispatch) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Scheduler walks open alerts up their site's escalation ladder.
// Acknowledged alerts stay where they are; quiet hours hold warnings
// back while criticals always go out.
type Scheduler struct {
	alerts     AlertSource
	policies   PolicyProvider
	channels   *notify.Registry
	dispatches DispatchLog
	clock      Clock
	log        *zap.Logger

	interval        time.Duration
	dispatchTimeout time.Duration
	maxAttempts     int
	retryBackoff    time.Duration
	retryLimit      int

	mu      sync.Mutex
	pending map[string]*pendingDispatch
}

// pendingDispatch is a rung delivery that failed every in-tick attempt
// and is waiting for a later tick.
type pendingDispatch struct {
	alert    alerts.Alert
	level    escalation.Level
	channel  string
	target   string
	attempts int
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithInterval sets how often open alerts are rechecked.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithDispatchTimeout bounds each delivery attempt.
func WithDispatchTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.dispatchTimeout = timeout
		}
	}
}

// WithMaxAttempts caps in-tick delivery attempts per channel and target.
func WithMaxAttempts(attempts int) SchedulerOption {
	return func(s *Scheduler) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithRetryBackoff sets the pause between in-tick delivery attempts.
// The pause grows linearly with the attempt number.
func WithRetryBackoff(backoff time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// WithRetryLimit caps how many ticks a failed rung delivery is
// re-attempted before it is abandoned.
func WithRetryLimit(limit int) SchedulerOption {
	return func(s *Scheduler) {
		if limit > 0 {
			s.retryLimit = limit
		}
	}
}

// NewScheduler wires the escalation scheduler.
func NewScheduler(source AlertSource, policies PolicyProvider, channels *notify.Registry, dispatches DispatchLog, log *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("escalation scheduler: nil alert source")
	}
	if policies == nil {
		return nil, errors.New("escalation scheduler: nil policy provider")
	}
	if channels == nil {
		return nil, errors.New("escalation scheduler: nil channel registry")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		alerts:          source,
		policies:        policies,
		channels:        channels,
		dispatches:      dispatches,
		clock:           systemClock{},
		log:             log,
		interval:        time.Minute,
		dispatchTimeout: 10 * time.Second,
		maxAttempts:     5,
		retryBackoff:    2 * time.Second,
		retryLimit:      5,
		pending:         make(map[string]*pendingDispatch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks, ticking on the configured interval until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx, s.clock.Now()); err != nil {
				s.log.Error("escalation tick failed", zap.Error(err))
			}
		}
	}
}

// Tick advances every open, unacknowledged alert at most one rung up
// its ladder. A level that became due while the scheduler was down is
// caught up one tick at a time. Rung deliveries that failed on earlier
// ticks are re-attempted first, up to the retry limit.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	open, err := s.alerts.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open alerts: %w", err)
	}
	byID := make(map[string]alerts.Alert, len(open))
	for _, alert := range open {
		byID[alert.ID] = alert
	}
	s.redeliver(ctx, byID)
	for _, alert := range open {
		if alert.Status == alerts.StatusAcknowledged {
			continue
		}
		s.advance(ctx, alert, now)
	}
	return nil
}

// redeliver retries parked rung deliveries. A pending entry is dropped
// once it succeeds, once its alert leaves the open set or gets
// acknowledged, or once the retry limit is spent.
func (s *Scheduler) redeliver(ctx context.Context, open map[string]alerts.Alert) {
	s.mu.Lock()
	queue := make(map[string]*pendingDispatch, len(s.pending))
	for key, p := range s.pending {
		queue[key] = p
	}
	s.mu.Unlock()

	for key, p := range queue {
		alert, ok := open[p.alert.ID]
		if !ok || alert.Status == alerts.StatusAcknowledged {
			s.drop(key)
			continue
		}
		channel := s.channels.Get(p.channel)
		if channel == nil {
			s.drop(key)
			continue
		}
		if err := s.deliver(ctx, p.alert, p.level, p.channel, channel, p.target, escalationContent(p.alert, p.level)); err == nil {
			s.drop(key)
			continue
		}
		s.mu.Lock()
		p.attempts++
		exhausted := p.attempts >= s.retryLimit
		if exhausted {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if exhausted {
			s.log.Error("escalation delivery abandoned",
				zap.String("alert_id", p.alert.ID),
				zap.Int("level", p.level.Rank),
				zap.String("channel", p.channel),
				zap.Int("ticks", p.attempts))
		}
	}
}

func (s *Scheduler) drop(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *Scheduler) advance(ctx context.Context, alert alerts.Alert, now time.Time) {
	policy := s.policies.PolicyFor(alert.SiteID)
	level := policy.LevelByRank(alert.EscalationLevel + 1)
	if level == nil {
		return
	}
	if now.Sub(alert.TriggeredAt) < level.After {
		return
	}
	if alert.Severity != alerts.SeverityCritical && policy.InQuietHours(now) {
		return
	}

	advanced, err := s.alerts.Escalate(ctx, alert.ID, level.Rank)
	if err != nil {
		s.log.Error("escalation step failed",
			zap.String("alert_id", alert.ID),
			zap.Int("level", level.Rank),
			zap.Error(err))
		return
	}
	if !advanced {
		return
	}
	s.log.Info("alert escalated",
		zap.String("alert_id", alert.ID),
		zap.String("unit_id", alert.UnitID),
		zap.Int("level", level.Rank))
	s.dispatch(ctx, alert, *level)
}

func (s *Scheduler) dispatch(ctx context.Context, alert alerts.Alert, level escalation.Level) {
	content := escalationContent(alert, level)

	targets := level.Targets
	if len(targets) == 0 {
		targets = []string{""}
	}
	for _, channelName := range level.Channels {
		channel := s.channels.Get(channelName)
		if channel == nil {
			s.log.Warn("unknown escalation channel",
				zap.String("channel", channelName),
				zap.String("alert_id", alert.ID))
			continue
		}
		for _, target := range targets {
			if err := s.deliver(ctx, alert, level, channelName, channel, target, content); err != nil {
				s.park(alert, level, channelName, target)
			}
		}
	}
}

func escalationContent(alert alerts.Alert, level escalation.Level) string {
	return fmt.Sprintf("[Escalation L%d] %s on unit %s (%s), value %.2f, open since %s",
		level.Rank, alert.Type, alert.UnitID, alert.Severity, alert.LastValue,
		alert.TriggeredAt.UTC().Format(time.RFC3339))
}

// park queues a failed rung delivery for the next tick. The level stays
// advanced; only the notification is owed.
func (s *Scheduler) park(alert alerts.Alert, level escalation.Level, channel, target string) {
	if s.retryLimit <= 1 {
		return
	}
	key := fmt.Sprintf("%s|%d|%s|%s", alert.ID, level.Rank, channel, target)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		return
	}
	s.pending[key] = &pendingDispatch{
		alert:    alert,
		level:    level,
		channel:  channel,
		target:   target,
		attempts: 1,
	}
}

func (s *Scheduler) deliver(ctx context.Context, alert alerts.Alert, level escalation.Level, channelName string, channel notify.Channel, target, content string) error {
	started := s.clock.Now()
	attempts := 0
	var lastErr error
	for attempts < s.maxAttempts {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		lastErr = channel.Send(attemptCtx, target, content)
		cancel()
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempts < s.maxAttempts {
			select {
			case <-ctx.Done():
			case <-time.After(s.retryBackoff * time.Duration(attempts)):
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	result := escalation.ResultDelivered
	if lastErr != nil {
		result = escalation.ResultFailed
		s.log.Error("escalation delivery failed",
			zap.String("alert_id", alert.ID),
			zap.String("channel", channelName),
			zap.Int("attempts", attempts),
			zap.Error(lastErr))
	}
	metrics.ObserveEscalation(strconv.Itoa(level.Rank), resultLabel(lastErr), s.clock.Now().Sub(started))
	metrics.IncNotification(channelName, resultLabel(lastErr))

	if s.dispatches == nil {
		return lastErr
	}
	record := &escalation.Dispatch{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		Level:     level.Rank,
		Channel:   channelName,
		Target:    target,
		Result:    result,
		Attempts:  attempts,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.dispatches.Record(ctx, record); err != nil {
		s.log.Warn("dispatch record failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	return lastErr
}

func resultLabel(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
