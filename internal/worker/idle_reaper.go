package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/repository"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// TicketCloser closes one ticket. *service.LifecycleService implements it.
type TicketCloser interface {
	FinalizeClose(ctx context.Context, channelID string, actor domain.Actor, reason domain.CloseReason) (domain.ClosedRecord, error)
}

// IdleReaper periodically closes tickets without recent activity.
type IdleReaper struct {
	store     repository.TicketStore
	closer    TicketCloser
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	threshold time.Duration
	interval  time.Duration
	retry     time.Duration
}

// ReaperDependencies bundles collaborators for the reaper.
type ReaperDependencies struct {
	Store   repository.TicketStore
	Closer  TicketCloser
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewIdleReaper constructs the reaper. A zero threshold disables it.
func NewIdleReaper(cfg config.ReaperConfig, threshold time.Duration, deps ReaperDependencies) *IdleReaper {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	retry := time.Duration(cfg.RetrySeconds) * time.Second
	if retry <= 0 {
		retry = 5 * time.Minute
	}
	return &IdleReaper{
		store:     deps.Store,
		closer:    deps.Closer,
		clock:     clk,
		logger:    logger,
		metrics:   deps.Metrics,
		threshold: threshold,
		interval:  interval,
		retry:     retry,
	}
}

// Run sweeps immediately and then once per interval until ctx is done. A
// sweep with failures is retried after the shorter retry delay.
func (r *IdleReaper) Run(ctx context.Context) {
	if r.threshold <= 0 {
		r.logger.Info("auto-close disabled; idle reaper not started")
		return
	}
	r.logger.Info("idle reaper started",
		zap.Duration("threshold", r.threshold),
		zap.Duration("interval", r.interval))

	for {
		wait := r.interval
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("idle sweep failed", zap.Error(err), zap.Duration("retry_in", r.retry))
			wait = r.retry
		}
		select {
		case <-ctx.Done():
			r.logger.Info("idle reaper stopped")
			return
		case <-r.clock.After(wait):
		}
	}
}

// Sweep closes every ticket idle for at least the threshold. Tickets are
// handled one by one; a failing ticket does not stop the others.
func (r *IdleReaper) Sweep(ctx context.Context) (closed int, err error) {
	if r.threshold <= 0 {
		return 0, nil
	}
	var errs []error
	for _, ticket := range r.store.IdleTickets(r.threshold) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		switch err := r.closeOne(ctx, ticket); {
		case err == nil:
			closed++
		case errors.Is(err, apperrors.ErrNotIdle), errors.Is(err, apperrors.ErrNotFound):
			r.logger.Debug("idle ticket skipped", zap.String("ticket_channel", ticket.Channel.ID), zap.Error(err))
		default:
			r.logger.Error("auto-close failed", zap.String("ticket_channel", ticket.Channel.ID), zap.Error(err))
			r.metrics.RecordError("auto_close", apperrors.ToDomainError(err).Code)
			errs = append(errs, err)
		}
	}
	if closed > 0 {
		r.logger.Info("idle sweep closed tickets", zap.Int("closed", closed))
	}
	return closed, errors.Join(errs...)
}

func (r *IdleReaper) closeOne(ctx context.Context, ticket domain.Ticket) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("auto-close %s panicked: %v", ticket.Channel.ID, rec)
		}
	}()
	_, err = r.closer.FinalizeClose(ctx, ticket.Channel.ID, domain.SystemActor(), domain.CloseReasonAuto)
	return err
}
