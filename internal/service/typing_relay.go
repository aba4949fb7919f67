package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/transport"
)

// TypingRelay mirrors typing indicators across a ticket. At most one relay
// per ticket and direction is active; it ends after the window.
type TypingRelay struct {
	store     repository.TicketStore
	transport transport.Transport
	clock     clock.Clock
	window    time.Duration
	logger    *zap.Logger
}

// NewTypingRelay constructs the relay.
func NewTypingRelay(store repository.TicketStore, tr transport.Transport, clk clock.Clock, window time.Duration, logger *zap.Logger) *TypingRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &TypingRelay{store: store, transport: tr, clock: clk, window: window, logger: logger}
}

// Relay shows dir's typing on the other side of ticket. It reports false
// when a relay for the same direction is already active.
func (r *TypingRelay) Relay(ctx context.Context, ticket domain.Ticket, dir domain.TypingDirection) bool {
	channelID := ticket.Channel.ID
	if !r.store.TryMarkTyping(channelID, dir) {
		return false
	}
	r.clock.AfterFunc(r.window, func() {
		r.store.ClearTyping(channelID, dir)
	})

	var err error
	if dir == domain.TypingUser {
		err = r.transport.TriggerTyping(ctx, channelID)
	} else {
		err = r.transport.TriggerDirectTyping(ctx, ticket.Owner.ID)
	}
	if err != nil {
		r.logger.Debug("typing relay failed", zap.String("ticket_channel", channelID), zap.String("direction", string(dir)), zap.Error(err))
	}
	return true
}
