package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/transport"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

const welcomeDescription = "Welcome to our support system! Please select a ticket category below to create a new ticket."

// WelcomeService sends the category menu to users without a ticket, at
// most once per cooldown.
type WelcomeService struct {
	store     repository.TicketStore
	transport transport.Transport
	catalog   *domain.CategoryCatalog
	clock     clock.Clock
	logger    *zap.Logger
	cooldown  time.Duration
}

// NewWelcomeService constructs the service.
func NewWelcomeService(store repository.TicketStore, tr transport.Transport, catalog *domain.CategoryCatalog, clk clock.Clock, cooldown time.Duration, logger *zap.Logger) *WelcomeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &WelcomeService{
		store:     store,
		transport: tr,
		catalog:   catalog,
		clock:     clk,
		logger:    logger,
		cooldown:  cooldown,
	}
}

// MaybeGreet sends the greeting unless userID was greeted within the
// cooldown. A failed send does not consume the cooldown.
func (s *WelcomeService) MaybeGreet(ctx context.Context, userID string) (bool, error) {
	previous, ok := s.store.ClaimGreeting(userID, s.cooldown)
	if !ok {
		s.logger.Debug("greeting suppressed", zap.String("user_id", userID))
		return false, nil
	}
	if _, err := s.transport.SendDirectMessage(ctx, userID, welcomeMenu(s.catalog, welcomeDescription, s.clock.Now())); err != nil {
		s.store.RestoreGreeting(userID, previous)
		s.logger.Error("send greeting failed", zap.String("user_id", userID), zap.Error(err))
		return false, apperrors.NewTransportFailure("send_greeting", err)
	}
	return true, nil
}
