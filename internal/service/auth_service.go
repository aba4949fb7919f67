package service

import (
	"context"
	"crypto/subtle"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/auth"
	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// AuthService authenticates staff API callers against the configured
// staff account.
type AuthService struct {
	tokenMgr     *auth.TokenManager
	username     string
	passwordHash string
	logger       *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, clk clock.Clock, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		tokenMgr:     auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes, clk),
		username:     cfg.StaffUsername,
		passwordHash: cfg.StaffPasswordHash,
		logger:       logger,
	}
}

// LoginStaff authenticates staff and returns a role-bearing token.
func (s *AuthService) LoginStaff(_ context.Context, username, password string) (*domain.StaffMember, string, time.Time, error) {
	if s.passwordHash == "" {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("staff login is disabled")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	if err := auth.ComparePassword(s.passwordHash, password); err != nil || !userOK {
		s.logger.Info("staff login rejected", zap.String("username", username))
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}

	staff := &domain.StaffMember{ID: s.username, Name: s.username, Role: domain.StaffRoleAdmin}
	token, exp, err := s.tokenMgr.GenerateToken(*staff)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return staff, token, exp, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
