package signalr

import (
	"context"
	"time"

	"github.com/bowatch/bowatch/internal/shared/logger"
)

// TokenRefresher is the part of Manager the refresh supervisor depends on.
type TokenRefresher interface {
	State() ConnectionState
	RefreshToken(ctx context.Context) error
	Reconnect(ctx context.Context) bool
}

// TokenRefreshSupervisor renegotiates on a fixed interval. The provider has
// no in-place token swap, so a fresh token on a live session means a new
// socket.
type TokenRefreshSupervisor struct {
	target   TokenRefresher
	interval time.Duration
	log      logger.Interface
}

func NewTokenRefreshSupervisor(target TokenRefresher, interval time.Duration, log logger.Interface) *TokenRefreshSupervisor {
	return &TokenRefreshSupervisor{
		target:   target,
		interval: interval,
		log:      log.Named("token-refresh"),
	}
}

func (s *TokenRefreshSupervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *TokenRefreshSupervisor) refresh(ctx context.Context) {
	if err := s.target.RefreshToken(ctx); err != nil {
		s.log.Warnw("token refresh failed, keeping current session", "error", err)
		return
	}
	if s.target.State() != StateConnected {
		s.log.Debugw("token refreshed while not connected, next connect will use it")
		return
	}
	s.log.Infow("token refreshed, cycling session")
	s.target.Reconnect(ctx)
}
