package signalr

import (
	"context"
	"time"

	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Session is the part of Manager the supervisors depend on.
type Session interface {
	State() ConnectionState
	SendPing() error
	PingSnapshot() PingSnapshot
	Reconnect(ctx context.Context) bool
}

type HeartbeatConfig struct {
	Tick         time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// HeartbeatSupervisor pings the hub and reconnects on prolonged silence.
// Silence only counts once the session has produced at least one pong.
type HeartbeatSupervisor struct {
	session Session
	cfg     HeartbeatConfig
	now     func() time.Time
	log     logger.Interface
}

func NewHeartbeatSupervisor(session Session, cfg HeartbeatConfig, log logger.Interface) *HeartbeatSupervisor {
	return &HeartbeatSupervisor{
		session: session,
		cfg:     cfg,
		now:     time.Now,
		log:     log.Named("heartbeat"),
	}
}

// Run ticks until ctx is done.
func (h *HeartbeatSupervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.check(ctx, h.now())
		}
	}
}

// check runs one tick. It returns true when it triggered a reconnect.
func (h *HeartbeatSupervisor) check(ctx context.Context, now time.Time) bool {
	if h.session.State() != StateConnected {
		return false
	}

	snap := h.session.PingSnapshot()
	if now.Sub(snap.LastPing) >= h.cfg.PingInterval {
		if err := h.session.SendPing(); err != nil {
			// The next tick retries; only pong silence reconnects.
			h.log.Warnw("ping send failed", "error", err)
		}
	}

	if !snap.PongSeen {
		return false
	}
	silence := now.Sub(snap.LastPong)
	if silence <= h.cfg.PongTimeout {
		return false
	}

	h.log.Warnw("pong timeout, reconnecting",
		"silence", silence.Round(time.Second).String(),
		"timeout", h.cfg.PongTimeout.String(),
	)
	h.session.Reconnect(ctx)
	return true
}
