// Package deposit polls the back office for new deposit requests. Deposits
// are not pushed over the hub, so this job feeds the router's deposit path.
package deposit

import (
	"context"
	"sync"
	"time"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

// Source lists deposit requests created in [from, to].
type Source interface {
	ListDepositRequests(ctx context.Context, from, to time.Time) ([]notification.DepositObject, error)
}

// Handler applies dedup and recency rules and emits alerts.
type Handler interface {
	HandleDeposits(ctx context.Context, pollTime time.Time, objects []notification.DepositObject) int
}

// Status describes the last poll for the admin API.
type Status struct {
	LastPollAt          time.Time `json:"last_poll_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastFetched         int       `json:"last_fetched"`
	LastEmitted         int       `json:"last_emitted"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Poller is one poll per Execute; the scheduler supplies the interval and
// a failed poll simply waits for the next tick.
type Poller struct {
	source  Source
	handler Handler
	logger  logger.Interface
	now     func() time.Time

	mu     sync.Mutex
	status Status
}

func NewPoller(source Source, handler Handler, log logger.Interface) *Poller {
	return &Poller{
		source:  source,
		handler: handler,
		logger:  log.Named("deposit-poller"),
		now:     biztime.NowUTC,
	}
}

// Execute polls the current business day and returns the number of alerts
// emitted.
func (p *Poller) Execute(ctx context.Context) (int, error) {
	pollTime := p.now()
	from, to := biztime.DayBounds(pollTime)

	objects, err := p.source.ListDepositRequests(ctx, from, to)
	if err != nil {
		p.mu.Lock()
		p.status.LastPollAt = pollTime
		p.status.ConsecutiveFailures++
		p.status.LastError = err.Error()
		failures := p.status.ConsecutiveFailures
		p.mu.Unlock()

		p.logger.Warnw("deposit poll failed", "error", err, "consecutive_failures", failures)
		return 0, err
	}

	emitted := p.handler.HandleDeposits(ctx, pollTime, objects)

	p.mu.Lock()
	p.status = Status{
		LastPollAt:    pollTime,
		LastSuccessAt: pollTime,
		LastFetched:   len(objects),
		LastEmitted:   emitted,
	}
	p.mu.Unlock()

	return emitted, nil
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
