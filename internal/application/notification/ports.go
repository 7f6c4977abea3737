package notification

import (
	"context"
	"sync"

	"github.com/bowatch/bowatch/internal/domain/notification"
)

// Sink delivers a formatted message to every destination. Failures for one
// destination must not stop delivery to the others.
type Sink interface {
	Send(ctx context.Context, destinations []string, text string) error
}

// ProcessedIDSet remembers which external ids of one channel were already
// notified. MarkIfNew reports true exactly once per id.
type ProcessedIDSet interface {
	MarkIfNew(ctx context.Context, id string) (bool, error)
}

// Repository persists emitted records.
type Repository interface {
	Save(ctx context.Context, rec *notification.Record) error
}

// LivenessRecorder is told about keep-alives and invocation results.
type LivenessRecorder interface {
	MarkAlive()
}

// Metrics receives router counters.
type Metrics interface {
	IncNotification(channel, outcome string)
	IncDispatch(result string)
}

// Outcomes recorded per inbound candidate.
const (
	OutcomeEmitted   = "emitted"
	OutcomeDuplicate = "duplicate"
	OutcomeState     = "suppressed_state"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeInvalid   = "parse_error"
)

type nopMetrics struct{}

func (nopMetrics) IncNotification(string, string) {}
func (nopMetrics) IncDispatch(string)             {}

// Destinations is the mutable set of chat ids alerts go to.
type Destinations struct {
	mu  sync.RWMutex
	ids []string
}

func NewDestinations(ids []string) *Destinations {
	d := &Destinations{}
	d.Replace(ids)
	return d
}

// Replace swaps the whole set, dropping blanks and duplicates.
func (d *Destinations) Replace(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	d.mu.Lock()
	d.ids = clean
	d.mu.Unlock()
	return append([]string(nil), clean...)
}

func (d *Destinations) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.ids...)
}
