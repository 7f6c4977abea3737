package notification

import (
	"sync"

	"github.com/bowatch/bowatch/internal/domain/notification"
)

// History keeps the most recent emitted records, oldest evicted first.
type History struct {
	mu       sync.Mutex
	items    []notification.Record
	capacity int
	total    map[notification.Channel]uint64
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{
		items:    make([]notification.Record, 0, capacity),
		capacity: capacity,
		total:    make(map[notification.Channel]uint64),
	}
}

func (h *History) Add(rec notification.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, rec)
	h.total[rec.Channel]++
}

// Recent returns up to limit records, newest first. An empty channel
// matches both channels; limit <= 0 means all retained records.
func (h *History) Recent(channel notification.Channel, limit int) []notification.Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]notification.Record, 0, len(h.items))
	for i := len(h.items) - 1; i >= 0; i-- {
		if channel != "" && h.items[i].Channel != channel {
			continue
		}
		out = append(out, h.items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Totals counts every record ever added, including evicted ones.
func (h *History) Totals() map[notification.Channel]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[notification.Channel]uint64, len(h.total))
	for k, v := range h.total {
		out[k] = v
	}
	return out
}
