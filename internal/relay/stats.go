package relay

import (
	"sync"
	"time"
)

// Stats counts pipeline outcomes. Aggregates only; the relay keeps no
// per-message record.
type Stats struct {
	mu       sync.Mutex
	received uint64
	relayed  uint64
	filtered uint64
	dropped  uint64
	byReason map[string]uint64
	since    time.Time
}

// StatsSnapshot is a point-in-time copy, also the unit of persistence.
type StatsSnapshot struct {
	At       time.Time         `json:"at"`
	Since    time.Time         `json:"since"`
	Received uint64            `json:"received"`
	Relayed  uint64            `json:"relayed"`
	Filtered uint64            `json:"filtered"`
	Dropped  uint64            `json:"dropped"`
	ByReason map[string]uint64 `json:"by_reason,omitempty"`
}

func NewStats() *Stats {
	return &Stats{byReason: map[string]uint64{}, since: time.Now()}
}

func (s *Stats) Received() { s.bump(&s.received, "") }
func (s *Stats) Relayed()  { s.bump(&s.relayed, "") }

func (s *Stats) Filtered(reason string) { s.bump(&s.filtered, reason) }
func (s *Stats) Dropped(reason string)  { s.bump(&s.dropped, reason) }

func (s *Stats) bump(counter *uint64, reason string) {
	s.mu.Lock()
	*counter++
	if reason != "" {
		s.byReason[reason]++
	}
	s.mu.Unlock()
}

// Restore seeds counters from a persisted snapshot (called once at
// startup, before the pipeline runs).
func (s *Stats) Restore(snap StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = snap.Received
	s.relayed = snap.Relayed
	s.filtered = snap.Filtered
	s.dropped = snap.Dropped
	if !snap.Since.IsZero() {
		s.since = snap.Since
	}
	s.byReason = map[string]uint64{}
	for k, v := range snap.ByReason {
		s.byReason[k] = v
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	by := make(map[string]uint64, len(s.byReason))
	for k, v := range s.byReason {
		by[k] = v
	}
	return StatsSnapshot{
		At:       time.Now(),
		Since:    s.since,
		Received: s.received,
		Relayed:  s.relayed,
		Filtered: s.filtered,
		Dropped:  s.dropped,
		ByReason: by,
	}
}
