package session

import (
	"github.com/srg/mitch/internal/protocol"
)

// Summary is a point-in-time view of a session for listing.
type Summary struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Connected bool           `json:"connected"`
	State     *string        `json:"state"`
	Recording *protocol.Kind `json:"recording"`
	Samples   uint64         `json:"samples"`
	Skipped   uint64         `json:"skipped"`
	LastError string         `json:"last_error,omitempty"`
}

// Summary describes the session. ID is left for the registry to fill in.
// Counters belong to the current recording or, when idle, the last one.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Name:      s.name,
		Address:   s.peripheral.ID(),
		Connected: s.connected,
	}
	if s.state != nil {
		name := s.state.String()
		sum.State = &name
	}
	if s.task != nil && s.task.running() {
		kind := s.task.kind
		sum.Recording = &kind
	}
	if s.last != nil {
		sum.Samples = s.last.samples.Load()
		sum.Skipped = s.last.skipped.Load()
		if err := s.last.Err(); err != nil {
			sum.LastError = err.Error()
		}
	}
	return sum
}
