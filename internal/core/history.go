package core

import "time"

// JobRecord is the outcome of a finished job.
type JobRecord struct {
	ID       string        `json:"id"`
	Kind     JobKind       `json:"kind"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Tables   int           `json:"tables"`
	Rows     int           `json:"rows"`
	Bytes    int64         `json:"bytes"`
	Error    string        `json:"error,omitempty"`
}

func (s *Service) record(rec JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == s.historyCap {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, rec)
}

// Jobs returns finished jobs, most recent first.
func (s *Service) Jobs() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobRecord, len(s.history))
	for i, rec := range s.history {
		out[len(out)-1-i] = rec
	}
	return out
}
