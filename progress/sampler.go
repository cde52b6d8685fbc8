package progress

import "sync"

// PercentSampler forwards a ratio only when its integer percentage changes.
// It keeps chatty engines from flooding message channels.
type PercentSampler struct {
	mu   sync.Mutex
	last int
	emit func(percent int)
}

// NewPercentSampler returns a sampler that calls emit with each new percentage.
func NewPercentSampler(emit func(percent int)) *PercentSampler {
	return &PercentSampler{last: -1, emit: emit}
}

// Observe records ratio and emits its percentage if it differs from the last one.
func (s *PercentSampler) Observe(ratio float64) {
	pct := Percent(ratio)
	s.mu.Lock()
	defer s.mu.Unlock()
	if pct == s.last {
		return
	}
	s.last = pct
	if s.emit != nil {
		s.emit(pct)
	}
}
