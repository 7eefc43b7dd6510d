package resilience

import "sync"

// BreakerSet hands out one Breaker per key, created on first use with the
// same options.
type BreakerSet struct {
	mu       sync.Mutex
	opts     BreakerOpts
	breakers map[string]*Breaker
	onChange func(key string, from, to State)
}

// NewBreakerSet creates an empty set. onChange may be nil.
func NewBreakerSet(opts BreakerOpts, onChange func(key string, from, to State)) *BreakerSet {
	return &BreakerSet{opts: opts, breakers: make(map[string]*Breaker), onChange: onChange}
}

// Get returns the breaker for key.
func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	opts := s.opts
	if s.onChange != nil {
		opts.OnStateChange = func(from, to State) { s.onChange(key, from, to) }
	}
	b := NewBreaker(opts)
	s.breakers[key] = b
	return b
}

// States reports the current state of every breaker in the set.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	bs := make(map[string]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		bs[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]State, len(bs))
	for k, b := range bs {
		out[k] = b.State()
	}
	return out
}
