// Package keepalive models the execution-keepalive token a poll batch holds
// while it runs, so the host can keep the process alive (or a gauge visible)
// until every exit path has released it.
package keepalive

import "sync"

type Source struct {
	mu       sync.Mutex
	held     int
	onChange func(held int)
}

// NewSource creates a token source. onChange, if non-nil, is called with the
// number of outstanding tokens after every acquire and release.
func NewSource(onChange func(held int)) *Source {
	return &Source{onChange: onChange}
}

func (s *Source) Acquire() *Token {
	s.mu.Lock()
	s.held++
	held := s.held
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(held)
	}
	return &Token{src: s}
}

// Held reports the number of outstanding tokens.
func (s *Source) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

type Token struct {
	src  *Source
	once sync.Once
}

// Release returns the token. Safe to call more than once.
func (t *Token) Release() {
	t.once.Do(func() {
		t.src.mu.Lock()
		t.src.held--
		held := t.src.held
		t.src.mu.Unlock()
		if t.src.onChange != nil {
			t.src.onChange(held)
		}
	})
}
