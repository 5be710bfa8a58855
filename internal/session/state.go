// Package session tracks the verification state a zero-trust PDP keeps
// between events: per-user sessions, per-device posture and a short access
// history for lateral-movement detection.
//
// All public methods are safe for concurrent use.
package session

import (
	"math"
	"sync"
)

// Session is the verification record of one user.
type Session struct {
	StartEvent  int  `json:"start_event"`
	LastEvent   int  `json:"last_event"`
	MFAVerified bool `json:"mfa_verified"`
}

// Config holds session state configuration.
type Config struct {
	// Timeout is the number of events after which a session must re-verify. Default: 100.
	Timeout int

	// PostureDecay is the per-event device posture decay under assume-breach. Default: 0.05.
	PostureDecay float64

	// PostureFloor bounds decayed posture from below. Default: 0.3.
	PostureFloor float64

	// HistorySize is how many recent service accesses are kept per user. Default: 20.
	HistorySize int

	// PatternWindow and PatternDistinct define lateral movement: at least
	// PatternDistinct different services within the last PatternWindow accesses.
	// Defaults: 5 and 4.
	PatternWindow   int
	PatternDistinct int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:         100,
		PostureDecay:    0.05,
		PostureFloor:    0.3,
		HistorySize:     20,
		PatternWindow:   5,
		PatternDistinct: 4,
	}
}

// State tracks sessions, posture and access history for one PDP instance.
type State struct {
	mu       sync.RWMutex
	config   Config
	events   int
	sessions map[int]*Session
	posture  map[int]float64
	history  map[int][]string
}

// NewState creates a new session state tracker.
func NewState(config Config) *State {
	return &State{
		config:   config,
		sessions: make(map[int]*Session),
		posture:  make(map[int]float64),
		history:  make(map[int][]string),
	}
}

// Tick advances the event counter and returns its new value.
func (s *State) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	return s.events
}

// Events returns the number of events seen.
func (s *State) Events() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

// Lookup returns a copy of the user's session.
func (s *State) Lookup(userID int) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Expired reports whether a session started more than Timeout events ago.
func (s *State) Expired(sess Session, now int) bool {
	return now-sess.StartEvent > s.config.Timeout
}

// Start opens (or replaces) the user's session at event now.
func (s *State) Start(userID, now int, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = &Session{StartEvent: now, LastEvent: now, MFAVerified: verified}
}

// Touch records activity on an existing session.
func (s *State) Touch(userID, now int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		sess.LastEvent = now
	}
}

// Posture returns the posture of a device. On first sight it stores and
// returns initial.
func (s *State) Posture(deviceID int, initial float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.posture[deviceID]
	if !ok {
		v = initial
		s.posture[deviceID] = v
	}
	return v
}

// DecayPosture lowers a device's posture from score by PostureDecay, never
// below PostureFloor.
func (s *State) DecayPosture(deviceID int, score float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := math.Max(s.config.PostureFloor, score*(1-s.config.PostureDecay))
	s.posture[deviceID] = v
	return v
}

// RecordAccess appends service to the user's history and reports whether
// the most recent window looks like lateral movement.
func (s *State) RecordAccess(userID int, service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[userID], service)
	if n := s.config.HistorySize; n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	s.history[userID] = h

	w := s.config.PatternWindow
	if w <= 0 || len(h) < w {
		return false
	}
	distinct := make(map[string]struct{}, w)
	for _, svc := range h[len(h)-w:] {
		distinct[svc] = struct{}{}
	}
	return len(distinct) >= s.config.PatternDistinct
}

// History returns a copy of the user's recent accesses.
func (s *State) History(userID int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.history[userID]...)
}
