package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vehicast/relay/pkg/protocol"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnActive      = errors.New("a turn is already in flight for this session")
)

// session holds the relay-side conversational state for one session_id.
type session struct {
	id         string
	turns      []protocol.Turn
	inFlight   bool
	lastActive time.Time
}

// Store is the sole owner of mutable per-session state. The dispatcher
// is its only writer; the completion bridge never touches it directly.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore bootstraps the in-memory session store. Sessions idle for
// longer than ttl are reclaimed by Run.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Ensure returns the session for id, minting a new one when id is empty
// or unknown. A session lost to eviction or a relay restart is replaced
// transparently. The second result reports whether a session was minted.
func (s *Store) Ensure(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.lastActive = s.now()
			return sess.id, false
		}
	}

	sess := &session{
		id:         uuid.NewString(),
		turns:      make([]protocol.Turn, 0, 16),
		lastActive: s.now(),
	}
	s.sessions[sess.id] = sess
	return sess.id, true
}

// BeginTurn marks the session's single turn slot as occupied. It fails
// with ErrTurnActive while a previous turn is still streaming, so delta
// frames from two turns of one session can never interleave.
func (s *Store) BeginTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.inFlight {
		return ErrTurnActive
	}
	sess.inFlight = true
	sess.lastActive = s.now()
	return nil
}

// EndTurn clears the in-flight marker regardless of the turn's outcome.
func (s *Store) EndTurn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.inFlight = false
		sess.lastActive = s.now()
	}
}

// AppendTurn adds one utterance to the session transcript.
func (s *Store) AppendTurn(id string, turn protocol.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.turns = append(sess.turns, turn)
	sess.lastActive = s.now()
	return nil
}

// ReplaceHistory swaps the stored transcript for a client-supplied one.
// Turns with roles outside user/assistant are dropped.
func (s *Store) ReplaceHistory(id string, turns []protocol.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	replaced := make([]protocol.Turn, 0, len(turns))
	for _, turn := range turns {
		if protocol.ValidRole(turn.Role) {
			replaced = append(replaced, turn)
		}
	}
	sess.turns = replaced
	sess.lastActive = s.now()
	return nil
}

// History returns a copy of the session transcript.
func (s *Store) History(id string) ([]protocol.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]protocol.Turn, len(sess.turns))
	copy(copied, sess.turns)
	return copied, nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run sweeps idle sessions until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.Sweep(); evicted > 0 {
				log.Printf("[session] evicted %d idle sessions", evicted)
			}
		}
	}
}

// Sweep removes sessions idle past the TTL and returns how many were
// evicted. Sessions with a turn in flight are always kept.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.inFlight {
			continue
		}
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (s *Store) sweepInterval() time.Duration {
	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
