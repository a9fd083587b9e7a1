// Package swap holds the observable state of the swap being executed and the
// orchestrator that drives it through wrap, approve, sign and submit.
package swap

import (
	"sync"
	"time"

	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/hub"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/google/uuid"
)

const (
	// CircuitThreshold is the failure count the breaker must exceed.
	CircuitThreshold = 2
	// DefaultResetDelay lets a final success or failure stay visible after
	// the wizard closes.
	DefaultResetDelay = 200 * time.Millisecond
)

type Status string

const (
	StatusIdle       Status = ""
	StatusInProgress Status = "loading"
	StatusSucceeded  Status = "success"
	StatusErrored    Status = "failed"
)

// Session is a snapshot of the swap being executed. A fresh one starts on
// every Confirm.
type Session struct {
	ID           string               `json:"id,omitempty"`
	FromToken    *token.Token         `json:"from_token,omitempty"`
	ToToken      *token.Token         `json:"to_token,omitempty"`
	FromAmount   string               `json:"from_amount,omitempty"`
	FromTokenUSD string               `json:"from_token_usd,omitempty"`
	ToTokenUSD   string               `json:"to_token_usd,omitempty"`
	DexOut       string               `json:"dex_out,omitempty"`
	Quote        *hub.Quote           `json:"quote,omitempty"`
	Steps        Steps                `json:"steps"`
	Status       Status               `json:"status,omitempty"`
	Error        string               `json:"error,omitempty"`
	TxHash       string               `json:"tx_hash,omitempty"`
	OnChain      *chain.ReceiptResult `json:"on_chain,omitempty"`
	Failures     int                  `json:"failures"`
	CircuitOpen  bool                 `json:"circuit_open"`
	Wizard       bool                 `json:"wizard_visible"`

	DexFallback func()              `json:"-"`
	OnSuccess   func(txHash string) `json:"-"`
}

// ConfirmArgs is what the host knows when the user confirms a swap.
type ConfirmArgs struct {
	FromToken    token.Token
	ToToken      token.Token
	FromAmount   string
	FromTokenUSD string
	ToTokenUSD   string
	DexOut       string
	Quote        *hub.Quote
	DexFallback  func()
	OnSuccess    func(txHash string)
}

// Store is the single source of truth for the current session. Failure
// counting spans sessions for the life of the Store.
type Store struct {
	mu         sync.RWMutex
	session    Session
	failures   int
	resetDelay time.Duration
	resetTimer *time.Timer
	subs       map[int]chan Session
	nextSub    int
	metrics    *metrics.Metrics
}

func NewStore(m *metrics.Metrics) *Store {
	return &Store{resetDelay: DefaultResetDelay, subs: map[int]chan Session{}, metrics: m}
}

// WithResetDelay overrides the grace period before a closed wizard resets.
func (s *Store) WithResetDelay(d time.Duration) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetDelay = d
	return s
}

func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Session {
	out := s.session
	out.Steps = s.session.Steps.clone()
	out.Failures = s.failures
	out.CircuitOpen = s.failures > CircuitThreshold
	return out
}

// Subscribe delivers the latest snapshot after every change. Slow readers
// only see the most recent one.
func (s *Store) Subscribe() (<-chan Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Session, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Confirm starts a new session with the wizard open.
func (s *Store) Confirm(args ConfirmArgs) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopResetLocked()
	from, to := args.FromToken, args.ToToken
	s.session = Session{
		ID:           uuid.NewString(),
		FromToken:    &from,
		ToToken:      &to,
		FromAmount:   args.FromAmount,
		FromTokenUSD: args.FromTokenUSD,
		ToTokenUSD:   args.ToTokenUSD,
		DexOut:       args.DexOut,
		Quote:        args.Quote,
		Steps:        NewSteps(nil),
		Wizard:       true,
		DexFallback:  args.DexFallback,
		OnSuccess:    args.OnSuccess,
	}
	s.publishLocked()
	return s.snapshotLocked()
}

// SetQuote replaces the quote of the open session.
func (s *Store) SetQuote(q *hub.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Quote = q
	s.publishLocked()
}

// CloseWizard hides the wizard and, unless a swap is running, resets the
// session after the grace delay.
func (s *Store) CloseWizard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeWizardLocked()
}

// closeWizard is CloseWizard for session id only; it is a no-op once a newer
// Confirm replaced that session.
func (s *Store) closeWizard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID != id {
		return
	}
	s.closeWizardLocked()
}

func (s *Store) closeWizardLocked() {
	s.session.Wizard = false
	s.publishLocked()
	if s.session.Status == StatusInProgress {
		return
	}
	s.stopResetLocked()
	id := s.session.ID
	s.resetTimer = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.session.ID != id || s.session.Wizard || s.session.Status == StatusInProgress {
			return
		}
		s.session = Session{Steps: NewSteps(nil)}
		s.resetTimer = nil
		s.publishLocked()
	})
}

func (s *Store) stopResetLocked() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

func (s *Store) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

func (s *Store) CircuitOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures > CircuitThreshold
}

// RecordFailure counts a failed hub swap.
func (s *Store) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.metrics.SetCircuitOpen(s.failures > CircuitThreshold)
	s.publishLocked()
}

// ResetCircuit clears the failure count and closes the breaker.
func (s *Store) ResetCircuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.metrics.SetCircuitOpen(false)
	s.publishLocked()
}

// update mutates the session with id, or returns errSessionReplaced when a
// newer Confirm replaced it.
func (s *Store) update(id string, mutate func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID != id {
		return errSessionReplaced
	}
	if err := mutate(&s.session); err != nil {
		return err
	}
	s.publishLocked()
	return nil
}

func (s *Store) start(id string, steps []Step) error {
	return s.update(id, func(sess *Session) error {
		sess.Steps = NewSteps(steps)
		sess.Status = StatusInProgress
		sess.Error = ""
		sess.TxHash = ""
		sess.OnChain = nil
		return nil
	})
}

func (s *Store) beginStep(id string, step Step) error {
	return s.update(id, func(sess *Session) error { return sess.Steps.Begin(step) })
}

func (s *Store) finishStep(id string, step Step, ok bool) error {
	return s.update(id, func(sess *Session) error { return sess.Steps.Finish(step, ok) })
}

// fail marks session id as errored and counts the failure. It reports false,
// counting nothing, when the session was replaced.
func (s *Store) fail(id, msg string) bool {
	err := s.update(id, func(sess *Session) error {
		sess.Status = StatusErrored
		sess.Error = msg
		return nil
	})
	if err != nil {
		return false
	}
	s.RecordFailure()
	return true
}

func (s *Store) succeed(id, txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ID == id {
		s.session.Status = StatusSucceeded
		s.session.TxHash = txHash
	}
	s.failures = 0
	s.metrics.SetCircuitOpen(false)
	s.publishLocked()
}

func (s *Store) setOnChain(id string, res *chain.ReceiptResult) {
	_ = s.update(id, func(sess *Session) error {
		sess.OnChain = res
		return nil
	})
}
