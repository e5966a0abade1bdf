package preview

import "sync"

// FetchRequest is the effect of a transition: fetch p and tag the result
// with Attempt.
type FetchRequest struct {
	Attempt uint64
	Params  Params
}

// Derive is the pure transition for a parameter change. prevState is nil
// before the first render. Identical params keep the previous state and
// request nothing. Params that fail the gate for secret go straight to
// Unauthorized with no request. Any other change moves to Loading and
// requests a fetch of next.
func Derive(secret string, prev, next Params, prevState *ViewState) (ViewState, *FetchRequest) {
	if prevState != nil && prev == next {
		return *prevState, nil
	}
	if !Authorize(secret, next) {
		return UnauthorizedState(), nil
	}
	return LoadingState(), &FetchRequest{Params: next}
}

// Session holds the state of one page view. It numbers attempts so that a
// result is only accepted for the attempt that is current when it arrives.
type Session struct {
	mu      sync.Mutex
	secret  string
	params  Params
	state   ViewState
	started bool
	attempt uint64
}

// NewSession gates every navigation against secret. An empty secret denies
// everything.
func NewSession(secret string) *Session {
	return &Session{secret: secret, state: LoadingState()}
}

// Navigate applies Derive for p. Every transition starts a new attempt, so
// older attempts become stale. When a fetch is needed it returns the request
// tagged with that attempt.
func (s *Session) Navigate(p Params) (FetchRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *ViewState
	if s.started {
		prev = &s.state
	}
	next, req := Derive(s.secret, s.params, p, prev)
	kept := prev != nil && s.params == p
	s.started = true
	s.params = p
	s.state = next
	if kept {
		return FetchRequest{}, false
	}
	s.attempt++
	if req == nil {
		return FetchRequest{}, false
	}
	req.Attempt = s.attempt
	return *req, true
}

// Resolve records the outcome of attempt. It returns false, leaving the
// session untouched, when attempt is stale, st is not terminal, or the
// attempt was already resolved.
func (s *Session) Resolve(attempt uint64, st ViewState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt || !st.Terminal() || s.state.Terminal() {
		return false
	}
	s.state = st
	return true
}

func (s *Session) State() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Attempt is the number of the current attempt, 0 before the first Navigate.
func (s *Session) Attempt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}
