package preview

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait once the controller has been closed.
var ErrClosed = errors.New("preview: controller closed")

type ControllerOption func(*Controller)

// WithOnStale registers fn to be called for every discarded stale result.
func WithOnStale(fn func()) ControllerOption {
	return func(c *Controller) { c.onStale = fn }
}

// WithSession lets the caller supply (and inspect) the session. The
// session's own secret then gates navigations.
func WithSession(s *Session) ControllerOption {
	return func(c *Controller) { c.session = s }
}

type event struct {
	params   *Params
	applied  chan struct{}
	attempt  uint64
	resolved ViewState
}

// Controller drives one Session. A single loop goroutine applies navigations
// and fetch results in arrival order, so the session has exactly one writer.
// Fetches run on their own goroutines and report back through the loop.
type Controller struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher PreviewFetcher
	session *Session
	onStale func()

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	changed chan struct{}
	subs    map[int]chan ViewState
	nextSub int
}

// NewController starts the loop. secret gates navigations before any fetch
// is requested. Fetch contexts derive from ctx; cancelling ctx or calling
// Close stops the loop and abandons in-flight fetches.
func NewController(ctx context.Context, secret string, f PreviewFetcher, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		ctx:     ctx,
		cancel:  cancel,
		fetcher: f,
		events:  make(chan event),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
		subs:    make(map[int]chan ViewState),
	}
	for _, o := range opts {
		o(c)
	}
	if c.session == nil {
		c.session = NewSession(secret)
	}
	go c.loop()
	return c
}

// Navigate hands new params to the loop and returns once the transition has
// been applied, so State reflects it immediately afterwards.
func (c *Controller) Navigate(p Params) {
	ev := event{params: &p, applied: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-c.done:
		return
	}
	select {
	case <-ev.applied:
	case <-c.done:
	}
}

func (c *Controller) State() ViewState { return c.session.State() }

// Wait blocks until the current attempt has a terminal state, ctx is done or
// the controller is closed.
func (c *Controller) Wait(ctx context.Context) (ViewState, error) {
	for {
		c.mu.Lock()
		st := c.session.State()
		ch := c.changed
		c.mu.Unlock()

		if st.Terminal() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		case <-c.done:
			return c.session.State(), ErrClosed
		}
	}
}

// Subscribe returns a channel receiving every state the session moves to.
// Slow subscribers miss intermediate states rather than blocking the loop.
func (c *Controller) Subscribe() (<-chan ViewState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan ViewState, 4)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// Close stops the loop and waits for it to exit. In-flight fetches see their
// context cancelled and their results are dropped.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
	c.wg.Wait()
}

func (c *Controller) loop() {
	defer func() {
		c.mu.Lock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	}()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			if ev.params != nil {
				c.apply(*ev.params)
				close(ev.applied)
				continue
			}
			if c.session.Resolve(ev.attempt, ev.resolved) {
				c.publish(ev.resolved)
			} else if c.onStale != nil {
				c.onStale()
			}
		}
	}
}

func (c *Controller) apply(p Params) {
	before := c.session.Attempt()
	req, ok := c.session.Navigate(p)
	if c.session.Attempt() != before {
		c.publish(c.session.State())
	}
	if !ok {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		st := c.fetcher.FetchPreview(c.ctx, req.Params)
		select {
		case c.events <- event{attempt: req.Attempt, resolved: st}:
		case <-c.done:
		}
	}()
}

func (c *Controller) publish(st ViewState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.changed)
	c.changed = make(chan struct{})
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
