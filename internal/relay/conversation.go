// Package relay keeps an open conversation in sync with its channel by
// polling. The provider has no push delivery, so every open conversation
// refetches the latest page on a fixed interval and replaces its list.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"go.uber.org/zap"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 8 * time.Second

var ErrAlreadyOpen = errors.New("conversation already open")

// State is the lifecycle of a conversation.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

type (
	FetchFunc func(ctx context.Context) ([]model.ChannelMessage, error)
	SendFunc  func(ctx context.Context, text string) error
)

// Snapshot is what a viewer renders. On error Messages still holds the last
// good list.
type Snapshot struct {
	State     State                  `json:"-"`
	Messages  []model.ChannelMessage `json:"messages"`
	Err       error                  `json:"-"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Options tunes a conversation. Zero values take the defaults.
type Options struct {
	Interval time.Duration
	// OnUpdate is called after every fetch, from the polling goroutine.
	OnUpdate func(Snapshot)
	Logger   *zap.Logger
}

// Conversation owns the poll timer of one open view. There is no optimistic
// insert: after a send the list shows the provider's latest page.
type Conversation struct {
	fetch    FetchFunc
	send     SendFunc
	interval time.Duration
	onUpdate func(Snapshot)
	logger   *zap.Logger

	mu       sync.RWMutex
	state    State
	messages []model.ChannelMessage
	lastErr  error
	updated  time.Time

	refresh   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an idle conversation. Nothing is fetched until Open.
func New(fetch FetchFunc, send SendFunc, opts Options) *Conversation {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Conversation{
		fetch:    fetch,
		send:     send,
		interval: opts.Interval,
		onUpdate: opts.OnUpdate,
		logger:   opts.Logger,
		refresh:  make(chan struct{}, 1),
	}
}

// Open fetches once, synchronously, and starts polling. The returned
// snapshot is the result of that first fetch.
func (c *Conversation) Open(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.state != StateIdle || c.done != nil {
		c.mu.Unlock()
		return Snapshot{}, ErrAlreadyOpen
	}
	c.state = StateLoading
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	metrics.OpenConversations.Inc()
	c.load(pollCtx)

	go c.loop(pollCtx)
	return c.Snapshot(), nil
}

func (c *Conversation) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.load(ctx)
		case <-c.refresh:
			c.load(ctx)
			ticker.Reset(c.interval)
		}
	}
}

func (c *Conversation) load(ctx context.Context) {
	msgs, err := c.fetch(ctx)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if err != nil {
		c.state = StateErrored
		c.lastErr = err
		c.logger.Debug("Conversation fetch failed", zap.Error(err))
	} else {
		c.state = StateLoaded
		c.messages = msgs
		c.lastErr = nil
	}
	c.updated = time.Now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	metrics.RelayFetches.WithLabelValues(metrics.Result(err)).Inc()
	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

// Retry asks for an immediate refetch. Calls while one is queued collapse.
func (c *Conversation) Retry() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Send posts text and, on success, refreshes right away and restarts the
// poll period.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if c.send == nil {
		return errors.New("conversation is read-only")
	}
	if err := c.send(ctx, text); err != nil {
		return err
	}
	c.Retry()
	return nil
}

// Close stops polling and waits for the loop to exit. No fetch starts after
// Close returns.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
		metrics.OpenConversations.Dec()
	})
}

// Snapshot returns the current state and messages.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// State returns the current state.
func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conversation) snapshotLocked() Snapshot {
	msgs := make([]model.ChannelMessage, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		State:     c.state,
		Messages:  msgs,
		Err:       c.lastErr,
		UpdatedAt: c.updated,
	}
}
