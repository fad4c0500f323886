package studysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/studykit/studysync/internal/material"
)

const DefaultPollInterval = 5 * time.Second

type Logger interface {
	Printf(format string, args ...any)
}

type CoordinatorOptions struct {
	// PollInterval is the fixed tick between update fetches; the timer
	// keeps firing on schedule even while a prior fetch is in flight
	// (overlapping fires are skipped, not queued).
	PollInterval time.Duration
	// EventsURL enables the push listener when non-empty.
	EventsURL string
	// Snapshot, when set, seeds the store before the initial fetch and
	// persists the list plus watermark after each successful sync.
	Snapshot SnapshotBackend
	Logger   Logger
}

// Coordinator owns the poller and the push listener. Both feed the same
// store through its reconcile entry points; the coordinator tracks the
// watermark used for incremental polls and keeps the poll error separate
// from the initial-load error.
type Coordinator struct {
	client   RemoteClient
	store    *material.Store
	interval time.Duration
	snapshot SnapshotBackend
	logger   Logger
	events   string

	mu           sync.Mutex
	watermark    time.Time
	pollErr      error
	fetching     bool
	started      bool
	syncCount    int
	pollFailures int

	cancel   context.CancelFunc
	done     chan struct{}
	listener *PushListener
}

func NewCoordinator(client RemoteClient, store *material.Store, opts CoordinatorOptions) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		client:   client,
		store:    store,
		interval: interval,
		snapshot: opts.Snapshot,
		logger:   opts.Logger,
		events:   opts.EventsURL,
	}, nil
}

// Start performs the initial full fetch and, on success, launches the
// poll loop and the push listener. An initial-load failure is returned
// directly and nothing is left running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	if c.snapshot != nil {
		if saved, err := c.snapshot.Load(); err != nil {
			c.logf("snapshot load failed: %v", err)
		} else if saved != nil && len(saved.Materials) > 0 {
			c.store.Replace(saved.Materials)
		}
	}

	initial, err := c.client.ListMaterials(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("initial load: %w", err)
	}
	c.store.Replace(initial)
	now := time.Now().UTC()
	c.mu.Lock()
	c.watermark = now
	c.mu.Unlock()
	c.saveSnapshot()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	if c.events != "" {
		listener, err := NewPushListener(c.events, c.store, c.logger)
		if err != nil {
			cancel()
			c.mu.Lock()
			c.started = false
			c.cancel = nil
			c.done = nil
			c.mu.Unlock()
			return err
		}
		c.listener = listener
		c.listener.Start(loopCtx)
	}
	go c.run(loopCtx, done)
	return nil
}

// Stop cancels the poll timer and tears the push listener down. It is
// idempotent. In-flight fetches started before Stop may complete; their
// results are discarded once the loop context is cancelled.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	done := c.done
	listener := c.listener
	c.cancel = nil
	c.done = nil
	c.listener = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context) {
	c.mu.Lock()
	if c.fetching {
		c.mu.Unlock()
		return
	}
	c.fetching = true
	since := c.watermark
	c.mu.Unlock()

	updates, err := c.client.ListUpdates(ctx, since)
	processedAt := time.Now().UTC()

	if err != nil {
		c.mu.Lock()
		c.fetching = false
		canceled := errors.Is(err, context.Canceled)
		if !canceled {
			c.pollErr = err
			c.pollFailures++
		}
		c.mu.Unlock()
		if !canceled {
			c.logf("poll failed, retrying window since %s: %v", since.Format(time.RFC3339), err)
		}
		return
	}
	if ctx.Err() != nil {
		c.mu.Lock()
		c.fetching = false
		c.mu.Unlock()
		return
	}
	c.store.Reconcile(updates...)

	c.mu.Lock()
	c.fetching = false
	// The watermark is the client-clock time the successful response was
	// processed; it only ever advances on success, so a failed window is
	// retried in full on the next tick.
	if processedAt.After(c.watermark) {
		c.watermark = processedAt
	}
	c.pollErr = nil
	c.syncCount++
	c.mu.Unlock()
	c.saveSnapshot()
}

func (c *Coordinator) saveSnapshot() {
	if c.snapshot == nil {
		return
	}
	c.mu.Lock()
	watermark := c.watermark
	c.mu.Unlock()
	snap := &Snapshot{
		Materials: c.store.List(),
		Watermark: watermark.Format(time.RFC3339Nano),
	}
	if err := c.snapshot.Save(snap); err != nil {
		c.logf("snapshot save failed: %v", err)
	}
}

func (c *Coordinator) Materials() []material.Material {
	return c.store.List()
}

func (c *Coordinator) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// PollErr reports the most recent polling failure, or nil after a
// successful poll. It is distinct from the initial-load error returned
// by Start.
func (c *Coordinator) PollErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollErr
}

func (c *Coordinator) ClearPollErr() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErr = nil
}

func (c *Coordinator) SyncCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncCount
}

func (c *Coordinator) PollFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollFailures
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
