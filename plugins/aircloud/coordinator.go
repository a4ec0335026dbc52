package aircloud

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Updater is polled by the coordinator.
type Updater interface {
	UpdateAll(ctx context.Context) (map[int]Change, error)
}

// CoordinatorStatus summarizes polling health.
type CoordinatorStatus struct {
	LastAttempt         time.Time `json:"last_attempt"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Polls               int       `json:"polls"`
}

// Coordinator polls an Updater on a fixed interval and on demand.
type Coordinator struct {
	updater  Updater
	interval time.Duration
	timeout  time.Duration
	logger   logrus.FieldLogger

	refresh chan struct{}

	mu      sync.Mutex
	status  CoordinatorStatus
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// serializes UpdateAll calls
	pollMu sync.Mutex
}

var ErrCoordinatorRunning = errors.New("coordinator already running")

func NewCoordinator(updater Updater, interval, timeout time.Duration, logger logrus.FieldLogger) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		updater:  updater,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		refresh:  make(chan struct{}, 1),
	}
}

// Start runs the first refresh synchronously and then polls in the
// background until Stop or ctx ends. A failed first refresh is returned and
// the loop is not started.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCoordinatorRunning
	}
	c.running = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.loop(loopCtx, ctx.Done())
	}()
	return nil
}

func (c *Coordinator) loop(ctx context.Context, parentDone <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-parentDone:
			return
		case <-ticker.C:
		case <-c.refresh:
			ticker.Reset(c.interval)
		}
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Warn("aircloud refresh failed")
		}
	}
}

// RequestRefresh schedules a refresh soon. Requests made while one is
// pending collapse into it.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Refresh polls once and records the outcome.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	changes, err := c.updater.UpdateAll(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastAttempt = started
	c.status.Polls++
	if err != nil {
		c.status.ConsecutiveFailures++
		c.status.LastError = err.Error()
		return err
	}
	c.status.LastSuccess = time.Now()
	c.status.LastError = ""
	c.status.ConsecutiveFailures = 0
	if len(changes) > 0 {
		c.logger.WithField("changed", len(changes)).Debug("aircloud units changed")
	}
	return nil
}

func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stop ends the polling loop and waits for an in-flight refresh.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.running = false
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
