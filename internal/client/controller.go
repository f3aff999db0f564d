package client

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/victornm/codelive/internal/channel"
	"github.com/victornm/codelive/internal/errors"
)

// ErrNormalClosure marks an intentional shutdown of the transport. Channels
// wrap it so the controller knows not to reconnect.
var ErrNormalClosure = stderrors.New("normal closure")

// ErrNotConnected is returned by Send while the controller is not connected.
// Sends are never queued; the caller's UI should reflect the disconnect.
var ErrNotConnected = errors.New(errors.CodeUnavailable,
	errors.WithMessagef("not connected"))

// FailedMessage is surfaced through OnConnectionError when the attempt
// budget is spent.
const FailedMessage = "connection failed after repeated attempts, please reload the page"

// Channel is one established physical connection delivering raw frames.
type Channel interface {
	Send(m channel.Message) error
	// Receive blocks for the next frame. Closure errors wrap
	// ErrNormalClosure when the shutdown was intentional.
	Receive() ([]byte, error)
	Close() error
}

// Dialer establishes a Channel to a target.
type Dialer interface {
	Dial(ctx context.Context, target string) (Channel, error)
}

type Config struct {
	Dialer  Dialer
	Backoff Backoff // zero value means DefaultBackoff

	// OnState is invoked on every logical state change.
	OnState func(s State)
	// OnMessage is invoked for every decoded inbound message.
	OnMessage func(m channel.Message)
	// OnConnectionError receives non-fatal channel errors: malformed
	// payloads, the give-up message. The connection is not torn down.
	OnConnectionError func(err error)

	// Poll, when set, is called every PollInterval while the controller is
	// not connected, and never while it is.
	Poll         func(ctx context.Context)
	PollInterval time.Duration

	// newTimer exists for tests; defaults to time.AfterFunc.
	newTimer func(d time.Duration, f func()) retryTimer
}

type retryTimer interface {
	Stop() bool
}

// Controller maintains a logical connection over a failing physical channel:
// reconnect with exponential backoff on abnormal closure, no reconnect on
// intentional closure, terminal failure after the attempt budget, and a
// polling fallback while disconnected. All transitions go through the pure
// Machine; the controller only executes effects.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	m      Machine
	target string
	// gen invalidates timers, dials and read loops started for a previous
	// target or a closed controller.
	gen        int
	ch         Channel
	retry      retryTimer
	dialCancel context.CancelFunc
	closed     bool

	poller *poller
}

func New(cfg Config) *Controller {
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.newTimer == nil {
		cfg.newTimer = func(d time.Duration, f func()) retryTimer {
			return time.AfterFunc(d, f)
		}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &Controller{
		cfg:    cfg,
		m:      NewMachine(cfg.Backoff),
		poller: newPoller(cfg.PollInterval, cfg.Poll),
	}
}

// Connect points the controller at a target and starts connecting. Calling
// it with a new target while a reconnect is pending cancels the pending
// timer and the in-flight dial first, so a stale attempt can never resurrect
// a connection to the wrong target. Connect also restarts a Failed
// controller.
func (c *Controller) Connect(target string) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}

	c.invalidateLocked()
	c.target = target
	c.m = NewMachine(c.cfg.Backoff)
	notify := c.step(EventConnect)
	c.mu.Unlock()

	notify()
}

// Send delivers one message over the current connection. It fails
// immediately with ErrNotConnected when there is none.
func (c *Controller) Send(m channel.Message) error {
	c.mu.Lock()
	ch := c.ch
	connected := c.m.State == StateConnected
	c.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}

	return ch.Send(m)
}

// State reports the logical connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.State
}

// Close tears everything down: pending timers, in-flight dial, the current
// connection and the poller. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.invalidateLocked()
	c.mu.Unlock()

	c.poller.stop()
}

// invalidateLocked cancels everything scheduled for the current generation.
func (c *Controller) invalidateLocked() {
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
}

// step runs one machine transition and executes its effect. Caller holds mu
// and must invoke the returned function after releasing it: callbacks run
// outside the lock so a consumer may call Send, State or Connect from them.
func (c *Controller) step(ev Event) func() {
	prev := c.m.State
	next, eff, delay := c.m.Step(ev)
	c.m = next

	var fns []func()

	switch eff {
	case EffectDial:
		c.dialLocked()

	case EffectScheduleRetry:
		gen := c.gen
		c.retry = c.cfg.newTimer(delay, func() {
			c.onRetryDue(gen)
		})

	case EffectGiveUp:
		if f := c.cfg.OnConnectionError; f != nil {
			fns = append(fns, func() {
				f(errors.New(errors.CodeUnavailable,
					errors.WithMessagef(FailedMessage)))
			})
		}
	}

	if next.State != prev {
		c.syncPoller(next.State)
		if f := c.cfg.OnState; f != nil {
			s := next.State
			fns = append(fns, func() { f(s) })
		}
	}

	return func() {
		for _, fn := range fns {
			fn()
		}
	}
}

func (c *Controller) dialLocked() {
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel

	go func() {
		ch, err := c.cfg.Dialer.Dial(ctx, c.target)

		c.mu.Lock()

		if gen != c.gen || c.closed {
			c.mu.Unlock()
			if ch != nil {
				_ = ch.Close()
			}
			return
		}

		c.dialCancel = nil

		var notify func()
		if err != nil {
			notify = c.step(EventDialFailed)
		} else {
			c.ch = ch
			notify = c.step(EventConnected)
			go c.readLoop(gen, ch)
		}
		c.mu.Unlock()

		notify()
	}()
}

func (c *Controller) onRetryDue(gen int) {
	c.mu.Lock()

	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}

	c.retry = nil
	notify := c.step(EventRetryDue)
	c.mu.Unlock()

	notify()
}

func (c *Controller) readLoop(gen int, ch Channel) {
	for {
		data, err := ch.Receive()
		if err == nil {
			// Frames already in flight when the controller is closed or
			// retargeted must not reach the consumer.
			if c.dead(gen) {
				return
			}

			m, derr := channel.Decode(data)
			if derr != nil {
				// Malformed frame: report, keep the connection.
				c.notifyConnectionError(derr)
				continue
			}
			if c.cfg.OnMessage != nil {
				c.cfg.OnMessage(m)
			}
			continue
		}

		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			return
		}
		c.ch = nil

		var notify func()
		if stderrors.Is(err, ErrNormalClosure) {
			notify = c.step(EventClosedNormal)
		} else {
			notify = c.step(EventClosedAbnormal)
		}
		c.mu.Unlock()

		notify()
		return
	}
}

// dead reports whether gen no longer identifies the live connection.
func (c *Controller) dead(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen || c.closed
}

func (c *Controller) notifyConnectionError(err error) {
	if c.cfg.OnConnectionError != nil {
		c.cfg.OnConnectionError(err)
	}
}

// syncPoller keeps the polling fallback running exactly while not connected,
// never alongside a live subscription.
func (c *Controller) syncPoller(s State) {
	if s == StateConnected {
		c.poller.stop()
	} else if !c.closed {
		c.poller.start()
	}
}
