package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/google/uuid"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Link is the open physical connection the transport drives.
type Link interface {
	Write(b []byte) error
	ReadLine(deadline time.Time) ([]byte, error)
	Flush() error
	Close() error
}

// DialFunc discovers and opens the device.
type DialFunc func(ctx context.Context) (Link, error)

type Options struct {
	ExchangeTimeout time.Duration
	BackoffMin      time.Duration
	BackoffMax      time.Duration
}

// Transport serializes command/reply exchanges over a single Link. Scheduled polls and caller
// commands share the same gate, so at most one exchange is in flight at any time.
type Transport struct {
	dial DialFunc
	opts Options
	now  func() time.Time

	gate  chan struct{}
	state atomic.Int32

	// guarded by gate
	link        Link
	backoff     time.Duration
	nextAttempt time.Time

	errMu       sync.Mutex
	lastConnErr error
}

func New(dial DialFunc, opts Options) *Transport {
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 5 * time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	return &Transport{
		dial: dial,
		opts: opts,
		now:  time.Now,
		gate: make(chan struct{}, 1),
	}
}

func (t *Transport) State() State { return State(t.state.Load()) }

func (t *Transport) setState(s State) { t.state.Store(int32(s)) }

// LastConnectError is the error of the most recent failed connect, nil once connected.
func (t *Transport) LastConnectError() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastConnErr
}

func (t *Transport) setConnectError(err error) {
	t.errMu.Lock()
	t.lastConnErr = err
	t.errMu.Unlock()
}

func (t *Transport) acquire(ctx context.Context) error {
	select {
	case t.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) release() { <-t.gate }

// Exchange writes command and waits for the first parseable JSON object line. ctx only bounds the
// wait for the gate; once the gate is held the exchange runs until a reply, the deadline or an I/O error.
func (t *Transport) Exchange(ctx context.Context, command string) (Reply, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()
	// select picks at random when the gate and ctx.Done are both ready
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()[:8]

	if t.link == nil {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	deadline := t.now().Add(t.opts.ExchangeTimeout)
	if err := t.link.Flush(); err != nil {
		return nil, t.dropLink(id, command, err)
	}
	if err := t.link.Write([]byte(command + "\n")); err != nil {
		return nil, t.dropLink(id, command, err)
	}
	logging.Debug("Command sent", "exchange", id, "command", command)

	for {
		line, err := t.link.ReadLine(deadline)
		if err != nil {
			if isDeadline(err) {
				break
			}
			return nil, t.dropLink(id, command, err)
		}
		kind, reply, perr := Classify(line)
		switch kind {
		case ReplyLine:
			logging.Debug("Reply received", "exchange", id, "command", command, "reply", reply)
			return reply, nil
		case Malformed:
			logging.Warn("Could not parse line as JSON", "exchange", id, "command", command, "line", string(line), "error", perr)
		case Noise:
			logging.Debug("Ignoring non-JSON line", "exchange", id, "command", command, "line", string(line))
		}
		// a chatty device never lets ReadLine reach its own deadline check
		if !t.now().Before(deadline) {
			break
		}
	}

	logging.Warn("Timed out waiting for a valid JSON reply", "exchange", id, "command", command, "timeout", t.opts.ExchangeTimeout)
	return nil, fmt.Errorf("%w: command %q after %v", ErrTimeout, command, t.opts.ExchangeTimeout)
}

// Close drops the link. The next exchange reconnects.
func (t *Transport) Close() error {
	if err := t.acquire(context.Background()); err != nil {
		return err
	}
	defer t.release()
	if t.link == nil {
		return nil
	}
	err := t.link.Close()
	t.link = nil
	t.setState(Disconnected)
	return err
}

func (t *Transport) connect(ctx context.Context) error {
	if t.backoff > 0 && t.now().Before(t.nextAttempt) {
		return fmt.Errorf("reconnect backoff until %s: %w", t.nextAttempt.Format(time.RFC3339), t.LastConnectError())
	}

	t.setState(Connecting)
	// the gate is held: a caller giving up must not abort the open or count as a device failure
	l, err := t.dial(context.WithoutCancel(ctx))
	if err != nil {
		t.setState(Disconnected)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		t.bumpBackoff(err)
		logging.Warn("Device connect failed", "error", err, "backoff", t.backoff)
		return err
	}
	t.link = l
	t.backoff = 0
	t.nextAttempt = time.Time{}
	t.setConnectError(nil)
	t.setState(Connected)
	logging.Info("Device connected")
	return nil
}

func (t *Transport) bumpBackoff(err error) {
	t.setConnectError(err)
	if t.backoff == 0 {
		t.backoff = t.opts.BackoffMin
	} else {
		t.backoff *= 2
		if t.backoff > t.opts.BackoffMax {
			t.backoff = t.opts.BackoffMax
		}
	}
	t.nextAttempt = t.now().Add(t.backoff)
}

func (t *Transport) dropLink(id, command string, cause error) error {
	logging.Error("Serial communication error, reconnecting on next exchange", "exchange", id, "command", command, "error", cause)
	if t.link != nil {
		_ = t.link.Close()
		t.link = nil
	}
	t.setState(Disconnected)
	return fmt.Errorf("%w: %w", ErrLinkFailure, cause)
}

type deadlineError interface{ Timeout() bool }

func isDeadline(err error) bool {
	var de deadlineError
	return errors.As(err, &de) && de.Timeout()
}
