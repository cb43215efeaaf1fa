package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/goburrow/serial"
)

var (
	// ErrReadTimeout is returned by ReadLine when the deadline passes before a full line arrives.
	ErrReadTimeout error = readTimeoutError{}
	ErrClosed            = errors.New("link: port closed")
	ErrNoDevice          = errors.New("link: no serial device found")
)

type readTimeoutError struct{}

func (readTimeoutError) Error() string { return "link: read deadline exceeded" }
func (readTimeoutError) Timeout() bool { return true }

type Config struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration // byte-level, bounds a single Read call
	Settle      time.Duration // wait after open for the board reset
}

// Port is one open serial connection. It is not safe for concurrent use; the transport owns it.
type Port struct {
	path        string
	baud        int
	readTimeout time.Duration

	rwc     io.ReadWriteCloser
	pending []byte // bytes read past the last returned line
	buf     []byte
	closed  bool
}

var openSerial = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// Open opens the device 8N1, waits out the board reset and discards whatever it printed meanwhile.
func Open(cfg Config) (*Port, error) {
	rwc, err := openSerial(&serial.Config{
		Address:  cfg.Path,
		BaudRate: cfg.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	p := newPort(rwc, cfg)

	if cfg.Settle > 0 {
		time.Sleep(cfg.Settle)
	}
	if err := p.Flush(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("flush %s after open: %w", cfg.Path, err)
	}
	logging.Info("Serial port opened", "port", cfg.Path, "baud", cfg.Baud)
	return p, nil
}

func newPort(rwc io.ReadWriteCloser, cfg Config) *Port {
	return &Port{
		path:        cfg.Path,
		baud:        cfg.Baud,
		readTimeout: cfg.ReadTimeout,
		rwc:         rwc,
		buf:         make([]byte, 256),
	}
}

func (p *Port) Path() string { return p.path }
func (p *Port) Baud() int    { return p.baud }
func (p *Port) IsOpen() bool { return !p.closed }

func (p *Port) Write(b []byte) error {
	if p.closed {
		return ErrClosed
	}
	for len(b) > 0 {
		n, err := p.rwc.Write(b)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.path, err)
		}
		b = b[n:]
	}
	return nil
}

// ReadLine returns the next '\n' terminated line without its terminator (and without a trailing '\r').
// Byte-level timeouts are absorbed until deadline; a partial line is kept for the next call.
func (p *Port) ReadLine(deadline time.Time) ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}
	for {
		if i := bytes.IndexByte(p.pending, '\n'); i >= 0 {
			line := bytes.TrimSuffix(p.pending[:i], []byte{'\r'})
			out := make([]byte, len(line))
			copy(out, line)
			p.pending = p.pending[i+1:]
			return out, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrReadTimeout
		}
		n, err := p.rwc.Read(p.buf)
		if n > 0 {
			p.pending = append(p.pending, p.buf[:n]...)
		}
		if err != nil && !isTimeout(err) {
			return nil, fmt.Errorf("read %s: %w", p.path, err)
		}
	}
}

// flushMaxBytes caps how much Flush discards from a device that keeps printing.
const flushMaxBytes = 4096

// Flush drops buffered input: the pending partial line and whatever the device has already sent.
// It returns once a read comes back empty, or once it has spent its budget (a few read timeouts or
// flushMaxBytes) on a device that never goes quiet. Lines arriving after that are noise to the caller.
func (p *Port) Flush() error {
	if p.closed {
		return ErrClosed
	}
	p.pending = p.pending[:0]
	until := time.Now().Add(p.flushBudget())
	drained := 0
	for {
		n, err := p.rwc.Read(p.buf)
		drained += n
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("flush %s: %w", p.path, err)
		}
		if n == 0 {
			return nil
		}
		if drained >= flushMaxBytes || !time.Now().Before(until) {
			logging.Debug("Device still sending, flush stopped", "port", p.path, "bytes", drained)
			return nil
		}
	}
}

func (p *Port) flushBudget() time.Duration {
	return max(4*p.readTimeout, 20*time.Millisecond)
}

func (p *Port) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.pending = nil
	return p.rwc.Close()
}

func isTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}
