package amp

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/logging"
)

const (
	// maxChunkLen bounds a single response chunk. The longest legal
	// chunk is a status line; anything past this is line noise.
	maxChunkLen = 64

	// resyncAttempts is how many empty commands to try before giving
	// up on recovering a clean prompt.
	resyncAttempts = 4
)

// Conn performs half-duplex command exchanges over a Port.
//
// The protocol is strictly request/response: the amp echoes every
// command byte, then emits zero or more response chunks, each
// terminated by CR LF '#'. Conn verifies the echo, collects the chunks,
// and surfaces the amp's "Command Error." reply as ErrCommandRejected.
//
// Exchanges are serialized internally; concurrent callers queue on the
// exchange mutex.
type Conn struct {
	port Port

	mu sync.Mutex // one exchange in flight

	loggerMu sync.RWMutex
	logger   *logging.Logger

	// stats, updated atomically
	exchanges  atomic.Uint64
	timeouts   atomic.Uint64
	rejections atomic.Uint64
}

// NewConn wraps port for protocol exchanges.
func NewConn(port Port) *Conn {
	return &Conn{port: port}
}

// SetLogger attaches a logger for exchange diagnostics.
// Safe to call concurrently with exchanges.
func (c *Conn) SetLogger(logger *logging.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Port returns the underlying transport.
func (c *Conn) Port() Port {
	return c.port
}

// Stats returns cumulative exchange counters: total exchanges, read
// timeouts, and amp rejections.
func (c *Conn) Stats() (exchanges, timeouts, rejections uint64) {
	return c.exchanges.Load(), c.timeouts.Load(), c.rejections.Load()
}

// Exec sends cmd (CR appended) and reads the echo plus responses
// response chunks.
//
// Parameters:
//   - cmd: Encoded command without the trailing CR
//   - responses: Expected response chunks after the echo (6 for an amp
//     enquiry, 0 for a set command)
//
// Returns:
//   - [][]byte: Response chunk contents, terminators stripped
//   - error: ErrBusTimeout, ErrTruncatedResponse, ErrEchoMismatch, or
//     ErrCommandRejected
func (c *Conn) Exec(cmd []byte, responses int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exec(cmd, responses)
}

func (c *Conn) exec(cmd []byte, responses int) ([][]byte, error) {
	c.exchanges.Add(1)

	// Drop any stale bytes from an earlier failed exchange.
	if err := c.port.Flush(); err != nil {
		return nil, fmt.Errorf("flushing port: %w", err)
	}

	wire := make([]byte, 0, len(cmd)+1)
	wire = append(wire, cmd...)
	wire = append(wire, '\r')
	if _, err := c.port.Write(wire); err != nil {
		return nil, fmt.Errorf("writing command: %w", err)
	}

	echo, err := c.readChunk()
	if err != nil {
		return nil, fmt.Errorf("reading echo for %q: %w", cmd, err)
	}
	if !bytes.Equal(echo, cmd) {
		return nil, fmt.Errorf("%w: sent %q, echoed %q", ErrEchoMismatch, cmd, echo)
	}

	chunks := make([][]byte, 0, responses)
	for i := 0; i < responses; i++ {
		chunk, err := c.readChunk()
		if err != nil {
			return nil, fmt.Errorf("reading response %d/%d for %q: %w", i+1, responses, cmd, err)
		}
		if bytes.Equal(chunk, rejectionChunk) {
			c.rejections.Add(1)
			return nil, fmt.Errorf("%w: %q", ErrCommandRejected, cmd)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// readChunk reads one response chunk, returning its content without the
// CR LF '#' terminator. A timeout before any byte is ErrBusTimeout; a
// timeout mid-chunk is ErrTruncatedResponse.
func (c *Conn) readChunk() ([]byte, error) {
	buf := make([]byte, 0, 32)
	b := make([]byte, 1)

	for {
		n, err := c.port.Read(b)
		if err != nil {
			return nil, fmt.Errorf("reading from port: %w", err)
		}
		if n == 0 {
			c.timeouts.Add(1)
			if len(buf) == 0 {
				return nil, ErrBusTimeout
			}
			return nil, fmt.Errorf("%w: got %q", ErrTruncatedResponse, buf)
		}

		buf = append(buf, b[0])
		if bytes.HasSuffix(buf, chunkTerminator) {
			return buf[:len(buf)-len(chunkTerminator)], nil
		}
		if len(buf) > maxChunkLen {
			return nil, fmt.Errorf("%w: chunk exceeds %d bytes", ErrMalformedResponse, maxChunkLen)
		}
	}
}

// Resync returns the stream to a clean command prompt by issuing empty
// commands until one echoes back cleanly. Used after baud changes and
// failed exchanges, when the amp may hold a partial command buffer.
//
// Returns:
//   - error: ErrResyncFailed after resyncAttempts tries
func (c *Conn) Resync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resync()
}

func (c *Conn) resync() error {
	var lastErr error
	for attempt := 1; attempt <= resyncAttempts; attempt++ {
		chunks, err := c.exec(nil, 0)
		if err == nil && len(chunks) == 0 {
			return nil
		}
		lastErr = err
		c.logDebug("resync attempt failed",
			"attempt", attempt,
			"error", fmt.Sprint(err))
	}
	return fmt.Errorf("%w: %v", ErrResyncFailed, lastErr)
}

// ExecResync runs Exec and, on a bus-level failure, resyncs and retries
// once. Rejections are not retried; the command itself is at fault.
func (c *Conn) ExecResync(cmd []byte, responses int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunks, err := c.exec(cmd, responses)
	if err == nil || errors.Is(err, ErrCommandRejected) {
		return chunks, err
	}

	c.logDebug("exchange failed, resyncing before retry",
		"command", string(cmd),
		"error", fmt.Sprint(err))

	if rerr := c.resync(); rerr != nil {
		return nil, fmt.Errorf("retrying %q: %w", cmd, rerr)
	}
	return c.exec(cmd, responses)
}

func (c *Conn) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}
