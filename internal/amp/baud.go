package amp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/logging"
)

// BaudCandidates are the rates the MPR-6ZHMAUT supports, in probe order.
var BaudCandidates = []int{9600, 19200, 38400, 57600, 115200, 230400}

// baudProbeData is written during a probe and compared against the
// amp's byte-for-byte echo. Only at the correct rate does the echo
// survive intact. The trailing CR makes the amp treat it as a (bogus)
// command, so a resync follows every probe.
var baudProbeData = []byte("baudrate detect\r")

// baudSettleDelay gives the amp time to switch rates after a rate
// change command before the line is used again.
const baudSettleDelay = 100 * time.Millisecond

// BaudState is the negotiator's position in its state machine.
type BaudState int

const (
	// BaudUnknown: no probe has run yet.
	BaudUnknown BaudState = iota

	// BaudProbing: candidate rates are being tried.
	BaudProbing

	// BaudDetected: the amp's current rate is known.
	BaudDetected

	// BaudNegotiating: a rate change command has been issued and the
	// new rate is being confirmed.
	BaudNegotiating

	// BaudReady: the link is confirmed at its final rate.
	BaudReady

	// BaudFailed: candidates exhausted or the adjusted rate never
	// confirmed. Terminal; fatal at startup.
	BaudFailed
)

// String returns the state name for logging.
func (s BaudState) String() string {
	switch s {
	case BaudUnknown:
		return "unknown"
	case BaudProbing:
		return "probing"
	case BaudDetected:
		return "detected"
	case BaudNegotiating:
		return "negotiating"
	case BaudReady:
		return "ready"
	case BaudFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Negotiator establishes the serial link rate once at startup and
// optionally restores it at shutdown. It owns the port exclusively
// while running; the bus scheduler must not be started until Negotiate
// has returned.
type Negotiator struct {
	port   Port
	conn   *Conn
	logger *logging.Logger

	state    BaudState
	detected int // rate the amp was found at
	current  int // rate the link runs at now
}

// NewNegotiator creates a negotiator over an open port. conn must wrap
// the same port. logger may be nil.
func NewNegotiator(port Port, conn *Conn, logger *logging.Logger) *Negotiator {
	return &Negotiator{port: port, conn: conn, logger: logger}
}

// State returns the current negotiator state.
func (n *Negotiator) State() BaudState {
	return n.state
}

// Detected returns the rate the amp was found at, or 0 before detection.
func (n *Negotiator) Detected() int {
	return n.detected
}

// Current returns the rate the link runs at, or 0 before detection.
func (n *Negotiator) Current() int {
	return n.current
}

// Negotiate probes candidates in order until the amp answers, then
// optionally moves the link to target.
//
// Parameters:
//   - candidates: Rates to probe, in order. A fixed configured rate is
//     a single-element slice; auto detection passes BaudCandidates.
//   - target: Desired final rate, or 0 to stay at the detected rate.
//
// Returns:
//   - int: The confirmed final rate
//   - error: ErrBaudNegotiationFailed when no candidate answers or the
//     adjusted rate cannot be confirmed
func (n *Negotiator) Negotiate(candidates []int, target int) (int, error) {
	n.state = BaudProbing

	for _, rate := range candidates {
		n.logDebug("probing baud rate", "rate", rate)
		if n.probe(rate) {
			n.detected = rate
			n.current = rate
			n.state = BaudDetected
			break
		}
	}
	if n.state != BaudDetected {
		n.state = BaudFailed
		return 0, fmt.Errorf("%w: no answer at %v", ErrBaudNegotiationFailed, candidates)
	}

	n.logInfo("amp detected", "rate", n.detected)

	if target != 0 && target != n.current {
		if err := n.adjust(target); err != nil {
			n.state = BaudFailed
			return 0, err
		}
	}

	n.state = BaudReady
	return n.current, nil
}

// Restore moves the link back to the rate the amp was detected at.
// Called at shutdown when reset_baud is configured, so the next
// startup's probe converges quickly. Failure is for logging only.
func (n *Negotiator) Restore() error {
	if n.detected == 0 || n.current == n.detected {
		return nil
	}
	n.state = BaudNegotiating
	if err := n.adjust(n.detected); err != nil {
		n.state = BaudFailed
		return fmt.Errorf("restoring baud rate %d: %w", n.detected, err)
	}
	n.state = BaudReady
	return nil
}

// probe checks whether the amp is listening at rate: switch the local
// line, write known data, and require a byte-for-byte echo. One attempt
// per rate. A successful probe ends with a resync to clear the bogus
// command the probe data left in the amp's buffer.
func (n *Negotiator) probe(rate int) bool {
	if err := n.port.SetBaud(rate); err != nil {
		n.logError("setting probe rate", "rate", rate, "error", err.Error())
		return false
	}
	if err := n.port.Flush(); err != nil {
		n.logError("flushing before probe", "rate", rate, "error", err.Error())
		return false
	}

	if _, err := n.port.Write(baudProbeData); err != nil {
		n.logError("writing probe data", "rate", rate, "error", err.Error())
		return false
	}

	echo := make([]byte, 0, len(baudProbeData))
	b := make([]byte, 1)
	for len(echo) < len(baudProbeData) {
		read, err := n.port.Read(b)
		if err != nil || read == 0 {
			return false
		}
		echo = append(echo, b[0])
	}
	if !bytes.Equal(echo, baudProbeData) {
		return false
	}

	if err := n.conn.Resync(); err != nil {
		n.logDebug("resync after probe failed", "rate", rate, "error", err.Error())
		return false
	}
	return true
}

// adjust issues the rate change command and confirms the amp followed.
// The amp switches as soon as it sees the CR, so its "#Done." reply is
// corrupted at the old rate; the local line switches immediately and
// the new rate is confirmed with a fresh probe.
func (n *Negotiator) adjust(rate int) error {
	n.state = BaudNegotiating
	n.logInfo("changing baud rate", "from", n.current, "to", rate)

	cmd := append(EncodeBaud(rate), '\r')
	if _, err := n.port.Write(cmd); err != nil {
		return fmt.Errorf("writing rate change: %w", err)
	}

	time.Sleep(baudSettleDelay)

	if !n.probe(rate) {
		return fmt.Errorf("%w: amp did not answer at %d after rate change",
			ErrBaudNegotiationFailed, rate)
	}
	n.current = rate
	return nil
}

func (n *Negotiator) logDebug(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}

func (n *Negotiator) logInfo(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Info(msg, args...)
	}
}

func (n *Negotiator) logError(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Error(msg, args...)
	}
}
