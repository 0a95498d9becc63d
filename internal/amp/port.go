package amp

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.bug.st/serial"
)

// Port is the byte transport to the amplifier. Implementations must make
// Read return (0, nil) when the read timeout expires with no data, so
// the protocol layer can distinguish silence from transport failure.
//
// The bus is half duplex with a single owner; Port implementations are
// not required to be safe for concurrent use.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// SetBaud changes the local line rate. Transports with no notion of
	// line rate (TCP to a remote serial server) treat it as a no-op.
	SetBaud(rate int) error

	// Flush discards any buffered input and output.
	Flush() error

	Close() error
}

// SerialPort drives a local RS232 device via go.bug.st/serial.
type SerialPort struct {
	port        serial.Port
	device      string
	readTimeout time.Duration
}

// OpenSerial opens device at the given baud rate in 8N1 mode.
//
// Parameters:
//   - device: Serial device path, e.g. /dev/ttyUSB0
//   - baud: Initial line rate
//   - readTimeout: Per-read timeout applied to the port
//
// Returns:
//   - *SerialPort: Open port
//   - error: If the device cannot be opened or configured
func OpenSerial(device string, baud int, readTimeout time.Duration) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial device %s: %w", device, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	return &SerialPort{port: port, device: device, readTimeout: readTimeout}, nil
}

// Read reads up to len(p) bytes, returning (0, nil) on timeout.
func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

// Write writes p to the device.
func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetBaud reconfigures the line rate, keeping 8N1 framing.
func (s *SerialPort) SetBaud(rate int) error {
	mode := &serial.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := s.port.SetMode(mode); err != nil {
		return fmt.Errorf("setting baud rate %d on %s: %w", rate, s.device, err)
	}
	return nil
}

// Flush discards buffered input and output on the device.
func (s *SerialPort) Flush() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("resetting input buffer: %w", err)
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("resetting output buffer: %w", err)
	}
	return nil
}

// Close releases the device.
func (s *SerialPort) Close() error {
	return s.port.Close()
}

// TCPPort connects to a remote serial server (ser2net or the emulator)
// in raw mode. The remote end owns the physical line rate, so SetBaud
// is a no-op.
type TCPPort struct {
	conn        net.Conn
	readTimeout time.Duration
}

// OpenTCP dials address (host:port) for a raw serial-over-TCP session.
func OpenTCP(address string, readTimeout time.Duration) (*TCPPort, error) {
	conn, err := net.DialTimeout("tcp", address, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to serial server %s: %w", address, err)
	}
	return &TCPPort{conn: conn, readTimeout: readTimeout}, nil
}

// Read reads up to len(p) bytes, mapping deadline expiry to (0, nil) to
// match the serial timeout contract.
func (t *TCPPort) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}

	n, err := t.conn.Read(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// Write writes p to the connection.
func (t *TCPPort) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// SetBaud is a no-op; the remote serial server owns the line rate.
func (t *TCPPort) SetBaud(rate int) error {
	return nil
}

// Flush is a no-op; pending input is consumed by the next resync.
func (t *TCPPort) Flush() error {
	return nil
}

// Close closes the connection.
func (t *TCPPort) Close() error {
	return t.conn.Close()
}
