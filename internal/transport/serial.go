package transport

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

var _ Adapter = (*SerialAdapter)(nil)

const serialReadBuffer = 4096

// openSerialPort is swapped out by tests.
var openSerialPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// SerialConfig is everything needed to open one physical endpoint.
type SerialConfig struct {
	Path     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits string
}

// Mode maps the config onto the driver's mode struct, defaulting to 8N1.
func (c SerialConfig) Mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parseParity(c.Parity),
		StopBits: parseStopBits(c.StopBits),
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits <= 0 {
		mode.DataBits = 8
	}
	return mode
}

func parseParity(value string) serial.Parity {
	switch value {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(value string) serial.StopBits {
	switch value {
	case "1.5":
		return serial.OnePointFiveStopBits
	case "2":
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// SerialAdapter connects one session to one physical serial endpoint.
type SerialAdapter struct {
	config SerialConfig
	emit   EmitFunc
	logger *logging.Logger

	mu      sync.Mutex
	port    serial.Port
	done    chan struct{}
	closing atomic.Bool
	closed  sync.Once
}

func NewSerialAdapter(config SerialConfig, emit EmitFunc, logger *logging.Logger) *SerialAdapter {
	if emit == nil {
		emit = func(Event) {}
	}
	return &SerialAdapter{
		config: config,
		emit:   emit,
		logger: logger,
	}
}

func (a *SerialAdapter) Open(ctx context.Context) error {
	if a.config.Path == "" {
		return fault.Configf("serial path is empty")
	}

	mode := a.config.Mode()
	port, err := openSerialPort(a.config.Path, mode)
	if err != nil {
		return fault.Transport(err, "open "+a.config.Path)
	}

	a.mu.Lock()
	a.port = port
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.logger.Debug("serial port opened", map[string]string{
		"path": a.config.Path,
		"baud": baudLabel(mode.BaudRate),
	})
	go a.readLoop(port, a.done, OriginDevice)
	return nil
}

func (a *SerialAdapter) Write(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	port := a.port
	a.mu.Unlock()
	if port == nil {
		return fault.Transportf("serial port %s is not open", a.config.Path)
	}
	return writeFull(port, payload, a.config.Path)
}

func (a *SerialAdapter) Close() error {
	var err error
	a.closed.Do(func() {
		a.closing.Store(true)
		a.mu.Lock()
		port := a.port
		done := a.done
		a.port = nil
		a.mu.Unlock()
		if port != nil {
			err = port.Close()
		}
		if done != nil {
			<-done
		}
		a.logger.Debug("serial port closed", map[string]string{"path": a.config.Path})
	})
	return err
}

func (a *SerialAdapter) readLoop(port serial.Port, done chan struct{}, origin Origin) {
	defer close(done)
	buf := make([]byte, serialReadBuffer)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.emit(DataEvent{
				Dir:     DirRX,
				Payload: chunk,
				Origin:  origin,
				At:      time.Now(),
			})
		}
		if err != nil {
			if !a.closing.Load() {
				a.emit(ClosedEvent{
					Origin: origin,
					Reason: closeReason(err),
					At:     time.Now(),
				})
			}
			return
		}
	}
}

// writeFull retries short writes; serial drivers may accept fewer bytes
// than offered under flow control.
func writeFull(port serial.Port, payload []byte, path string) error {
	for len(payload) > 0 {
		n, err := port.Write(payload)
		if err != nil {
			return fault.Transport(err, "write "+path)
		}
		if n <= 0 {
			return fault.Transport(io.ErrShortWrite, "write "+path)
		}
		payload = payload[n:]
	}
	return nil
}

func closeReason(err error) string {
	if err == nil || err == io.EOF {
		return "connection closed"
	}
	return err.Error()
}

// ListPortNames returns the OS serial port names, for pair suggestion and
// collision checks.
func ListPortNames() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fault.Transport(err, "list serial ports")
	}
	return names, nil
}

func baudLabel(rate int) string {
	return strconv.Itoa(rate)
}
