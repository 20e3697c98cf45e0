package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

var _ Adapter = (*MonitorAdapter)(nil)

// MonitorConfig names the two endpoints of a tap. Virtual is the session's
// end of an OS-level pair whose far end an external tool holds open;
// Physical is the real device.
type MonitorConfig struct {
	Virtual  SerialConfig
	Physical SerialConfig
}

// MonitorAdapter bridges a virtual pair endpoint to a physical port and
// reports the traffic flowing through it. Bytes arriving on the virtual
// side are forwarded to the device and surface as TX; device bytes are
// forwarded back and surface as RX.
type MonitorAdapter struct {
	config MonitorConfig
	emit   EmitFunc
	logger *logging.Logger

	mu       sync.Mutex
	virtual  serial.Port
	physical serial.Port
	done     chan struct{}
	closing  atomic.Bool
	closed   sync.Once
	failed   sync.Once
}

func NewMonitorAdapter(config MonitorConfig, emit EmitFunc, logger *logging.Logger) *MonitorAdapter {
	if emit == nil {
		emit = func(Event) {}
	}
	return &MonitorAdapter{
		config: config,
		emit:   emit,
		logger: logger,
	}
}

func (a *MonitorAdapter) Open(ctx context.Context) error {
	if a.config.Virtual.Path == "" {
		return fault.Configf("virtual port path is empty")
	}
	if a.config.Physical.Path == "" {
		return fault.Configf("physical port path is empty")
	}

	virtual, err := openSerialPort(a.config.Virtual.Path, a.config.Virtual.Mode())
	if err != nil {
		return fault.Transport(err, "open "+a.config.Virtual.Path)
	}
	physical, err := openSerialPort(a.config.Physical.Path, a.config.Physical.Mode())
	if err != nil {
		virtual.Close()
		return fault.Transport(err, "open "+a.config.Physical.Path)
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.virtual = virtual
	a.physical = physical
	a.done = done
	a.mu.Unlock()

	virtualEnd := bridgeEnd{port: virtual, origin: OriginVirtual, path: a.config.Virtual.Path}
	physicalEnd := bridgeEnd{port: physical, origin: OriginPhysical, path: a.config.Physical.Path}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.bridgeLoop(virtualEnd, physicalEnd, DirTX)
	}()
	go func() {
		defer wg.Done()
		a.bridgeLoop(physicalEnd, virtualEnd, DirRX)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	a.logger.Debug("monitor bridge opened", map[string]string{
		"virtual":  a.config.Virtual.Path,
		"physical": a.config.Physical.Path,
	})
	return nil
}

type bridgeEnd struct {
	port   serial.Port
	origin Origin
	path   string
}

// bridgeLoop copies src to dst and reports each chunk. The first loop to
// hit an error outside of a local close emits the single ClosedEvent for
// the bridge, naming the endpoint that failed.
func (a *MonitorAdapter) bridgeLoop(src, dst bridgeEnd, dir Direction) {
	buf := make([]byte, serialReadBuffer)
	for {
		n, err := src.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := writeFull(dst.port, chunk, dst.path); werr != nil {
				a.fail(dst.origin, werr)
				return
			}
			a.emit(DataEvent{
				Dir:     dir,
				Payload: chunk,
				Origin:  src.origin,
				At:      time.Now(),
			})
		}
		if err != nil {
			a.fail(src.origin, err)
			return
		}
	}
}

func (a *MonitorAdapter) fail(origin Origin, err error) {
	if a.closing.Load() {
		return
	}
	a.failed.Do(func() {
		a.emit(ClosedEvent{
			Origin: origin,
			Reason: closeReason(err),
			At:     time.Now(),
		})
	})
}

// Write injects a payload toward the device, bypassing the virtual side.
func (a *MonitorAdapter) Write(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	physical := a.physical
	a.mu.Unlock()
	if physical == nil {
		return fault.Transportf("monitor bridge %s is not open", a.config.Physical.Path)
	}
	return writeFull(physical, payload, a.config.Physical.Path)
}

func (a *MonitorAdapter) Close() error {
	var err error
	a.closed.Do(func() {
		a.closing.Store(true)
		a.mu.Lock()
		virtual := a.virtual
		physical := a.physical
		done := a.done
		a.virtual = nil
		a.physical = nil
		a.mu.Unlock()

		var errs []error
		if virtual != nil {
			errs = append(errs, virtual.Close())
		}
		if physical != nil {
			errs = append(errs, physical.Close())
		}
		if done != nil {
			<-done
		}
		err = errors.Join(errs...)
		a.logger.Debug("monitor bridge closed", map[string]string{
			"virtual":  a.config.Virtual.Path,
			"physical": a.config.Physical.Path,
		})
	})
	return err
}
