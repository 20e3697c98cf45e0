package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.bug.st/serial"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
)

func TestSerialAdapterEmitsReceivedChunks(t *testing.T) {
	port := newFakePort()
	stubOpenPort(t, func(name string, mode *serial.Mode) (serial.Port, error) {
		if name != "/dev/ttyUSB0" {
			t.Errorf("opened %q, want /dev/ttyUSB0", name)
		}
		if mode.BaudRate != 9600 {
			t.Errorf("baud rate = %d, want 9600", mode.BaudRate)
		}
		return port, nil
	})

	emit, events := collectEvents()
	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/ttyUSB0", BaudRate: 9600}, emit, nil)
	if err := adapter.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	port.readCh <- []byte("pong")

	ev := waitEvent(t, events)
	data, ok := ev.(DataEvent)
	if !ok {
		t.Fatalf("event = %#v, want DataEvent", ev)
	}
	if data.Dir != DirRX {
		t.Errorf("direction = %q, want %q", data.Dir, DirRX)
	}
	if data.Origin != OriginDevice {
		t.Errorf("origin = %q, want %q", data.Origin, OriginDevice)
	}
	if !bytes.Equal(data.Payload, []byte("pong")) {
		t.Errorf("payload = %q, want %q", data.Payload, "pong")
	}
}

func TestSerialAdapterLocalCloseIsSilent(t *testing.T) {
	port := newFakePort()
	stubOpenPort(t, func(string, *serial.Mode) (serial.Port, error) { return port, nil })

	emit, events := collectEvents()
	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/ttyUSB0"}, emit, nil)
	if err := adapter.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := adapter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	expectNoEvent(t, events)
}

func TestSerialAdapterReportsRemoteClose(t *testing.T) {
	port := newFakePort()
	stubOpenPort(t, func(string, *serial.Mode) (serial.Port, error) { return port, nil })

	emit, events := collectEvents()
	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/ttyUSB0"}, emit, nil)
	if err := adapter.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	close(port.readCh)

	ev := waitEvent(t, events)
	closed, ok := ev.(ClosedEvent)
	if !ok {
		t.Fatalf("event = %#v, want ClosedEvent", ev)
	}
	if closed.Origin != OriginDevice {
		t.Errorf("origin = %q, want %q", closed.Origin, OriginDevice)
	}
	if closed.Reason == "" {
		t.Error("expected a close reason")
	}
}

func TestSerialAdapterOpenErrors(t *testing.T) {
	stubOpenPort(t, func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("no such device")
	})

	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/missing"}, nil, nil)
	err := adapter.Open(context.Background())
	if fault.ClassOf(err) != fault.ClassTransport {
		t.Fatalf("open error class = %q, want %q", fault.ClassOf(err), fault.ClassTransport)
	}

	adapter = NewSerialAdapter(SerialConfig{}, nil, nil)
	err = adapter.Open(context.Background())
	if fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("empty path error class = %q, want %q", fault.ClassOf(err), fault.ClassConfig)
	}
}

func TestSerialAdapterWriteRetriesShortWrites(t *testing.T) {
	port := newFakePort()
	port.writeLimit = 3
	stubOpenPort(t, func(string, *serial.Mode) (serial.Port, error) { return port, nil })

	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/ttyUSB0"}, nil, nil)
	if err := adapter.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	payload := []byte("0123456789")
	if err := adapter.Write(context.Background(), payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := port.writtenBytes(); !bytes.Equal(got, payload) {
		t.Errorf("written = %q, want %q", got, payload)
	}
}

func TestSerialAdapterWriteWithoutOpen(t *testing.T) {
	adapter := NewSerialAdapter(SerialConfig{Path: "/dev/ttyUSB0"}, nil, nil)
	err := adapter.Write(context.Background(), []byte("x"))
	if fault.ClassOf(err) != fault.ClassTransport {
		t.Fatalf("error class = %q, want %q", fault.ClassOf(err), fault.ClassTransport)
	}
}

func TestSerialConfigModeDefaults(t *testing.T) {
	mode := SerialConfig{Path: "/dev/ttyUSB0"}.Mode()
	if mode.BaudRate != 115200 {
		t.Errorf("default baud = %d, want 115200", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("default data bits = %d, want 8", mode.DataBits)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("default parity = %v, want none", mode.Parity)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("default stop bits = %v, want one", mode.StopBits)
	}

	mode = SerialConfig{Parity: "even", StopBits: "2", BaudRate: 19200, DataBits: 7}.Mode()
	if mode.Parity != serial.EvenParity || mode.StopBits != serial.TwoStopBits {
		t.Errorf("mode = %+v, want even parity and two stop bits", mode)
	}
}
