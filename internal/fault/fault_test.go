package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOf(t *testing.T) {
	cause := errors.New("device gone")
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"transport", Transport(cause, "open serial"), ClassTransport},
		{"unauthorized", Unauthorized(cause, "create pair"), ClassUnauthorized},
		{"config", Configf("path is empty"), ClassConfig},
		{"persistence", Persistence(cause, "save session"), ClassPersistence},
		{"wrapped deeper", fmt.Errorf("connect: %w", Transport(cause, "open serial")), ClassTransport},
		{"unclassified", cause, ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassOf(tc.err); got != tc.want {
				t.Fatalf("expected class %q, got %q", tc.want, got)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Transport(errors.New("port busy"), "open serial")
	if got := err.Error(); got != "open serial: port busy" {
		t.Fatalf("unexpected message %q", got)
	}
	bare := Configf("paired port for %s not found", "COM11")
	if got := bare.Error(); got != "paired port for COM11 not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("broker refused")
	err := Transport(cause, "mqtt connect")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestIsClass(t *testing.T) {
	err := fmt.Errorf("disconnect: %w", Unauthorized(errors.New("access denied"), "remove pair"))
	if !IsClass(err, ClassUnauthorized) {
		t.Fatal("expected unauthorized class through wrapping")
	}
	if IsClass(err, ClassTransport) {
		t.Fatal("did not expect transport class")
	}
}
