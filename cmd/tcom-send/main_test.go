package main

import (
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/thedongcc/Tcom-sub002/internal/version"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (rt roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func withMockClient(t *testing.T, rt roundTripperFunc, fn func()) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	previous := httpClient
	httpClient = &http.Client{Transport: rt}
	t.Cleanup(func() {
		httpClient = previous
	})
	fn()
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	previous := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe stdout: %v", err)
	}
	os.Stdout = writer
	fn()
	_ = writer.Close()
	os.Stdout = previous
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	_ = reader.Close()
	return string(data)
}

func sessionListResponse(r *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    r,
	}
}

func TestRunWithSenderVersionFlag(t *testing.T) {
	previous := version.Version
	version.Version = "1.2.3"
	t.Cleanup(func() {
		version.Version = previous
	})

	output := captureStdout(t, func() {
		exitCode := runWithSender([]string{"--version"}, strings.NewReader(""), io.Discard, nil)
		if exitCode != 0 {
			t.Fatalf("expected exit code 0, got %d", exitCode)
		}
	})
	if output != "tcom-send version 1.2.3\n" {
		t.Fatalf("unexpected version output: %q", output)
	}
}

func TestRunWithSenderVersionFlagDev(t *testing.T) {
	previous := version.Version
	version.Version = "dev"
	t.Cleanup(func() {
		version.Version = previous
	})

	output := captureStdout(t, func() {
		exitCode := runWithSender([]string{"--version"}, strings.NewReader(""), io.Discard, nil)
		if exitCode != 0 {
			t.Fatalf("expected exit code 0, got %d", exitCode)
		}
	})
	if output != "tcom-send dev\n" {
		t.Fatalf("unexpected version output: %q", output)
	}
}

func TestRunWithSenderUsageError(t *testing.T) {
	exitCode := runWithSender([]string{}, strings.NewReader(""), io.Discard, nil)
	if exitCode != exitUsage {
		t.Fatalf("expected exit code %d, got %d", exitUsage, exitCode)
	}
}

func TestRunWithSenderHelp(t *testing.T) {
	out := &strings.Builder{}
	exitCode := runWithSender([]string{"--help"}, strings.NewReader(""), out, nil)
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if !strings.Contains(out.String(), "Exit codes:") {
		t.Fatalf("help text missing exit codes: %q", out.String())
	}
}

func TestRunWithSenderResolvesAndSends(t *testing.T) {
	withMockClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/sessions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		return sessionListResponse(r, `[{"id":"s-1","name":"bench meter","kind":"serial","state":"connected"}]`), nil
	}, func() {
		var got Config
		var payload []byte
		exitCode := runWithSender([]string{"--url", "http://example.invalid", "bench"}, strings.NewReader("AT\r\n"), io.Discard, func(cfg Config, data []byte) error {
			got = cfg
			payload = data
			return nil
		})
		if exitCode != 0 {
			t.Fatalf("expected exit code 0, got %d", exitCode)
		}
		if got.SessionID != "s-1" || got.SessionName != "bench meter" {
			t.Fatalf("session not resolved: %+v", got)
		}
		if string(payload) != "AT\r\n" {
			t.Fatalf("payload lost: %q", payload)
		}
	})
}

func TestRunWithSenderUnknownSession(t *testing.T) {
	withMockClient(t, func(r *http.Request) (*http.Response, error) {
		return sessionListResponse(r, `[{"id":"s-1","name":"plc","kind":"serial","state":"idle"}]`), nil
	}, func() {
		errOut := &strings.Builder{}
		exitCode := runWithSender([]string{"--url", "http://example.invalid", "nope"}, strings.NewReader(""), errOut, nil)
		if exitCode != exitUsage {
			t.Fatalf("expected exit code %d, got %d", exitUsage, exitCode)
		}
		if !strings.Contains(errOut.String(), "unknown session") {
			t.Fatalf("missing diagnostic: %q", errOut.String())
		}
	})
}

func TestRunWithSenderServerUnreachable(t *testing.T) {
	withMockClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}, func() {
		errOut := &strings.Builder{}
		exitCode := runWithSender([]string{"--url", "http://example.invalid", "plc"}, strings.NewReader(""), errOut, nil)
		if exitCode != exitServer {
			t.Fatalf("expected exit code %d, got %d", exitServer, exitCode)
		}
		if !strings.Contains(errOut.String(), "cannot reach tcom") {
			t.Fatalf("missing diagnostic: %q", errOut.String())
		}
	})
}

func TestRunCompleteSessionsQuietOnFailure(t *testing.T) {
	withMockClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}, func() {
		out := &strings.Builder{}
		exitCode := runCompleteSessions([]string{"-url", "http://example.invalid"}, out, io.Discard)
		if exitCode != 0 {
			t.Fatalf("completion must not fail on a dead server, got %d", exitCode)
		}
		if out.String() != "" {
			t.Fatalf("unexpected output: %q", out.String())
		}
	})
}

func TestRunCompleteSessionsListsNames(t *testing.T) {
	withMockClient(t, func(r *http.Request) (*http.Response, error) {
		return sessionListResponse(r, `[{"id":"s-1","name":"plc","kind":"serial","state":"idle"},{"id":"s-2","name":"broker","kind":"mqtt","state":"connected"}]`), nil
	}, func() {
		out := &strings.Builder{}
		exitCode := runCompleteSessions([]string{"-url", "http://example.invalid"}, out, io.Discard)
		if exitCode != 0 {
			t.Fatalf("expected exit code 0, got %d", exitCode)
		}
		if out.String() != "plc\nbroker\n" {
			t.Fatalf("unexpected names: %q", out.String())
		}
	})
}

func TestRunCompletionScripts(t *testing.T) {
	out := &strings.Builder{}
	if exitCode := runCompletion([]string{"bash"}, out, io.Discard); exitCode != 0 {
		t.Fatalf("bash completion failed: %d", exitCode)
	}
	if !strings.Contains(out.String(), "__complete-sessions") {
		t.Fatalf("bash script missing session lookup")
	}
	if exitCode := runCompletion([]string{"fish"}, io.Discard, io.Discard); exitCode != 1 {
		t.Fatalf("unsupported shell must fail")
	}
}
