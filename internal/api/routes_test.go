package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/transport"
)

func newRoutedServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	registry := session.NewRegistry(session.RegistryOptions{})
	pipeline := session.NewPipeline(registry, session.PipelineOptions{})
	controller := session.NewController(registry, pipeline, session.ControllerOptions{
		Factory: func(config session.Config, emit transport.EmitFunc) (transport.Adapter, error) {
			return &stubAdapter{}, nil
		},
	})
	t.Cleanup(func() {
		pipeline.Close()
		registry.Close()
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, RouterOptions{
		Registry:   registry,
		Controller: controller,
		AuthToken:  token,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterRoutesServesStatus(t *testing.T) {
	srv := newRoutedServer(t, "")

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != cacheControlNoStore {
		t.Fatalf("expected no-store cache control, got %q", got)
	}
}

func TestRegisterRoutesRootResponder(t *testing.T) {
	srv := newRoutedServer(t, "secret")

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tcom ok") {
		t.Fatalf("unexpected root body %q", body)
	}
	if got := resp.Header.Get("X-Tcom-Auth"); got != "required" {
		t.Fatalf("expected auth hint header, got %q", got)
	}
}

func TestRegisterRoutesUnknownAPIPathIs404(t *testing.T) {
	srv := newRoutedServer(t, "")

	resp, err := http.Get(srv.URL + "/api/nothing")
	if err != nil {
		t.Fatalf("get unknown path: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRegisterRoutesEnforcesToken(t *testing.T) {
	srv := newRoutedServer(t, "secret")

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get sessions with token: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}
}

func TestRegisterRoutesServesMetrics(t *testing.T) {
	srv := newRoutedServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tcom_") {
		t.Fatalf("expected prometheus exposition, got %q", body)
	}
}
