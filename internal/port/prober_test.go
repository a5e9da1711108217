package port

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// serverPort extracts the bound port of an httptest server.
func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	addr, ok := ts.Listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address type %T", ts.Listener.Addr())
	}
	return addr.Port
}

// freePort binds an ephemeral port and releases it. The port may be
// reclaimed by another process, but that is vanishingly rare in tests.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind ephemeral port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func healthyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != HealthPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"healthy","sessions":0}`)
	})
}

func TestIsPortFree(t *testing.T) {
	prober := NewProber(time.Second)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind: %v", err)
	}
	defer l.Close()
	bound := l.Addr().(*net.TCPAddr).Port

	if prober.IsPortFree(bound) {
		t.Errorf("IsPortFree(%d) = true for a bound port", bound)
	}

	l.Close()
	if !prober.IsPortFree(bound) {
		t.Errorf("IsPortFree(%d) = false after release", bound)
	}
}

func TestProbeHealthHealthy(t *testing.T) {
	ts := httptest.NewServer(healthyHandler())
	defer ts.Close()

	prober := NewProber(time.Second)
	if got := prober.ProbeHealth(context.Background(), serverPort(t, ts)); got != Healthy {
		t.Errorf("ProbeHealth = %q, want %q", got, Healthy)
	}
}

func TestProbeHealthNonConforming(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "wrong status field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"status":"degraded"}`)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "hello")
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
	}

	prober := NewProber(time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			if got := prober.ProbeHealth(context.Background(), serverPort(t, ts)); got != Unhealthy {
				t.Errorf("ProbeHealth = %q, want %q", got, Unhealthy)
			}
		})
	}
}

func TestProbeHealthNotRunning(t *testing.T) {
	prober := NewProber(time.Second)
	if got := prober.ProbeHealth(context.Background(), freePort(t)); got != NotRunning {
		t.Errorf("ProbeHealth = %q, want %q", got, NotRunning)
	}
}

func TestProbeHealthNonHTTPOccupant(t *testing.T) {
	// A raw TCP listener that never speaks HTTP.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	prober := NewProber(time.Second)
	got := prober.ProbeHealth(context.Background(), l.Addr().(*net.TCPAddr).Port)
	if got != Unhealthy {
		t.Errorf("ProbeHealth = %q, want %q", got, Unhealthy)
	}
}
