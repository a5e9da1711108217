// Package port implements local port probing and discovery for the shared
// HTTP listener. Independent client invocations use it to converge on a
// single server process without any shared state beyond the network: a
// healthy peer is reused, otherwise the first process to bind a free port
// wins the role.
package port

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HealthPath is the well-known health endpoint served by the listener.
const HealthPath = "/api/health"

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 2 * time.Second

// HealthStatus classifies what occupies a port.
type HealthStatus string

const (
	// Healthy means a conforming listener answered the health probe.
	Healthy HealthStatus = "healthy"
	// Unhealthy means something is bound to the port but it is not a
	// conforming listener (or a conforming one reported trouble).
	Unhealthy HealthStatus = "unhealthy"
	// NotRunning means nothing is bound to the port.
	NotRunning HealthStatus = "not-running"
)

// Prober answers availability and health questions about local ports.
type Prober struct {
	client *http.Client
}

// NewProber creates a Prober whose health probes time out after timeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
	}
}

// IsPortFree reports whether a throwaway listener can bind the port on
// localhost. The listener is released immediately; a bind failure for any
// reason (in use, permission) counts as not free.
func (p *Prober) IsPortFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// healthBody is the subset of the health response the prober inspects.
type healthBody struct {
	Status string `json:"status"`
}

// ProbeHealth classifies the process occupying a port. It never returns an
// error: network failures resolve to NotRunning or Unhealthy.
//
// The disambiguation between NotRunning and Unhealthy on connection failure
// re-checks IsPortFree after the failed probe. The occupant could release
// the port between the two checks, so the result is best-effort, which is
// acceptable for discovery.
func (p *Prober) ProbeHealth(ctx context.Context, port int) HealthStatus {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, HealthPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Unhealthy
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.IsPortFree(port) {
			return NotRunning
		}
		// Something is bound there but refuses or times out our probe.
		return Unhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Unhealthy
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Unhealthy
	}

	var body healthBody
	if err := json.Unmarshal(data, &body); err != nil || body.Status != "healthy" {
		return Unhealthy
	}
	return Healthy
}
