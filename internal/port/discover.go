package port

import (
	"context"
	"fmt"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
)

// DiscoveryResult is the outcome of a launch attempt's port discovery.
// It is immutable after creation.
type DiscoveryResult struct {
	// Port is the port to use.
	Port int
	// IsExistingServer is true when a healthy peer already serves on Port
	// and this process should defer instead of binding.
	IsExistingServer bool
	// Health is the probed status of Port, when it was probed.
	Health HealthStatus
}

// RangeExhaustedError reports that no port in the configured range could
// be used.
type RangeExhaustedError struct {
	Low, High int
}

func (e *RangeExhaustedError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d", e.Low, e.High)
}

// Discoverer scans a fixed port range for a healthy peer or a free port.
type Discoverer struct {
	prober *Prober
}

// NewDiscoverer creates a Discoverer using the given prober.
func NewDiscoverer(prober *Prober) *Discoverer {
	return &Discoverer{prober: prober}
}

// Discover decides which port this invocation should use.
//
// Order of preference:
//  1. A healthy server on preferredPort (fast path, no scan).
//  2. The first healthy server found scanning low..high ascending.
//  3. preferredPort, if free.
//  4. The first free port scanning low..high ascending.
//
// When nothing in the range is free and nothing is healthy it returns a
// *RangeExhaustedError naming the range. Health scanning runs before the
// availability scan so that concurrent startups converge on one shared
// server instead of each binding its own port.
func (d *Discoverer) Discover(ctx context.Context, preferredPort, low, high int) (DiscoveryResult, error) {
	log := logging.Discovery()

	if preferredPort > 0 {
		if status := d.prober.ProbeHealth(ctx, preferredPort); status == Healthy {
			log.Debug("healthy server on preferred port", "port", preferredPort)
			return DiscoveryResult{Port: preferredPort, IsExistingServer: true, Health: Healthy}, nil
		}
	}

	for p := low; p <= high; p++ {
		if p == preferredPort {
			continue // already probed above
		}
		if err := ctx.Err(); err != nil {
			return DiscoveryResult{}, err
		}
		if status := d.prober.ProbeHealth(ctx, p); status == Healthy {
			log.Debug("healthy server found in range scan", "port", p)
			return DiscoveryResult{Port: p, IsExistingServer: true, Health: Healthy}, nil
		}
	}

	if preferredPort > 0 && d.prober.IsPortFree(preferredPort) {
		log.Debug("preferred port is free", "port", preferredPort)
		return DiscoveryResult{Port: preferredPort, IsExistingServer: false}, nil
	}

	for p := low; p <= high; p++ {
		if p == preferredPort {
			continue
		}
		if err := ctx.Err(); err != nil {
			return DiscoveryResult{}, err
		}
		if d.prober.IsPortFree(p) {
			log.Debug("free port found in range scan", "port", p)
			return DiscoveryResult{Port: p, IsExistingServer: false}, nil
		}
	}

	log.Warn("port range exhausted", "low", low, "high", high)
	return DiscoveryResult{}, &RangeExhaustedError{Low: low, High: high}
}
