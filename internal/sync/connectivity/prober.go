package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/colabottles/basketbuddy/internal/logging"
)

// Prober checks a health endpoint on an interval and feeds the result into
// a Monitor.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a Prober for healthURL. timeout bounds each check.
func NewProber(monitor *Monitor, healthURL string, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		url:      healthURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Check performs one probe and returns whether the endpoint answered 2xx.
func (p *Prober) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		logging.WarnErr("invalid health url", err, map[string]interface{}{"url": p.url})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("health probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		ok := p.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.monitor.Set(ok)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
