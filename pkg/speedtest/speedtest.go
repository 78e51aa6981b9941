// Package speedtest measures bandwidth against nearby speedtest.net
// servers. The "speedtest" scheduler action uses it as a periodic
// connectivity check; results are small enough to keep in the settings
// store as JSON.
package speedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"schedd/pkg/logx"
)

// Options controls a measurement run.
type Options struct {
	// ServerCount is how many nearby servers to try, closest first,
	// before the run is declared failed.
	ServerCount int
	// Timeout bounds the whole run including server discovery.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ServerCount <= 0 {
		o.ServerCount = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	return o
}

// Result is one completed measurement.
type Result struct {
	Timestamp     time.Time `json:"timestamp"`
	DownloadMbps  float64   `json:"download_mbps"`
	UploadMbps    float64   `json:"upload_mbps"`
	PingMs        float64   `json:"ping_ms"`
	ISP           string    `json:"isp,omitempty"`
	ServerName    string    `json:"server_name,omitempty"`
	ServerCountry string    `json:"server_country,omitempty"`
}

// JSON renders the result for persistence.
func (r *Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (r *Result) String() string {
	return fmt.Sprintf("↓ %.2f Mbps / ↑ %.2f Mbps / ping %.0f ms via %s (%s)",
		r.DownloadMbps, r.UploadMbps, r.PingMs, r.ServerName, r.ServerCountry)
}

// Run performs a single measurement. Candidate servers are tried in
// distance order until one completes both transfer directions; a server
// that fails any stage is skipped with a warning.
func Run(ctx context.Context, opts Options, log logx.Logger) (*Result, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// Fresh client per run; the package-level helpers keep global state.
	stc := st.New()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if len(servers) > opts.ServerCount {
		servers = servers[:opts.ServerCount]
	}

	var lastErr error
	for _, s := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.PingTestContext(ctx, nil); err != nil {
			log.Warn("speedtest ping failed", logx.String("server", s.Sponsor), logx.Err(err))
			lastErr = err
			continue
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			log.Warn("speedtest download failed", logx.String("server", s.Sponsor), logx.Err(err))
			lastErr = err
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			log.Warn("speedtest upload failed", logx.String("server", s.Sponsor), logx.Err(err))
			lastErr = err
			continue
		}

		return &Result{
			Timestamp:     time.Now(),
			DownloadMbps:  s.DLSpeed.Mbps(),
			UploadMbps:    s.ULSpeed.Mbps(),
			PingMs:        float64(s.Latency.Milliseconds()),
			ISP:           user.Isp,
			ServerName:    s.Sponsor,
			ServerCountry: s.Country,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every candidate server failed")
	}
	return nil, fmt.Errorf("speedtest: %w", lastErr)
}
