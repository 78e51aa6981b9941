package speedtest

import (
	"strings"
	"testing"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	o := Options{}.withDefaults()
	if o.ServerCount != 3 {
		t.Fatalf("ServerCount = %d, want 3", o.ServerCount)
	}
	if o.Timeout != 120*time.Second {
		t.Fatalf("Timeout = %v, want 120s", o.Timeout)
	}

	o = Options{ServerCount: 1, Timeout: time.Second}.withDefaults()
	if o.ServerCount != 1 || o.Timeout != time.Second {
		t.Fatalf("explicit options overridden: %+v", o)
	}
}

func TestResultString(t *testing.T) {
	t.Parallel()

	r := &Result{
		DownloadMbps:  95.4,
		UploadMbps:    11.2,
		PingMs:        18,
		ServerName:    "Example ISP",
		ServerCountry: "Netherlands",
	}
	s := r.String()
	for _, want := range []string{"95.40", "11.20", "18 ms", "Example ISP", "Netherlands"} {
		if !strings.Contains(s, want) {
			t.Fatalf("String() = %q, missing %q", s, want)
		}
	}
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	r := &Result{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DownloadMbps: 50,
		UploadMbps:   10,
		PingMs:       25,
	}
	got := r.JSON()
	for _, want := range []string{`"download_mbps":50`, `"upload_mbps":10`, `"ping_ms":25`} {
		if !strings.Contains(got, want) {
			t.Fatalf("JSON() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "server_name") {
		t.Fatalf("JSON() = %q, empty fields should be omitted", got)
	}
}
