// Package notify reports run lifecycle events to an HTTP health-check endpoint.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
)

// States reported in the state query parameter.
const (
	StateRun      = "run"
	StateComplete = "complete"
	StateFail     = "fail"
)

// Pinger sends GET requests to a health-check URL such as a healthchecks.io
// or Uptime Kuma push endpoint.
type Pinger struct {
	url      *url.URL
	hostname string
	client   *retryablehttp.Client
}

// New returns a Pinger for rawURL, or a no-op notifier when rawURL is empty.
func New(rawURL string, logger *slog.Logger) (backup.Notifier, error) {
	if rawURL == "" {
		return backup.NopNotifier{}, nil
	}
	return NewPinger(rawURL, logger)
}

// NewPinger creates a Pinger. Failed requests are retried up to three times.
func NewPinger(rawURL string, logger *slog.Logger) (*Pinger, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PING_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid PING_URL scheme: %q", u.Scheme)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	if logger != nil {
		client.Logger = logger.With("component", "notify")
	}

	return &Pinger{url: u, hostname: hostname, client: client}, nil
}

// Run implements backup.Notifier.
func (p *Pinger) Run(ctx context.Context) error {
	return p.ping(ctx, StateRun, nil)
}

// Complete implements backup.Notifier.
func (p *Pinger) Complete(ctx context.Context, outcome *backup.Outcome) error {
	return p.ping(ctx, StateComplete, url.Values{
		"metric":      {"error_count:" + strconv.Itoa(outcome.ErrorCount)},
		"status_code": {strconv.Itoa(outcome.UploadExitCode)},
	})
}

// Fail implements backup.Notifier.
func (p *Pinger) Fail(ctx context.Context, cause error) error {
	msg := "backup failed"
	if cause != nil {
		msg = cause.Error()
	}
	return p.ping(ctx, StateFail, url.Values{"message": {msg}})
}

// URL returns the request URL for a state, merging extra into any query the
// configured URL already carries.
func (p *Pinger) URL(state string, extra url.Values) string {
	u := *p.url
	q := u.Query()
	q.Set("state", state)
	q.Set("host", p.hostname)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Pinger) ping(ctx context.Context, state string, extra url.Values) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.URL(state, extra), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", state, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ping %s: unexpected status %s", state, resp.Status)
	}
	return nil
}
