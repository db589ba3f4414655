package github

import (
	"io"
	"net/http"
	"time"

	"k8s.io/utils/clock"

	"github.com/apnisec/npmguard/pkg/log"
)

const (
	defaultRetries        = 3
	defaultPaceDelay      = 1 * time.Second
	defaultRateLimitPause = 60 * time.Second
)

// pacedTransport paces, retries and backs off every outbound request.
//
//   - the pacing delay is applied unconditionally before each request, not
//     only on retry, to respect upstream rate limits
//   - 401 is returned immediately: retrying a rejected credential cannot help
//   - the first 403 is treated as a rate-limit signal: one long fixed pause,
//     then the same attempt is retried without consuming the attempt budget.
//     Further 403s count against the budget; GitHub also uses 403 for
//     SSO-blocked and token-restricted repositories, where pausing again
//     cannot help
//   - anything else (transport errors, other non-2xx statuses) backs off
//     exponentially between attempts until the budget is spent
//
// Only idempotent GET requests flow through this transport, so replaying a
// request needs no body rewind.
type pacedTransport struct {
	next           http.RoundTripper
	retries        int
	paceDelay      time.Duration
	rateLimitPause time.Duration
	clock          clock.Clock
	logger         *log.Logger
}

func newPacedTransport(next http.RoundTripper, cfg Config, cl clock.Clock) *pacedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &pacedTransport{
		next:           next,
		retries:        cfg.Retries,
		paceDelay:      cfg.PaceDelay,
		rateLimitPause: cfg.RateLimitPause,
		clock:          cl,
		logger:         log.WithPrefix("github"),
	}
	if t.retries <= 0 {
		t.retries = defaultRetries
	}
	if t.paceDelay < 0 {
		t.paceDelay = defaultPaceDelay
	}
	if t.rateLimitPause <= 0 {
		t.rateLimitPause = defaultRateLimitPause
	}
	return t
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error
	paused := false

	for attempt := 0; attempt < t.retries; {
		t.clock.Sleep(t.paceDelay)

		resp, err := t.next.RoundTrip(req)
		switch {
		case err != nil:
			lastResp, lastErr = nil, err
		case resp.StatusCode == http.StatusUnauthorized:
			t.logger.Error("Authentication failed, not retrying",
				log.String("url", req.URL.Path))
			return resp, nil
		case resp.StatusCode == http.StatusForbidden && !paused:
			paused = true
			t.logger.Warn("Rate limited, pausing",
				log.String("url", req.URL.Path),
				log.Duration("pause", t.rateLimitPause),
				log.Int("attempt", attempt+1))
			discard(resp)
			t.clock.Sleep(t.rateLimitPause)
			// same attempt is retried once; a 403 that survives the pause is
			// not a rate limit and falls through to the normal budget below
			continue
		case resp.StatusCode < http.StatusBadRequest:
			return resp, nil
		default:
			lastErr = nil
			lastResp = resp
		}

		attempt++
		if attempt < t.retries {
			backoff := (1 << (attempt - 1)) * time.Second
			if lastErr != nil {
				t.logger.Warn("Request failed, backing off",
					log.String("url", req.URL.Path),
					log.Duration("backoff", backoff),
					log.Int("attempt", attempt),
					log.Err(lastErr))
			} else {
				t.logger.Warn("Unexpected status, backing off",
					log.String("url", req.URL.Path),
					log.Int("status", lastResp.StatusCode),
					log.Duration("backoff", backoff),
					log.Int("attempt", attempt))
			}
			if lastResp != nil {
				discard(lastResp)
				lastResp = nil
			}
			t.clock.Sleep(backoff)
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func discard(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
