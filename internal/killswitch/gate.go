// Package killswitch fetches the remote disable flag consulted before
// every delivery attempt.
package killswitch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds the flag fetch so a slow remote cannot stall a
// delivery pass.
const DefaultTimeout = 5 * time.Second

// Gate reads a single remote boolean. The policy on any failure is
// fail-open: forwarding proceeds. Availability is preferred over a strict
// shutoff and that tradeoff is intentional.
type Gate struct {
	url    string
	client *http.Client
}

// NewGate creates a gate reading the flag at url. An empty url disables
// the gate entirely (never disabled).
func NewGate(url string, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// IsDisabled fetches the flag fresh; there is no caching across attempts
// so a flipped switch takes effect on the next delivery.
func (g *Gate) IsDisabled(ctx context.Context) bool {
	if g.url == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		logrus.WithError(err).Warn("Kill switch request invalid, proceeding")
		return false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		logrus.WithError(err).Warn("Kill switch fetch failed, proceeding")
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		logrus.WithField("status", resp.StatusCode).Warn("Kill switch fetch returned non-OK, proceeding")
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		logrus.WithError(err).Warn("Kill switch body unreadable, proceeding")
		return false
	}

	switch strings.Trim(strings.TrimSpace(string(body)), `"`) {
	case "true", "1":
		return true
	default:
		return false
	}
}
