// Package verify implements platform identity verification for agent
// registration. Each platform maps to a strategy that turns a claimed
// handle into a canonical profile URL plus an existence judgment.
//
// Strategies make at most one outbound probe, bounded by a fixed timeout.
// They never retry; the registration pipeline owns the overall budget.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ProbeTimeout bounds a single outbound existence probe.
const ProbeTimeout = 10 * time.Second

// Result is the outcome of verifying one platform claim.
//
// Unverified=true marks a degraded-confidence pass: the remote check could
// not be completed (timeout, transport failure) and policy allowed the claim
// through anyway. It is not a failure.
type Result struct {
	Valid      bool
	URL        string
	Error      string
	Unverified bool
	Note       string
}

// Verifier judges whether a claimed handle plausibly exists on a platform.
type Verifier interface {
	Verify(ctx context.Context, handle string) Result
}

// profileProbe checks a deterministic profile/user endpoint built from the
// handle. Valid iff the remote answered with a success status. A transport
// failure resolves to the platform's fail-open/fail-closed policy; it is
// never reported as non-existence.
type profileProbe struct {
	platform   string
	client     *http.Client
	method     string
	accept     string
	probeURL   func(handle string) string
	profileURL func(handle string) string
	notFound   string
	failClosed bool
	logger     *slog.Logger
}

func (p *profileProbe) Verify(ctx context.Context, handle string) Result {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	url := p.profileURL(handle)

	req, err := http.NewRequestWithContext(ctx, p.method, p.probeURL(handle), nil)
	if err != nil {
		return Result{Valid: false, URL: url, Error: fmt.Sprintf("invalid handle: %v", err)}
	}
	if p.accept != "" {
		req.Header.Set("Accept", p.accept)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.failClosed {
			p.logger.Warn("verification probe failed, failing closed",
				"platform", p.platform, "handle", handle, "err", err)
			return Result{Valid: false, URL: url, Error: p.platform + " could not be verified"}
		}
		p.logger.Warn("verification probe failed, allowing unverified",
			"platform", p.platform, "handle", handle, "err", err)
		return Result{Valid: true, URL: url, Unverified: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Valid: true, URL: url}
	}
	return Result{Valid: false, URL: url, Error: p.notFound}
}

// handleFormat accepts any handle without checking, formats the canonical
// URL, and attaches an advisory note so callers know no probe was made.
type handleFormat struct {
	urlFor  func(handle string) string
	note    string
	stripAt bool
}

func (h *handleFormat) Verify(_ context.Context, handle string) Result {
	if h.stripAt {
		handle = strings.TrimPrefix(handle, "@")
	}
	return Result{Valid: true, URL: h.urlFor(handle), Note: h.note}
}

// website accepts any string as a URL, prefixing an https scheme if absent.
// It is also the fallback for platforms the registry does not know.
type website struct{}

func (website) Verify(_ context.Context, raw string) Result {
	u := strings.TrimSpace(raw)
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return Result{Valid: true, URL: u}
}
