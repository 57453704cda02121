package verify

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// Registry dispatches platform claims to verification strategies.
// Platform names are matched case-insensitively; aliases (twitter -> x)
// route to the identical strategy instance. Unknown platforms fall back to
// the generic website strategy.
type Registry struct {
	verifiers map[string]Verifier
	notes     map[string]string
	fallback  Verifier
}

// Option overrides registry construction defaults.
type Option func(*registryConfig)

type registryConfig struct {
	client   *http.Client
	logger   *slog.Logger
	policy   Policy
	githubAPI string
	moltbookBase string
}

// WithHTTPClient replaces the probe HTTP client (tests point it at httptest).
func WithHTTPClient(c *http.Client) Option {
	return func(rc *registryConfig) { rc.client = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(rc *registryConfig) { rc.logger = l }
}

// WithPolicy applies per-platform fail-open/fail-closed overrides.
func WithPolicy(p Policy) Option {
	return func(rc *registryConfig) { rc.policy = p }
}

// WithEndpoints overrides the probe base URLs (tests only).
func WithEndpoints(moltbookBase, githubAPI string) Option {
	return func(rc *registryConfig) {
		rc.moltbookBase = moltbookBase
		rc.githubAPI = githubAPI
	}
}

// NewRegistry builds the default platform registry.
func NewRegistry(opts ...Option) *Registry {
	rc := &registryConfig{
		client:       &http.Client{Timeout: ProbeTimeout},
		logger:       slog.Default(),
		moltbookBase: "https://www.moltbook.com",
		githubAPI:    "https://api.github.com",
	}
	for _, opt := range opts {
		opt(rc)
	}

	moltbook := &profileProbe{
		platform: "moltbook",
		client:   rc.client,
		method:   http.MethodHead,
		probeURL: func(h string) string { return rc.moltbookBase + "/u/" + h },
		profileURL: func(h string) string { return "https://moltbook.com/u/" + h },
		notFound:   "Moltbook profile not found",
		failClosed: rc.policy.FailClosed("moltbook"),
		logger:     rc.logger,
	}
	github := &profileProbe{
		platform: "github",
		client:   rc.client,
		method:   http.MethodGet,
		accept:   "application/json",
		probeURL: func(h string) string { return rc.githubAPI + "/users/" + h },
		profileURL: func(h string) string { return "https://github.com/" + h },
		notFound:   "GitHub user not found",
		failClosed: rc.policy.FailClosed("github"),
		logger:     rc.logger,
	}
	x := &handleFormat{
		urlFor:  func(h string) string { return "https://x.com/" + h },
		note:    "X profile not verified - please ensure it exists",
		stripAt: true,
	}
	discord := &handleFormat{
		urlFor: func(h string) string { return "discord:" + h },
		note:   "Discord handle stored but not verified",
	}
	farcaster := &handleFormat{
		urlFor: func(h string) string { return "https://warpcast.com/" + h },
		note:   "Farcaster profile not verified",
	}
	telegram := &handleFormat{
		urlFor:  func(h string) string { return "https://t.me/" + h },
		note:    "Telegram handle not verified",
		stripAt: true,
	}

	return &Registry{
		verifiers: map[string]Verifier{
			"moltbook":  moltbook,
			"github":    github,
			"x":         x,
			"twitter":   x, // alias, same strategy instance
			"discord":   discord,
			"farcaster": farcaster,
			"telegram":  telegram,
			"website":   website{},
		},
		notes: map[string]string{
			"moltbook":  "Profile existence verified",
			"github":    "User existence verified",
			"x":         "URL formatted, not verified",
			"twitter":   "Alias for x",
			"discord":   "Handle stored, not verified",
			"farcaster": "URL formatted, not verified",
			"telegram":  "URL formatted, not verified",
			"website":   "Any URL accepted",
		},
		fallback: website{},
	}
}

// Resolve returns the strategy for a platform name, falling back to the
// generic website strategy for unknown platforms.
func (r *Registry) Resolve(platform string) Verifier {
	if v, ok := r.verifiers[strings.ToLower(platform)]; ok {
		return v
	}
	return r.fallback
}

// Verify dispatches a single claim.
func (r *Registry) Verify(ctx context.Context, platform, handle string) Result {
	return r.Resolve(platform).Verify(ctx, handle)
}

// PlatformInfo describes one supported platform for the public listing.
type PlatformInfo struct {
	Platform string `json:"platform"`
	Note     string `json:"note"`
}

// Supported lists the known platforms and their verification notes.
func (r *Registry) Supported() []PlatformInfo {
	out := make([]PlatformInfo, 0, len(r.verifiers))
	for name := range r.verifiers {
		out = append(out, PlatformInfo{Platform: name, Note: r.notes[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
