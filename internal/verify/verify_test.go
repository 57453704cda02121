package verify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))

	res := r.Verify(context.Background(), "TELEGRAM", "@kit")
	require.True(t, res.Valid)
	assert.Equal(t, "https://t.me/kit", res.URL)
}

func TestTwitterAliasRoutesToX(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))

	assert.Same(t, r.Resolve("twitter"), r.Resolve("x"))

	res := r.Verify(context.Background(), "twitter", "@kitviolin")
	require.True(t, res.Valid)
	assert.Equal(t, "https://x.com/kitviolin", res.URL)
	assert.NotEmpty(t, res.Note)
}

func TestUnknownPlatformFallsBackToWebsite(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))

	res := r.Verify(context.Background(), "myspace", "example.com/profile")
	require.True(t, res.Valid)
	assert.Equal(t, "https://example.com/profile", res.URL)
}

func TestWebsiteKeepsExistingScheme(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))

	res := r.Verify(context.Background(), "website", "http://agents.example.com")
	require.True(t, res.Valid)
	assert.Equal(t, "http://agents.example.com", res.URL)
}

func TestGitHubProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/kitviolin", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"login":"kitviolin"}`))
	}))
	defer srv.Close()

	r := NewRegistry(WithLogger(quietLogger()), WithEndpoints(srv.URL, srv.URL))

	res := r.Verify(context.Background(), "github", "kitviolin")
	require.True(t, res.Valid)
	assert.False(t, res.Unverified)
	assert.Equal(t, "https://github.com/kitviolin", res.URL)
}

func TestGitHubProbeNotFoundFailsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewRegistry(WithLogger(quietLogger()), WithEndpoints(srv.URL, srv.URL))

	res := r.Verify(context.Background(), "github", "nobody-here")
	require.False(t, res.Valid)
	assert.Equal(t, "GitHub user not found", res.Error)
	assert.False(t, res.Unverified)
}

func TestMoltbookProbeUsesHead(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	r := NewRegistry(WithLogger(quietLogger()), WithEndpoints(srv.URL, srv.URL))

	res := r.Verify(context.Background(), "moltbook", "kit")
	require.True(t, res.Valid)
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "https://moltbook.com/u/kit", res.URL)
}

func TestProbeTimeoutFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	r := NewRegistry(
		WithLogger(quietLogger()),
		WithEndpoints(srv.URL, srv.URL),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
	)

	res := r.Verify(context.Background(), "github", "kitviolin")
	require.True(t, res.Valid)
	assert.True(t, res.Unverified)
	assert.Equal(t, "https://github.com/kitviolin", res.URL)
}

func TestProbeTimeoutFailsClosedUnderPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	r := NewRegistry(
		WithLogger(quietLogger()),
		WithEndpoints(srv.URL, srv.URL),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
		WithPolicy(Policy{Platforms: map[string]PlatformPolicy{
			"github": {FailClosed: true},
		}}),
	)

	res := r.Verify(context.Background(), "github", "kitviolin")
	require.False(t, res.Valid)
	assert.False(t, res.Unverified)
	assert.NotEmpty(t, res.Error)
}

func TestSupportedListsAllPlatforms(t *testing.T) {
	r := NewRegistry(WithLogger(quietLogger()))

	infos := r.Supported()
	names := make([]string, len(infos))
	for i, p := range infos {
		names[i] = p.Platform
	}
	assert.ElementsMatch(t, names, []string{
		"moltbook", "github", "x", "twitter", "discord", "farcaster", "telegram", "website",
	})
}
