package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdirectory/backend/internal/capabilities"
	"github.com/agentdirectory/backend/internal/directory"
	"github.com/agentdirectory/backend/internal/gate"
	"github.com/agentdirectory/backend/internal/registrar"
	"github.com/agentdirectory/backend/internal/verify"
)

type allValidVerifier struct{}

func (allValidVerifier) Verify(_ context.Context, platform, handle string) verify.Result {
	return verify.Result{Valid: true, URL: "https://" + strings.ToLower(platform) + ".example/" + handle}
}

type fakeDir struct {
	records    map[string]*directory.Record
	fee        *big.Int
	balance    *big.Int
	noSponsor  bool
	submitted  int
	gotLimit   uint64
	namesByIdx []string
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		records: make(map[string]*directory.Record),
		fee:     big.NewInt(1000),
		balance: big.NewInt(1_000_000),
	}
}

func (f *fakeDir) Lookup(_ context.Context, name string) (*directory.Record, error) {
	if rec, ok := f.records[strings.ToLower(name)]; ok {
		return rec, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDir) Count(context.Context) (uint64, error) {
	return uint64(len(f.namesByIdx)), nil
}

func (f *fakeDir) RegistrationFee(context.Context) (*big.Int, error) { return f.fee, nil }

func (f *fakeDir) AgentNames(_ context.Context, offset, limit uint64) ([]string, error) {
	f.gotLimit = limit
	if offset >= uint64(len(f.namesByIdx)) {
		return nil, nil
	}
	end := offset + limit
	if end > uint64(len(f.namesByIdx)) {
		end = uint64(len(f.namesByIdx))
	}
	return f.namesByIdx[offset:end], nil
}

func (f *fakeDir) SubmitRegistration(_ context.Context, name string, platforms, urls []string, _ *big.Int) (*directory.PendingTx, error) {
	f.submitted++
	return &directory.PendingTx{Hash: "0xfeedface"}, nil
}

func (f *fakeDir) Confirm(_ context.Context, p *directory.PendingTx) (*directory.Confirmation, error) {
	return &directory.Confirmation{TxHash: p.Hash, BlockNumber: 7}, nil
}

func (f *fakeDir) SponsorBalance(context.Context) (*big.Int, error) { return f.balance, nil }

func (f *fakeDir) SponsorConfigured() bool { return !f.noSponsor }

func newTestServer(t *testing.T, dir *fakeDir) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	caps, err := capabilities.Open(filepath.Join(t.TempDir(), "capabilities.json"), logger)
	require.NoError(t, err)

	g := gate.New(gate.NewMemoryStore(), time.Minute)
	pipeline := registrar.New(allValidVerifier{}, g, dir, big.NewInt(500), nil, logger)

	return NewServer(Options{
		Pipeline:      pipeline,
		Directory:     dir,
		Capabilities:  caps,
		Platforms:     verify.NewRegistry(verify.WithLogger(logger)),
		Logger:        logger,
		Network:       "Base Mainnet",
		ContractAddr:  "0xD172eE7F44B1d9e2C2445E89E736B980DA1f1205",
		ExplorerTxURL: "https://basescan.org/tx/",
		DirectoryURL:  "https://ts00.github.io/agent-directory/",
		Cooldown:      time.Minute,
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSponsoredRegisterSuccess(t *testing.T) {
	dir := newFakeDir()
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"name":      "KitViolin",
		"platforms": []map[string]string{{"platform": "github", "handle": "kitviolin"}},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "0xfeedface", body["txHash"])
	assert.Equal(t, "https://basescan.org/tx/0xfeedface", body["explorerUrl"])
	agent := body["agent"].(map[string]interface{})
	assert.Equal(t, "KitViolin", agent["name"])
}

func TestSponsoredRegisterValidation(t *testing.T) {
	router := newTestServer(t, newFakeDir()).Router()

	rec := doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"platforms": []map[string]string{{"platform": "github", "handle": "kit"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"name": "KitViolin",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSponsoredRegisterRateLimited(t *testing.T) {
	dir := newFakeDir()
	router := newTestServer(t, dir).Router()

	body := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"name":      name,
			"platforms": []map[string]string{{"platform": "github", "handle": "kit"}},
		}
	}

	rec := doJSON(t, router, "POST", "/register/sponsored", body("FirstAgent"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, "POST", "/register/sponsored", body("SecondAgent"), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Different caller is unaffected.
	rec = doJSON(t, router, "POST", "/register/sponsored", body("SecondAgent"),
		map[string]string{"X-Forwarded-For": "203.0.113.9"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSponsoredRegisterConflict(t *testing.T) {
	dir := newFakeDir()
	dir.records["kitviolin"] = &directory.Record{
		Name:      "KitViolin",
		Platforms: []string{"moltbook"},
		URLs:      []string{"https://moltbook.com/u/kit"},
	}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"name":      "KitViolin",
		"platforms": []map[string]string{{"platform": "github", "handle": "kit"}},
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, dir.submitted)
}

func TestSponsoredRegisterUnderfunded(t *testing.T) {
	dir := newFakeDir()
	dir.balance = big.NewInt(1) // below fee + buffer
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"name":      "KitViolin",
		"platforms": []map[string]string{{"platform": "github", "handle": "kitviolin"}},
	}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "needs funding")
	assert.Zero(t, dir.submitted)
}

func TestSponsoredRegisterNoSponsor(t *testing.T) {
	dir := newFakeDir()
	dir.noSponsor = true
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/register/sponsored", map[string]interface{}{
		"name":      "KitViolin",
		"platforms": []map[string]string{{"platform": "github", "handle": "kitviolin"}},
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Sponsor wallet not configured", decode(t, rec)["error"])
}

func TestLegacyRegisterRewrites(t *testing.T) {
	dir := newFakeDir()
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/register", map[string]string{
		"moltbook_username": "KitViolin",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	agent := decode(t, rec)["agent"].(map[string]interface{})
	platforms := agent["platforms"].([]interface{})
	require.Len(t, platforms, 1)
	assert.Equal(t, "moltbook", platforms[0])

	rec = doJSON(t, router, "POST", "/register", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookup(t *testing.T) {
	dir := newFakeDir()
	dir.records["kitviolin"] = &directory.Record{
		Name:         "KitViolin",
		Platforms:    []string{"github"},
		URLs:         []string{"https://github.com/kitviolin"},
		Registrant:   common.HexToAddress("0x1"),
		RegisteredAt: time.Unix(1_700_000_000, 0),
		LastActive:   time.Unix(1_700_000_000, 0),
	}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "GET", "/lookup/KitViolin", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "KitViolin", decode(t, rec)["name"])

	rec = doJSON(t, router, "GET", "/lookup/Nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	dir := newFakeDir()
	dir.namesByIdx = []string{"a", "b", "c"}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "GET", "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["registeredAgents"])
	assert.Equal(t, "Base Mainnet", body["network"])
	assert.Equal(t, true, body["sponsoredRegistration"])
}

func TestListAgentsLimitCapped(t *testing.T) {
	dir := newFakeDir()
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "GET", "/agents?limit=1000", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(500), dir.gotLimit)
	assert.Equal(t, float64(500), decode(t, rec)["limit"])
}

func TestAgentsByPlatform(t *testing.T) {
	dir := newFakeDir()
	dir.namesByIdx = []string{"Kit", "Rufio"}
	dir.records["kit"] = &directory.Record{Name: "Kit", Platforms: []string{"GitHub"}}
	dir.records["rufio"] = &directory.Record{Name: "Rufio", Platforms: []string{"moltbook"}}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "GET", "/agents/by-platform/github", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestPlatformHistogram(t *testing.T) {
	dir := newFakeDir()
	dir.namesByIdx = []string{"Kit", "Rufio"}
	dir.records["kit"] = &directory.Record{Name: "Kit", Platforms: []string{"github", "x"}}
	dir.records["rufio"] = &directory.Record{Name: "Rufio", Platforms: []string{"github"}}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "GET", "/platforms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["totalPlatforms"])
	platforms := body["platforms"].([]interface{})
	first := platforms[0].(map[string]interface{})
	assert.Equal(t, "github", first["platform"])
	assert.Equal(t, float64(2), first["agentCount"])
}

func TestCapabilityWriteRequiresRegisteredAgent(t *testing.T) {
	dir := newFakeDir()
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/agents/Ghost/capabilities", map[string]interface{}{
		"capabilities": []string{"violin"},
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilityRoundTripAndFind(t *testing.T) {
	dir := newFakeDir()
	dir.records["kitviolin"] = &directory.Record{Name: "KitViolin"}
	router := newTestServer(t, dir).Router()

	rec := doJSON(t, router, "POST", "/agents/KitViolin/capabilities", map[string]interface{}{
		"capabilities": []string{"Violin", "voice", "not a tag!"},
		"description":  "plays strings",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	caps := decode(t, rec)["capabilities"].([]interface{})
	assert.Equal(t, []interface{}{"violin", "voice"}, caps)

	rec = doJSON(t, router, "GET", "/agents/KitViolin/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/find?q=vio", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	match := body["agents"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"violin"}, match["matchedOn"])

	rec = doJSON(t, router, "GET", "/find", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "GET", "/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["totalCapabilities"])
}

func TestCapabilityGetMissing(t *testing.T) {
	router := newTestServer(t, newFakeDir()).Router()

	rec := doJSON(t, router, "GET", "/agents/Nobody/capabilities", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSupportedPlatforms(t *testing.T) {
	router := newTestServer(t, newFakeDir()).Router()

	rec := doJSON(t, router, "GET", "/supported-platforms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["platforms"], 8)
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, newFakeDir()).Router()

	rec := doJSON(t, router, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}
