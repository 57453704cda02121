// Package api exposes the directory service over REST/JSON.
package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentdirectory/backend/internal/capabilities"
	"github.com/agentdirectory/backend/internal/directory"
	"github.com/agentdirectory/backend/internal/metrics"
	"github.com/agentdirectory/backend/internal/registrar"
	"github.com/agentdirectory/backend/internal/verify"
)

// maxListLimit caps paginated listings regardless of the requested limit.
const maxListLimit = 500

// defaultListLimit applies when no limit query parameter is given.
const defaultListLimit = 100

// Server holds the handler dependencies.
type Server struct {
	pipeline  *registrar.Pipeline
	dir       directory.Client
	caps      *capabilities.Store
	platforms *verify.Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger

	network       string
	contractAddr  string
	explorerTxURL string
	directoryURL  string
	cooldown      time.Duration
}

// Options carries the Server wiring.
type Options struct {
	Pipeline      *registrar.Pipeline
	Directory     directory.Client
	Capabilities  *capabilities.Store
	Platforms     *verify.Registry
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Network       string
	ContractAddr  string
	ExplorerTxURL string
	DirectoryURL  string
	Cooldown      time.Duration
}

// NewServer builds the HTTP surface.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Server{
		pipeline:      opts.Pipeline,
		dir:           opts.Directory,
		caps:          opts.Capabilities,
		platforms:     opts.Platforms,
		metrics:       opts.Metrics,
		logger:        logger,
		network:       opts.Network,
		contractAddr:  opts.ContractAddr,
		explorerTxURL: opts.ExplorerTxURL,
		directoryURL:  opts.DirectoryURL,
		cooldown:      cooldown,
	}
}

// Router wires all routes and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/register/sponsored", s.handleSponsoredRegister).Methods("POST")
	r.HandleFunc("/register", s.handleLegacyRegister).Methods("POST")

	r.HandleFunc("/lookup/{name}", s.handleLookup).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/agents/by-platform/{platform}", s.handleAgentsByPlatform).Methods("GET")
	r.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	r.HandleFunc("/platforms", s.handlePlatforms).Methods("GET")

	r.HandleFunc("/agents/{name}/capabilities", s.handleSetCapabilities).Methods("POST")
	r.HandleFunc("/agents/{name}/capabilities", s.handleGetCapabilities).Methods("GET")
	r.HandleFunc("/find", s.handleFind).Methods("GET")
	r.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")

	r.HandleFunc("/supported-platforms", s.handleSupportedPlatforms).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// clientIP is the gate's caller identity: the first X-Forwarded-For hop
// when present, else the connection peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
