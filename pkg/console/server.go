// Package console is the operator HTTP surface over a hosted runtime:
// accounts, intents, approvals, execution, and the expiry sweep, exposed
// as a small JSON API. Boundary auth (JWT), rate limiting, and RFC 7807
// error responses live here; the engine below stays transport-free.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Covault-Labs/covault/core/pkg/account"
	"github.com/Covault-Labs/covault/core/pkg/archive"
	"github.com/Covault-Labs/covault/core/pkg/config"
	"github.com/Covault-Labs/covault/core/pkg/identity"
	"github.com/Covault-Labs/covault/core/pkg/observability"
	"github.com/Covault-Labs/covault/core/pkg/policy"
	"github.com/Covault-Labs/covault/core/pkg/substrate"
)

// Server hosts the operator API over one runtime.
type Server struct {
	runtime  *substrate.Runtime
	keeper   *archive.Keeper
	obs      *observability.Provider
	verifier *identity.Verifier
	logger   *slog.Logger
	limiter  *GlobalRateLimiter

	profiles  map[string]*config.GovernanceProfile
	engines   map[string]*policy.Engine // admission engines by profile code
	admission *policy.Router
}

// Options wires a Server. Runtime and Profiles are required; everything
// else degrades gracefully when absent (no archive, no telemetry, and a
// nil verifier rejects every authenticated route).
type Options struct {
	Runtime   *substrate.Runtime
	Profiles  map[string]*config.GovernanceProfile
	Admission *policy.Router
	Keeper    *archive.Keeper
	Telemetry *observability.Provider
	Verifier  *identity.Verifier
	Logger    *slog.Logger
	RateRPS   int
	RateBurst int
}

// New builds the server and compiles one admission engine per profile,
// so malformed rules surface at startup rather than at the first
// proposal.
func New(opts Options) (*Server, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("console: a runtime is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rps, burst := opts.RateRPS, opts.RateBurst
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}

	s := &Server{
		runtime:   opts.Runtime,
		keeper:    opts.Keeper,
		obs:       opts.Telemetry,
		verifier:  opts.Verifier,
		logger:    logger.With("component", "console"),
		limiter:   NewGlobalRateLimiter(rps, burst),
		profiles:  opts.Profiles,
		engines:   make(map[string]*policy.Engine, len(opts.Profiles)),
		admission: opts.Admission,
	}
	for code, profile := range opts.Profiles {
		engine, err := policy.NewEngine(profile.AdmissionRules...)
		if err != nil {
			return nil, fmt.Errorf("console: profile %s admission rules: %w", code, err)
		}
		s.engines[code] = engine
	}
	return s, nil
}

// Handler assembles the route table and the middleware chain. Exposed so
// tests can drive the server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)

	mux.HandleFunc("/api/profiles", s.handleProfiles)
	mux.HandleFunc("/api/profiles/", s.handleProfiles)

	mux.HandleFunc("/api/accounts", s.handleAccounts)
	mux.HandleFunc("/api/accounts/", s.handleAccountSubtree)

	mux.HandleFunc("/api/receipts/", s.handleArchivedReceipt)
	mux.HandleFunc("/api/expired/", s.handleArchivedExpired)

	authed := NewAuthMiddleware(s.verifier)(mux)
	return RequestIDMiddleware(s.logRequests(s.limiter.Middleware(authed)))
}

// Rehydrate rebinds the admission engines for accounts already in the
// store, using the profile code each account was created under. Called
// once at startup, before the server takes traffic.
func (s *Server) Rehydrate(ctx context.Context) error {
	if s.admission == nil {
		return nil
	}
	ids, err := s.runtime.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var code string
		err := s.runtime.View(ctx, id, func(acct *account.Account) error {
			code = acct.Metadata()[metadataProfileKey]
			return nil
		})
		if err != nil {
			return err
		}
		if engine, ok := s.engines[code]; ok {
			s.admission.Bind(id, engine)
		}
	}
	return nil
}

// Start serves the API until the listener fails.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("console interface active", "addr", "http://localhost"+addr)

	// Production HTTP server with explicit timeouts.
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return httpServer.ListenAndServe()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// metadataProfileKey is the account metadata entry that remembers which
// profile the account was bootstrapped from.
const metadataProfileKey = "covault.profile"

// track opens a telemetry span around one handler operation. With no
// provider it degrades to the request context and a no-op closer.
func (s *Server) track(r *http.Request, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.obs == nil {
		return r.Context(), func(error) {}
	}
	return s.obs.TrackOperation(r.Context(), name, attrs...)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// pathSegments splits the path after a prefix into its non-empty
// segments: pathSegments("/api/accounts/ops/intents", "/api/accounts/")
// is ["ops", "intents"].
func pathSegments(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// ---------------------------------------------------------------------------
// Health + profiles
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports ready once the store answers a listing.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.runtime.Accounts(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleProfiles serves GET /api/profiles and GET /api/profiles/{code}.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	segments := pathSegments(r.URL.Path, "/api/profiles")
	if len(segments) == 0 {
		codes := make([]string, 0, len(s.profiles))
		for code := range s.profiles {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		out := make([]*config.GovernanceProfile, 0, len(codes))
		for _, code := range codes {
			out = append(out, s.profiles[code])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profiles": out,
			"total":    len(out),
		})
		return
	}
	profile, ok := s.profiles[segments[0]]
	if !ok {
		WriteNotFound(w, fmt.Sprintf("no profile %q", segments[0]))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
