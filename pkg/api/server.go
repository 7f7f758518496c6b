package api

import (
	"log/slog"
	"net/http"

	"github.com/veristone/provenance-core/pkg/crypto"
	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/observability"
	"github.com/veristone/provenance-core/pkg/policy"
	"github.com/veristone/provenance-core/pkg/proof"
	"github.com/veristone/provenance-core/pkg/valuation"
	"github.com/veristone/provenance-core/pkg/verification"
)

// Server wires the domain services to their HTTP routes.
type Server struct {
	gate       *policy.Gate
	entries    *ledger.Store
	verifier   *verification.Service
	proofs     *proof.Service
	rebuilder  *verification.Rebuilder
	valuations *valuation.Filter
	validator  *ledger.EnvelopeValidator
	signer     *crypto.Ed25519Signer
	limiter    *SourceLimiter
	telemetry  *observability.Provider // nil disables instrumentation

	adminKey       string
	allowedOrigins []string
	log            *slog.Logger
}

// ServerDeps carries the constructed services into the server.
type ServerDeps struct {
	Gate       *policy.Gate
	Entries    *ledger.Store
	Verifier   *verification.Service
	Proofs     *proof.Service
	Rebuilder  *verification.Rebuilder
	Valuations *valuation.Filter
	Validator  *ledger.EnvelopeValidator
	Signer     *crypto.Ed25519Signer
	Limiter    *SourceLimiter
	Telemetry  *observability.Provider

	AdminKey       string
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		gate:           deps.Gate,
		entries:        deps.Entries,
		verifier:       deps.Verifier,
		proofs:         deps.Proofs,
		rebuilder:      deps.Rebuilder,
		valuations:     deps.Valuations,
		validator:      deps.Validator,
		signer:         deps.Signer,
		limiter:        deps.Limiter,
		telemetry:      deps.Telemetry,
		adminKey:       deps.AdminKey,
		allowedOrigins: deps.AllowedOrigins,
		log:            logger,
	}
}

// Handler builds the routed handler with the standard middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", s.handleIngest)
	mux.HandleFunc("GET /v1/assets/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/assets/{id}/verification", s.handleVerification)
	mux.HandleFunc("POST /v1/assets/{id}/valuations", s.handleValuations)
	mux.HandleFunc("POST /v1/proofs", s.handleIssueProof)
	mux.HandleFunc("GET /v1/proofs/{id}/validate", s.handleValidateProof)
	mux.HandleFunc("POST /v1/proofs/{id}/revoke", s.handleRevokeProof)
	mux.HandleFunc("POST /v1/admin/rebuild", s.requireAdmin(s.handleRebuild))
	mux.HandleFunc("GET /v1/admin/chain/verify", s.requireAdmin(s.handleVerifyChain))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return WithRequestID(WithCORS(s.allowedOrigins, mux))
}

// requireAdmin guards operational endpoints with the configured admin key.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" || r.Header.Get("X-Admin-Key") != s.adminKey {
			WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
			return
		}
		next(w, r)
	}
}
