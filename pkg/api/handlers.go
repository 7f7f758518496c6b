package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/proof"
	"github.com/veristone/provenance-core/pkg/valuation"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "unreadable request body")
		return
	}

	// Structural check against the compiled envelope schema first; the
	// ingest path then re-checks field semantics. Both decodes use
	// UseNumber: payload integers must reach canonical hashing with their
	// exact digits, not a float64 approximation.
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "request body is not valid JSON")
		return
	}
	if err := s.validator.Validate(doc); err != nil {
		WriteLedgerError(w, r, err)
		return
	}

	var in ledger.IngestInput
	dec = json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "malformed envelope")
		return
	}
	if in.CorrelationID == "" {
		in.CorrelationID = correlationID(r)
	}

	if s.limiter != nil && !s.limiter.Allow(in.Source) {
		s.log.Warn("ingest_rate_limited", slog.String("source", in.Source))
		WriteTooManyRequests(w, r, 5)
		return
	}

	ctx := r.Context()
	done := func(error) {}
	if s.telemetry != nil {
		ctx, done = s.telemetry.TrackOperation(ctx, "ledger.ingest",
			attribute.String("source", in.Source),
			attribute.String("event_type", in.EventType))
	}
	result, err := s.gate.Submit(ctx, in)
	done(err)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Deduped {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("id")
	history, err := s.entries.HistoryByAsset(r.Context(), assetID)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset_id": assetID,
		"entries":  history,
	})
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	state, err := s.verifier.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type valuationRequest struct {
	Valuations []valuation.Valuation `json:"valuations"`
}

func (s *Server) handleValuations(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req valuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	result, err := s.valuations.Screen(r.Context(), r.PathValue("id"), req.Valuations)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type issueProofRequest struct {
	VerificationEventID string                 `json:"verification_event_id"`
	TTLSeconds          int64                  `json:"ttl_seconds"`
	Scope               map[string]interface{} `json:"scope,omitempty"`
	CreatedBy           string                 `json:"created_by,omitempty"`
	ExportToken         bool                   `json:"export_token,omitempty"`
}

type issueProofResponse struct {
	Proof *proof.View `json:"proof"`
	Token string      `json:"token,omitempty"`
}

func (s *Server) handleIssueProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req issueProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}

	view, err := s.proofs.Issue(r.Context(), proof.IssueInput{
		VerificationEventID: req.VerificationEventID,
		TTL:                 time.Duration(req.TTLSeconds) * time.Second,
		Scope:               req.Scope,
		CreatedBy:           req.CreatedBy,
	})
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}

	resp := issueProofResponse{Proof: view}
	if req.ExportToken {
		token, err := proof.ExportToken(*view, s.signer)
		if err != nil {
			WriteLedgerError(w, r, err)
			return
		}
		resp.Token = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleValidateProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	done := func(error) {}
	if s.telemetry != nil {
		ctx, done = s.telemetry.TrackOperation(ctx, "proof.validate",
			attribute.String("proof_id", r.PathValue("id")))
	}
	view, verdict, err := s.proofs.Check(ctx, r.PathValue("id"))
	done(err)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proof_id": view.ProofID,
		"asset_id": view.AssetID,
		"ok":       verdict.OK,
		"reason":   verdict.Reason,
	})
}

func (s *Server) handleRevokeProof(w http.ResponseWriter, r *http.Request) {
	view, err := s.proofs.Revoke(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.rebuilder.Rebuild(r.Context())
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.entries.VerifyChain(r.Context())
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tip, err := s.entries.Tip(r.Context())
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	resp := map[string]interface{}{"status": "ok"}
	if tip != nil {
		resp["tip_sequence"] = tip.SequenceNumber
	}
	writeJSON(w, http.StatusOK, resp)
}
