package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mathmentor/internal/auth"
	"github.com/ashita-ai/mathmentor/internal/ctxutil"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
	"github.com/ashita-ai/mathmentor/internal/storage"
)

// maxSimilarK caps the k query parameter on GET /v1/similar.
const maxSimilarK = 20

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *mentor.Service
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyRing
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandleAuthToken handles POST /auth/token: a configured API key is
// exchanged for a token carrying the key's role.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateSubject(req.Subject); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	role, err := h.keys.Authenticate(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject, role)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "subject", req.Subject, "role", role)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, Role: role, ExpiresAt: expiresAt})
}

// HandleSolve handles POST /v1/solve.
func (h *Handlers) HandleSolve(w http.ResponseWriter, r *http.Request) {
	var req model.SolveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	in, err := req.Input()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	res, err := h.svc.Solve(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res.View())
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewRunView(run, false))
}

// HandleClarify handles POST /v1/runs/{run_id}/clarify.
func (h *Handlers) HandleClarify(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.ClarifyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.Clarify(r.Context(), id, req.ProblemText)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res.View())
}

// HandleApprove handles POST /v1/runs/{run_id}/approve (reviewer+).
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.ApproveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	o, err := h.svc.Approve(r.Context(), id, ctxutil.Subject(r.Context()), req.EditedSolution)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, o)
}

// HandleFeedback handles POST /v1/outcomes/{run_id}/feedback.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.FeedbackRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := h.svc.Feedback(r.Context(), id, req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSimilar handles GET /v1/similar?q=&k=.
func (h *Handlers) HandleSimilar(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "q is required")
		return
	}
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "k must be a positive integer")
			return
		}
		k = min(n, maxSimilarK)
	}
	sims, err := h.svc.Similar(r.Context(), q, k)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sims)
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// HandleHealth handles GET /health. An unavailable store makes the service
// unhealthy; an unavailable knowledge base only degrades it.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus, kbStatus := h.svc.Health(r.Context())
	status, code := "healthy", http.StatusOK
	switch {
	case storeStatus != "ok":
		status, code = "unhealthy", http.StatusServiceUnavailable
	case kbStatus == "unavailable":
		status = "degraded"
	}
	writeJSON(w, r, code, model.HealthResponse{
		Status:        status,
		Version:       h.version,
		Store:         storeStatus,
		KnowledgeBase: kbStatus,
		Uptime:        int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeServiceError maps service and storage errors to HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mentor.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, mentor.ErrNotClarifiable),
		errors.Is(err, mentor.ErrNotReviewable):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		h.writeInternalError(w, r, "request failed", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", ctxutil.RequestID(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("run_id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %s", raw)
	}
	return id, nil
}
