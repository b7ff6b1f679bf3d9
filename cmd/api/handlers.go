package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"tradepulse/internal/analytics"
	"tradepulse/internal/errs"
	"tradepulse/internal/middleware"
	"tradepulse/internal/models"
	"tradepulse/internal/syncer"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	maxUploadBytes        = 10 << 20
	defaultExecutionLimit = 200
	maxExecutionLimit     = 1000
)

// SyncService is the write side used by the handlers.
type SyncService interface {
	Connect(ctx context.Context, userID string, broker models.Broker, in syncer.ConnectInput) (*models.BrokerAccount, error)
	TestConnection(ctx context.Context, userID string, broker models.Broker) error
	Sync(ctx context.Context, userID string, broker models.Broker) (syncer.Result, error)
	ImportCSV(ctx context.Context, userID string, broker models.Broker, kind syncer.ImportKind, r io.Reader) (syncer.ImportResult, error)
}

// SummaryService renders dashboard summaries.
type SummaryService interface {
	Summary(ctx context.Context, userID, rangeParam, tz string) (analytics.Summary, error)
}

// LedgerReader lists stored rows.
type LedgerReader interface {
	ListExecutions(ctx context.Context, userID string, brokers []models.Broker, limit int) ([]models.Execution, error)
}

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log       *zap.Logger
	syncer    SyncService
	summaries SummaryService
	ledger    LedgerReader
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, s SyncService, summaries SummaryService, ledger LedgerReader) *APIHandler {
	return &APIHandler{log: log, syncer: s, summaries: summaries, ledger: ledger}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string    `json:"error"`
	Kind   errs.Kind `json:"kind,omitempty"`
	Code   string    `json:"code,omitempty"`
	Status int       `json:"status,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error kind to the HTTP status returned to the caller.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalid, errs.KindParse, errs.KindCredential, errs.KindNotConnected, errs.KindNoValidRows:
		return http.StatusBadRequest
	case errs.KindBusy:
		return http.StatusConflict
	case errs.KindTransport, errs.KindExchange:
		return http.StatusBadGateway
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	body := errorResponse{Error: errs.UserMessage(err), Kind: kind}
	if e, ok := errs.As(err); ok {
		body.Code = e.RawCode
		body.Status = e.HTTP
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.log.Info("Request rejected", zap.String("path", r.URL.Path), zap.String("kind", string(kind)))
	}
	respondJSON(w, status, body)
}

// request resolves the authenticated user and the {broker} path parameter.
func (h *APIHandler) request(r *http.Request) (string, models.Broker, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return "", "", errs.New(errs.KindInvalid, errs.WithMessage("missing user"))
	}
	raw := chi.URLParam(r, "broker")
	broker, ok := models.ParseBroker(raw)
	if !ok {
		return "", "", errs.New(errs.KindInvalid, errs.WithMessage("unsupported broker "+raw))
	}
	return userID, broker, nil
}

// ConnectHandler verifies and stores the submitted API credentials.
func (h *APIHandler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	userID, broker, err := h.request(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var in syncer.ConnectInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&in); err != nil {
		h.respondError(w, r, errs.New(errs.KindInvalid, errs.WithMessage("invalid request body")))
		return
	}
	account, err := h.syncer.Connect(r.Context(), userID, broker, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "account": account})
}

// TestHandler re-verifies stored credentials.
func (h *APIHandler) TestHandler(w http.ResponseWriter, r *http.Request) {
	userID, broker, err := h.request(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.syncer.TestConnection(r.Context(), userID, broker); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SyncHandler imports new exchange history since the account checkpoint.
func (h *APIHandler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	userID, broker, err := h.request(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.syncer.Sync(r.Context(), userID, broker)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ImportHandler ingests an uploaded CSV file from the multipart field "file".
func (h *APIHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	userID, broker, err := h.request(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	kind, err := syncer.ParseImportKind(r.URL.Query().Get("kind"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		msg := "missing file field"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "file too large"
		}
		h.respondError(w, r, errs.New(errs.KindInvalid, errs.WithMessage(msg)))
		return
	}
	defer file.Close()

	res, err := h.syncer.ImportCSV(r.Context(), userID, broker, kind, file)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ExecutionsHandler returns the latest stored executions, most recent first.
// An exchange broker includes the rows imported from its CSV exports.
func (h *APIHandler) ExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, broker, err := h.request(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, r, errs.New(errs.KindInvalid, errs.WithMessage("limit must be a positive integer")))
			return
		}
		limit = min(n, maxExecutionLimit)
	}

	executions, err := h.ledger.ListExecutions(r.Context(), userID, broker.LedgerBrokers(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, executions)
}

// SummaryHandler returns KPIs, the equity curve and the PnL calendar.
func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, r, errs.New(errs.KindInvalid, errs.WithMessage("missing user")))
		return
	}
	q := r.URL.Query()
	summary, err := h.summaries.Summary(r.Context(), userID, q.Get("range"), q.Get("tz"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
