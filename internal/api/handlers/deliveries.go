// Package handlers provides HTTP handlers for the PADnext API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/api/middleware"
	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/exchange"
	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// VersionHeader carries the expected schema revision when the query does not
const VersionHeader = "X-Padnext-Version"

// DeliveryHandler serves order submission, receipts and delivery status
type DeliveryHandler struct {
	service *exchange.Service
	logger  *zap.Logger
}

// NewDeliveryHandler creates a new handler
func NewDeliveryHandler(service *exchange.Service, logger *zap.Logger) *DeliveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryHandler{service: service, logger: logger}
}

// Routes returns the handler routes
func (h *DeliveryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/auftraege", h.SubmitOrder)
	r.Post("/quittungen", h.ProcessReceipt)
	r.Post("/validate", h.Validate)
	r.Get("/deliveries", h.List)
	r.Get("/deliveries/{transfernr}", h.Get)
	return r
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string             `json:"error"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

// SubmitOrder handles POST /auftraege with an XML order body
func (h *DeliveryHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	sub, err := h.service.SubmitDocument(r.Context(), body, requestedVersion(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("order accepted",
		zap.Int("transfer_number", sub.TransferNumber),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("client_id", middleware.GetClientID(r.Context())))

	w.Header().Set("X-Padnext-Transfernr", strconv.Itoa(sub.TransferNumber))
	writeJSON(w, http.StatusCreated, sub)
}

// ProcessReceipt handles POST /quittungen with an XML receipt body
func (h *DeliveryHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	out, err := h.service.ProcessReceipt(r.Context(), body, requestedVersion(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ValidateResponse reports the validation of a document
type ValidateResponse struct {
	Root       string              `json:"root"`
	Version    string              `json:"version"`
	Valid      bool                `json:"valid"`
	Violations []schema.Violation  `json:"violations"`
	Kinds      map[schema.Kind]int `json:"kinds,omitempty"`
}

// Validate handles POST /validate for any document kind
func (h *DeliveryHandler) Validate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	msg, res, err := h.service.Check(body, requestedVersion(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ValidateResponse{
		Root:       msg.Root,
		Version:    res.Version.String(),
		Valid:      res.Valid(),
		Violations: res.Violations,
		Kinds:      res.Kinds(),
	}
	if resp.Violations == nil {
		resp.Violations = []schema.Violation{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /deliveries/{transfernr}
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "transfernr"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "transfer number must be numeric"})
		return
	}

	d, ok, err := h.service.Lookup(r.Context(), n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "transfer number not tracked"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// List handles GET /deliveries. With pending_older_than only orders still
// waiting for their receipt are listed.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("pending_older_than")
	if raw == "" {
		writeJSON(w, http.StatusOK, h.service.Deliveries())
		return
	}

	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "pending_older_than must be a non-negative duration"})
		return
	}
	pending := h.service.Pending(olderThan)
	if pending == nil {
		pending = []delivery.Delivery{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *DeliveryHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		} else {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		}
		return nil, false
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return nil, false
	}
	return body, true
}

// fail maps service errors to responses
func (h *DeliveryHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var parseErr *codec.ParseError
	switch {
	case errors.As(err, &parseErr) && len(parseErr.Missing) == 0 && !errors.Is(err, schema.ErrUnsupportedVersion):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case exchange.IsRejection(err):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      err.Error(),
			Violations: exchange.Violations(err),
		})
	case errors.Is(err, delivery.ErrDuplicateTransferNumber), errors.Is(err, delivery.ErrDuplicateReceipt),
		errors.Is(err, delivery.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func requestedVersion(r *http.Request) string {
	if v := r.URL.Query().Get("version"); v != "" {
		return v
	}
	return r.Header.Get(VersionHeader)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
