package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderUserID         = "X-User-ID"
	HeaderReplayed       = "Idempotent-Replayed"
)

type CheckoutHandler struct {
	Service *checkout.Service
	Metrics *metrics.ServerMetrics // optional
	Timeout time.Duration
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Route("/v1/checkout", func(r chi.Router) {
		r.Post("/preview", h.instrument("preview", h.preview))
		r.Post("/confirm", h.instrument("confirm", h.confirm))
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}
}

// outcomeFunc serves a request and returns its result code for metrics.
type outcomeFunc func(w http.ResponseWriter, r *http.Request) string

func (h *CheckoutHandler) instrument(op string, fn outcomeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		code := fn(ww, r)
		if h.Metrics == nil {
			return
		}
		h.Metrics.Requests.WithLabelValues(op, strconv.Itoa(ww.Status())).Inc()
		h.Metrics.LatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
		h.Metrics.CheckoutOutcomes.WithLabelValues(op, code).Inc()
	}
}

func (h *CheckoutHandler) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	return kafkax.WithTraceID(ctx, middleware.GetReqID(r.Context())), cancel
}

func (h *CheckoutHandler) preview(w http.ResponseWriter, r *http.Request) string {
	var req checkout.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, checkout.BadRequest("Invalid JSON body")).Code
	}

	ctx, cancel := h.context(r)
	defer cancel()

	resp, err := h.Service.Preview(ctx, req)
	if err != nil {
		return writeError(w, err).Code
	}
	writeData(w, http.StatusOK, resp)
	return "OK"
}

func (h *CheckoutHandler) confirm(w http.ResponseWriter, r *http.Request) string {
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return writeError(w, checkout.MissingIdempotencyKey()).Code
	}

	var userID uuid.UUID
	if raw := r.Header.Get(HeaderUserID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return writeError(w, checkout.BadRequest("X-User-ID must be a UUID")).Code
		}
		userID = id
	}

	var req checkout.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, checkout.BadRequest("Invalid JSON body")).Code
	}
	req.IdempotencyKey = key
	req.UserID = userID

	ctx, cancel := h.context(r)
	defer cancel()

	resp, err := h.Service.Confirm(ctx, req)
	if err != nil {
		return writeError(w, err).Code
	}
	if resp.Replayed {
		w.Header().Set(HeaderReplayed, "true")
		writeData(w, http.StatusCreated, resp)
		return "REPLAYED"
	}
	writeData(w, http.StatusCreated, resp)
	return "OK"
}
