package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/bedrock-gateway/internal/audit"
	"github.com/vnmchuo/bedrock-gateway/internal/auth"
	"github.com/vnmchuo/bedrock-gateway/internal/chat"
	"github.com/vnmchuo/bedrock-gateway/internal/provider"
	"github.com/vnmchuo/bedrock-gateway/internal/upstream"
	"github.com/vnmchuo/bedrock-gateway/pkg/ratelimit"
)

const notAuthorized = "Not Authorized"

// Rebuilder is a vendor client that can be reconstructed on demand.
type Rebuilder interface {
	Rebuild(ctx context.Context, region string) error
}

type Handler struct {
	service     *chat.Service
	audit       audit.Store
	limiter     *ratelimit.Limiter
	tracer      trace.Tracer
	modelName   string
	fingerprint string
	clients     []Rebuilder
}

// NewHandler wires the HTTP surface. modelName is reported in envelopes when
// the request does not name a model; clients are rebuilt by HandleReset.
func NewHandler(service *chat.Service, auditStore audit.Store, limiter *ratelimit.Limiter, tracer trace.Tracer, modelName string, clients ...Rebuilder) *Handler {
	if auditStore == nil {
		auditStore = audit.NopStore{}
	}
	return &Handler{
		service:     service,
		audit:       auditStore,
		limiter:     limiter,
		tracer:      tracer,
		modelName:   modelName,
		fingerprint: chat.NewFingerprint(),
		clients:     clients,
	}
}

func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	apiKey := auth.GetAPIKey(ctx)
	if apiKey == nil || apiKey.ID == "" {
		http.Error(w, notAuthorized, http.StatusUnauthorized)
		return
	}
	keyID := apiKey.ID

	requestID := chimiddleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req chat.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx, span := h.tracer.Start(ctx, "proxy.chat_completions")
	defer span.End()
	span.SetAttributes(
		attribute.String("key_id", keyID),
		attribute.String("request_id", requestID),
		attribute.Bool("stream", req.Stream),
	)

	estimated := ratelimit.EstimateTokens(promptChars(req.Messages), req.Settings().MaxTokens)
	allowed, err := h.limiter.Allow(ctx, keyID, apiKey.RateLimit, estimated)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("rate limiter unavailable")
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", ratelimit.RetryAfter())
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// Cancelling this context aborts the vendor stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := h.service.Start(ctx, &req, requestID)
	if err != nil {
		h.writeStartError(w, requestID, err)
		h.record(keyID, requestID, &req, audit.StatusError, chat.Fragment{}, start)
		return
	}

	meta := chat.EnvelopeMeta{
		ID:          chat.NewCompletionID(),
		Model:       h.responseModel(&req),
		Fingerprint: h.fingerprint,
	}

	var final chat.Fragment
	var status string
	if req.Stream {
		meta.Object = chat.ObjectChunk
		final, status = h.stream(ctx, w, meta, fragments, requestID)
	} else {
		meta.Object = chat.ObjectCompletion
		final, status = h.complete(w, meta, fragments, requestID)
	}
	span.SetAttributes(attribute.String("status", status))

	h.record(keyID, requestID, &req, status, final, start)
}

// stream writes one JSON envelope per fragment, each followed by a blank
// line, and ends the response after the finished envelope.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, meta chat.EnvelopeMeta, fragments <-chan chat.Fragment, requestID string) (chat.Fragment, string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return chat.Fragment{}, audit.StatusError
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frag := range fragments {
		if frag.Err != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      errors.Unwrap(frag.Err),
			}).Error("stream failed mid-response")
			_ = writeChunk(w, map[string]string{"error": frag.Err.Error()})
			flusher.Flush()
			return chat.Fragment{}, audit.StatusError
		}

		env := chat.BuildEnvelope(meta, true, frag.Text, frag.Done)
		if err := writeChunk(w, env); err != nil {
			return chat.Fragment{}, audit.StatusCanceled
		}
		flusher.Flush()

		if frag.Done {
			return frag, audit.StatusOK
		}
	}

	// The channel closed without a finished fragment: the client went away.
	if ctx.Err() != nil {
		return chat.Fragment{}, audit.StatusCanceled
	}
	return chat.Fragment{}, audit.StatusError
}

func (h *Handler) complete(w http.ResponseWriter, meta chat.EnvelopeMeta, fragments <-chan chat.Fragment, requestID string) (chat.Fragment, string) {
	for frag := range fragments {
		if frag.Err != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      errors.Unwrap(frag.Err),
			}).Error("completion failed")
			writeError(w, http.StatusBadGateway, frag.Err.Error())
			return chat.Fragment{}, audit.StatusError
		}
		if frag.Done {
			writeJSON(w, http.StatusOK, chat.BuildEnvelope(meta, false, frag.Full, true))
			return frag, audit.StatusOK
		}
	}
	return chat.Fragment{}, audit.StatusCanceled
}

func (h *Handler) writeStartError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case chat.IsValidation(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, provider.ErrInvalidRequest):
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Warn("model rejected request")
		http.Error(w, "request rejected by model", http.StatusUnprocessableEntity)
	case errors.Is(err, upstream.ErrUnavailable):
		logrus.WithField("request_id", requestID).Warn("upstream circuit open, rejecting request")
		writeError(w, http.StatusServiceUnavailable, "upstream temporarily unavailable")
	default:
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("upstream call failed")
		// UpstreamError's message never contains vendor details.
		var upErr *chat.UpstreamError
		if errors.As(err, &upErr) {
			writeError(w, http.StatusBadGateway, upErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) responseModel(req *chat.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return h.modelName
}

// record stores the audit entry without holding up the response.
func (h *Handler) record(keyID, requestID string, req *chat.CompletionRequest, status string, final chat.Fragment, start time.Time) {
	rec := &audit.Record{
		KeyID:         keyID,
		RequestID:     requestID,
		Model:         h.responseModel(req),
		Stream:        req.Stream,
		Status:        status,
		ResponseChars: len(final.Full),
		InputTokens:   final.InputTokens,
		OutputTokens:  final.OutputTokens,
		LatencyMs:     time.Since(start).Milliseconds(),
	}
	go func() {
		if err := h.audit.Log(context.Background(), rec); err != nil {
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err,
			}).Warn("failed to write audit record")
		}
	}()
}

// HandleReset rebuilds the vendor clients, e.g. after credentials rotate.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetKeyID(ctx) == "" {
		http.Error(w, notAuthorized, http.StatusUnauthorized)
		return
	}

	for _, c := range h.clients {
		if err := c.Rebuild(ctx, ""); err != nil {
			logrus.WithError(err).Error("client reset failed")
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleRequests lists the caller's audit history. from and to are RFC3339;
// the default window is the last 30 days.
func (h *Handler) HandleRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID := auth.GetKeyID(ctx)
	if keyID == "" {
		http.Error(w, notAuthorized, http.StatusUnauthorized)
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
		to = t
	}

	records, err := h.audit.ListByKey(ctx, keyID, from, to)
	if err != nil {
		logrus.WithError(err).Error("failed to list audit records")
		writeError(w, http.StatusInternalServerError, "failed to load request history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key_id":         keyID,
		"total_requests": len(records),
		"requests":       records,
		"from":           from,
		"to":             to,
	})
}

func HandleHealthy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "bedrock-gateway",
		"model":   h.modelName,
	})
}

func promptChars(msgs []chat.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeChunk(w http.ResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n', '\n'))
	return err
}
