package queue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/bloomfeed/publish-queue/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found or not retryable"},
	{Error: ErrStorageUnavailable, Status: http.StatusServiceUnavailable, Message: "queue store unavailable"},
	{Error: ErrUnknownAction, Status: http.StatusBadRequest, Message: "unknown action type"},
	{Error: ErrInvalidPayload, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the queue module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/post-queue", func(r chi.Router) {
		r.Post("/", h.EnqueueItem)
		r.Get("/status", h.GetStatus)
		r.Get("/dlq", h.ListDLQ)
		r.Post("/retry", h.RetryItem)
		r.Get("/items/{id}", h.GetItem)
	})
}

// EnqueueRequest represents request body for enqueueing an item.
type EnqueueRequest struct {
	BusinessAccountID string          `json:"business_account_id" validate:"required"`
	ActionType        string          `json:"action_type" validate:"required"`
	Payload           json.RawMessage `json:"payload" validate:"required"`
}

// RetryRequest represents request body for retrying a dead-lettered item.
type RetryRequest struct {
	QueueID string `json:"queue_id" validate:"required,uuid"`
}

// EnqueueItem handles POST /post-queue.
func (h *Handler) EnqueueItem(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.Enqueue(r.Context(), req.BusinessAccountID, domain.ActionType(req.ActionType), req.Payload)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusAccepted, map[string]any{
		"success":     true,
		"queue_id":    item.ID,
		"action_type": item.ActionType,
		"status":      item.Status,
		"created_at":  item.CreatedAt,
	})
}

// GetStatus handles GET /post-queue/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	summary, total, err := h.service.Status(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"summary":   summary,
		"total":     total,
		"timestamp": time.Now().UTC(),
	})
}

// ListDLQ handles GET /post-queue/dlq.
func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	// Non-numeric or missing limit falls back to the default; the service
	// clamps the upper bound.
	limit := DefaultDLQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	items, err := h.service.ListDLQ(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"dlq":       items,
		"count":     len(items),
		"timestamp": time.Now().UTC(),
	})
}

// RetryItem handles POST /post-queue/retry.
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	prior, err := h.service.Retry(r.Context(), req.QueueID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"queue_id":             prior.ID,
		"action_type":          prior.ActionType,
		"previous_retry_count": prior.RetryCount,
		"message":              "item requeued; it will be picked up on the next worker tick",
	})
}

// GetItem handles GET /post-queue/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// A non-UUID id cannot match any row; answer 404 without hitting the
	// store, which would reject the text as an invalid uuid.
	if err := uuid.Validate(id); err != nil {
		httputil.HandleError(r.Context(), w, ErrItemNotFound, errorMappings)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"item":    item,
	})
}
