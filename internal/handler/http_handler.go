package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
	"github.com/cks-portal/be-hub-orders/internal/logger"
	"github.com/cks-portal/be-hub-orders/internal/service"
	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.OrderService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.OrderService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// CreateOrder handles create order HTTP requests
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(orderView(order))
}

// GetOrder handles get order HTTP requests
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orderView(order))
}

// ListOrders handles list orders HTTP requests. The viewer role and ID come
// from the gateway's trusted headers.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	viewerRole := workflow.Role(r.URL.Query().Get("viewer_role"))
	viewerID := r.URL.Query().Get("viewer_id")
	if viewerRole == "" || viewerID == "" {
		http.Error(w, "Viewer role and viewer ID are required", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	q := service.ListQuery{
		Bucket:    r.URL.Query().Get("bucket"),
		OrderType: workflow.OrderType(r.URL.Query().Get("order_type")),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}

	orders, err := h.service.GetViewableOrders(r.Context(), viewerRole, viewerID, q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(orders))
	for _, order := range orders {
		view := orderView(order)
		view["actions"] = workflow.AvailableActions(viewerRole, order)
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orders":   views,
		"page":     page,
		"pageSize": pageSize,
	})
}

// Decide handles decision HTTP requests
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	order, err := h.service.Decide(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orderView(order))
}

// ArchiveOrder handles archive HTTP requests
func (h *HTTPHandler) ArchiveOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrderID   string        `json:"order_id"`
		ActorID   string        `json:"actor_id"`
		ActorRole workflow.Role `json:"actor_role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.service.Archive(r.Context(), req.OrderID, req.ActorID, req.ActorRole)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orderView(order))
}

// GetActions handles action-availability HTTP requests
func (h *HTTPHandler) GetActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	viewerRole := workflow.Role(r.URL.Query().Get("viewer_role"))
	if orderID == "" || viewerRole == "" {
		http.Error(w, "Order ID and viewer role are required", http.StatusBadRequest)
		return
	}

	actions, err := h.service.AvailableActions(r.Context(), viewerRole, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"actions": actions})
}

// GetActivity handles activity feed HTTP requests
func (h *HTTPHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetActivity(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"activity": entries})
}

// writeError maps coded errors to HTTP statuses with a JSON body.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(apperr.CodeOf(err)),
	})
}

// orderView renders an order with its derived status and chain.
func orderView(order *workflow.Order) map[string]interface{} {
	stages := make([]map[string]interface{}, 0, len(order.Chain.Stages))
	for _, s := range order.Chain.Stages {
		stages = append(stages, map[string]interface{}{
			"role":       s.Role,
			"sequence":   s.Sequence,
			"state":      s.State,
			"actor_id":   s.ActorID,
			"decided_at": s.DecidedAt,
		})
	}
	return map[string]interface{}{
		"order_id":        order.OrderID,
		"order_type":      order.OrderType,
		"created_by_role": order.CreatedByRole,
		"created_by_id":   order.CreatedByID,
		"destination_id":  order.DestinationID,
		"created_at":      order.CreatedAt,
		"status":          order.Status(),
		"version":         order.Chain.Version,
		"fulfillment_ref": order.FulfillmentRef,
		"chain":           stages,
	}
}
