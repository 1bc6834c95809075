package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
	"github.com/cks-portal/be-hub-orders/internal/logger"
	"github.com/cks-portal/be-hub-orders/internal/repository"
	"github.com/cks-portal/be-hub-orders/internal/service"
	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// ── Minimal in-memory collaborators ───────────────────────────────────────────

type memOrderStore struct {
	orders map[string]*workflow.Order
}

func (s *memOrderStore) Create(_ context.Context, order *workflow.Order) error {
	c := *order
	c.Chain = order.Chain.Clone()
	s.orders[order.OrderID] = &c
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, orderID string) (*workflow.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	c := *order
	c.Chain = order.Chain.Clone()
	return &c, nil
}

func (s *memOrderStore) Save(_ context.Context, order *workflow.Order, expectedVersion int) error {
	stored, ok := s.orders[order.OrderID]
	if !ok {
		return apperr.NotFound("order", order.OrderID)
	}
	if stored.Chain.Version != expectedVersion {
		return apperr.New(apperr.ErrCodeVersionConflict, "order moved on")
	}
	c := *order
	c.Chain = order.Chain.Clone()
	s.orders[order.OrderID] = &c
	return nil
}

func (s *memOrderStore) List(_ context.Context, filter repository.ListFilter) ([]*workflow.Order, error) {
	var out []*workflow.Order
	for _, order := range s.orders {
		if order.Chain.Archived != filter.Archived {
			continue
		}
		if filter.ViewerRole != "" && filter.ViewerRole != workflow.RoleAdmin {
			visible := order.CreatedByID == filter.ViewerID
			for _, stage := range order.Chain.Stages {
				if stage.Role == filter.ViewerRole {
					visible = true
				}
			}
			if !visible {
				continue
			}
		}
		out = append(out, order)
	}
	return out, nil
}

type memKeyStore struct {
	receipts map[string]*repository.DecisionReceipt
}

func (s *memKeyStore) Get(_ context.Context, key string) (*repository.DecisionReceipt, error) {
	return s.receipts[key], nil
}

func (s *memKeyStore) Put(_ context.Context, receipt *repository.DecisionReceipt) error {
	s.receipts[receipt.Key] = receipt
	return nil
}

type memActivityStore struct {
	entries []*repository.ActivityEntry
}

func (s *memActivityStore) Append(_ context.Context, entry *repository.ActivityEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memActivityStore) ListByOrder(_ context.Context, orderID string) ([]*repository.ActivityEntry, error) {
	var out []*repository.ActivityEntry
	for _, e := range s.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubFulfillment struct{}

func (stubFulfillment) CreateFulfillment(_ context.Context, order *workflow.Order) (string, error) {
	return "FUL-" + order.OrderID, nil
}

type stubIdentity struct{}

func (stubIdentity) GetUserRoles(_ context.Context, _ string) ([]string, error) {
	return []string{"admin", "manager", "contractor", "customer", "center", "crew", "warehouse"}, nil
}

type stubNotifier struct{}

func (stubNotifier) PublishOrderEvent(_ context.Context, _, _, _, _, _, _ string, _ map[string]interface{}) {
}

func newTestHandler() *HTTPHandler {
	log := logger.New(logger.Config{Level: "error", ServiceName: "be-hub-orders-test"})
	svc := service.NewOrderService(
		&memOrderStore{orders: make(map[string]*workflow.Order)},
		&memKeyStore{receipts: make(map[string]*repository.DecisionReceipt)},
		&memActivityStore{},
		stubFulfillment{},
		stubIdentity{},
		stubNotifier{},
		log,
	)
	return NewHTTPHandler(svc, log)
}

func postJSON(t *testing.T, handlerFunc http.HandlerFunc, path string, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handlerFunc(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestCreateAndDecideRoundTrip(t *testing.T) {
	h := newTestHandler()

	rec := postJSON(t, h.CreateOrder, "/api/v1/orders", map[string]interface{}{
		"order_type":      "service",
		"created_by_role": "center",
		"created_by_id":   "CEN-001",
		"destination_id":  "CTR-001",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody(t, rec)
	orderID := created["order_id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.Len(t, created["chain"], 3)

	rec = postJSON(t, h.Decide, "/api/v1/orders/decide", map[string]interface{}{
		"order_id":    orderID,
		"acting_role": "customer",
		"actor_id":    "CUS-001",
		"decision":    "approve",
	}, map[string]string{"Idempotency-Key": "key-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	decided := decodeBody(t, rec)
	assert.Equal(t, "in-progress", decided["status"])
	assert.Equal(t, float64(1), decided["version"])
}

func TestDecideMapsWorkflowErrorsToStatuses(t *testing.T) {
	h := newTestHandler()

	rec := postJSON(t, h.CreateOrder, "/api/v1/orders", map[string]interface{}{
		"order_type":      "service",
		"created_by_role": "center",
		"created_by_id":   "CEN-001",
		"destination_id":  "CTR-001",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["order_id"].(string)

	// Acting out of turn conflicts.
	rec = postJSON(t, h.Decide, "/api/v1/orders/decide", map[string]interface{}{
		"order_id":    orderID,
		"acting_role": "manager",
		"actor_id":    "MGR-001",
		"decision":    "accept",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stale_action", decodeBody(t, rec)["code"])

	// Unknown orders are not found.
	rec = postJSON(t, h.Decide, "/api/v1/orders/decide", map[string]interface{}{
		"order_id":    "ORD-missing",
		"acting_role": "customer",
		"actor_id":    "CUS-001",
		"decision":    "approve",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrderUnsupportedPairIsBadRequest(t *testing.T) {
	h := newTestHandler()

	rec := postJSON(t, h.CreateOrder, "/api/v1/orders", map[string]interface{}{
		"order_type":      "service",
		"created_by_role": "warehouse",
		"created_by_id":   "WH-001",
		"destination_id":  "CTR-001",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_chain", decodeBody(t, rec)["code"])
}

func TestArchiveNonTerminalIsConflict(t *testing.T) {
	h := newTestHandler()

	rec := postJSON(t, h.CreateOrder, "/api/v1/orders", map[string]interface{}{
		"order_type":      "product",
		"created_by_role": "center",
		"created_by_id":   "CEN-001",
		"destination_id":  "CTR-001",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["order_id"].(string)

	rec = postJSON(t, h.ArchiveOrder, "/api/v1/orders/archive", map[string]interface{}{
		"order_id":   orderID,
		"actor_id":   "ADM-001",
		"actor_role": "admin",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order_not_terminal", decodeBody(t, rec)["code"])
}

func TestListOrdersEmbedsViewerActions(t *testing.T) {
	h := newTestHandler()

	rec := postJSON(t, h.CreateOrder, "/api/v1/orders", map[string]interface{}{
		"order_type":      "service",
		"created_by_role": "center",
		"created_by_id":   "CEN-001",
		"destination_id":  "CTR-001",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?viewer_role=customer&viewer_id=CUS-001", nil)
	listRec := httptest.NewRecorder()
	h.ListOrders(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	body := decodeBody(t, listRec)
	orders := body["orders"].([]interface{})
	require.Len(t, orders, 1)
	actions := orders[0].(map[string]interface{})["actions"].([]interface{})
	assert.Contains(t, actions, "Approve")
	assert.Contains(t, actions, "Reject")
	assert.Contains(t, actions, "View Details")
}

func TestGetOrderRequiresID(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/get", nil)
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
