package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
	"github.com/cks-portal/be-hub-orders/internal/logger"
	"github.com/cks-portal/be-hub-orders/internal/repository"
	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// OrderStore is the persistence collaborator for orders and their chains.
type OrderStore interface {
	Create(ctx context.Context, order *workflow.Order) error
	GetByID(ctx context.Context, orderID string) (*workflow.Order, error)
	// Save persists the chain guarded by the version the caller loaded and
	// fails with a version_conflict error when the row has moved on.
	Save(ctx context.Context, order *workflow.Order, expectedVersion int) error
	List(ctx context.Context, filter repository.ListFilter) ([]*workflow.Order, error)
}

// DecisionKeyStore records decision receipts for idempotent retries.
type DecisionKeyStore interface {
	Get(ctx context.Context, key string) (*repository.DecisionReceipt, error)
	Put(ctx context.Context, receipt *repository.DecisionReceipt) error
}

// ActivityStore appends and reads the per-order activity feed.
type ActivityStore interface {
	Append(ctx context.Context, entry *repository.ActivityEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]*repository.ActivityEntry, error)
}

// FulfillmentClientInterface creates the downstream service instance or
// delivery on terminal success.
type FulfillmentClientInterface interface {
	CreateFulfillment(ctx context.Context, order *workflow.Order) (string, error)
}

// IdentityClientInterface resolves the roles a user actually holds.
type IdentityClientInterface interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// Notifier receives fire-and-forget events on successful state changes.
// Failures inside the notifier must never fail the core operation.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, eventType, orderID, orderType, actorID, actorRole, status string, payload map[string]interface{})
}

// OrderService is the lifecycle orchestrator: it creates orders with a built
// chain, routes decisions through the stage ledger, triggers fulfillment on
// terminal success and answers what a viewer may do.
type OrderService struct {
	orders      OrderStore
	keys        DecisionKeyStore
	activity    ActivityStore
	fulfillment FulfillmentClientInterface
	identity    IdentityClientInterface
	notifier    Notifier
	log         *logger.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	orders OrderStore,
	keys DecisionKeyStore,
	activity ActivityStore,
	fulfillment FulfillmentClientInterface,
	identity IdentityClientInterface,
	notifier Notifier,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		orders:      orders,
		keys:        keys,
		activity:    activity,
		fulfillment: fulfillment,
		identity:    identity,
		notifier:    notifier,
		log:         log,
	}
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateOrderRequest carries everything needed to open an order.
type CreateOrderRequest struct {
	OrderType     workflow.OrderType `json:"order_type"`
	CreatedByRole workflow.Role      `json:"created_by_role"`
	CreatedByID   string             `json:"created_by_id"`
	DestinationID string             `json:"destination_id"`
}

// CreateOrder builds the approval chain for the pair (orderType, creator
// role) and persists the new order. Fails with unsupported_chain when no
// chain definition is registered for the pair.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*workflow.Order, error) {
	if req.CreatedByID == "" {
		return nil, apperr.InvalidInput("created_by_id", "creator ID is required")
	}
	if req.DestinationID == "" {
		return nil, apperr.InvalidInput("destination_id", "destination is required")
	}

	chain, err := workflow.BuildChain(req.OrderType, req.CreatedByRole)
	if err != nil {
		return nil, err
	}

	if err := s.assertHoldsRole(ctx, req.CreatedByID, req.CreatedByRole); err != nil {
		return nil, err
	}

	order := &workflow.Order{
		OrderID:       "ORD-" + uuid.NewString(),
		OrderType:     req.OrderType,
		CreatedByRole: req.CreatedByRole,
		CreatedByID:   req.CreatedByID,
		DestinationID: req.DestinationID,
		CreatedAt:     time.Now().UTC(),
		Chain:         chain,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.OrderID).
		Str("order_type", string(order.OrderType)).
		Str("created_by_role", string(order.CreatedByRole)).
		Int("chain_length", len(order.Chain.Stages)).
		Msg("Order created")

	s.appendActivity(ctx, &repository.ActivityEntry{
		OrderID:     order.OrderID,
		Action:      "created",
		ActorID:     req.CreatedByID,
		ActorRole:   req.CreatedByRole,
		StatusAfter: order.Status(),
		Metadata:    map[string]interface{}{"destination_id": req.DestinationID},
	})
	s.notifier.PublishOrderEvent(ctx, "order_created", order.OrderID, string(order.OrderType),
		req.CreatedByID, string(req.CreatedByRole), string(order.Status()), nil)

	return order, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecideRequest is one role's decision against an order's active stage.
// ObservedVersion, when set, is the chain version the client rendered its
// buttons against; a stale value fails instead of acting out of turn.
// IdempotencyKey makes network retries safe.
type DecideRequest struct {
	OrderID         string            `json:"order_id"`
	ActingRole      workflow.Role     `json:"acting_role"`
	ActorID         string            `json:"actor_id"`
	Decision        workflow.Decision `json:"decision"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	ObservedVersion *int              `json:"version,omitempty"`
}

// Decide validates and applies one decision. On the exact transition into a
// terminal success status (service-created, delivered) it creates the
// downstream fulfillment exactly once and stores the returned reference.
// A retried call with the same idempotency key returns the original result
// without re-applying the decision.
func (s *OrderService) Decide(ctx context.Context, req *DecideRequest) (*workflow.Order, error) {
	if req.OrderID == "" {
		return nil, apperr.InvalidInput("order_id", "order ID is required")
	}
	if req.ActorID == "" {
		return nil, apperr.InvalidInput("actor_id", "actor ID is required")
	}

	// Replayed request: hand back the recorded outcome.
	if req.IdempotencyKey != "" {
		receipt, err := s.keys.Get(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if receipt.OrderID != req.OrderID || receipt.ActingRole != req.ActingRole || receipt.Decision != req.Decision {
				return nil, apperr.New(apperr.ErrCodeConflict,
					"idempotency key was already used for a different decision")
			}
			s.log.Debug().
				Str("order_id", req.OrderID).
				Str("idempotency_key", req.IdempotencyKey).
				Msg("Decision replayed from receipt")
			return s.orders.GetByID(ctx, req.OrderID)
		}
	}

	if err := s.assertHoldsRole(ctx, req.ActorID, req.ActingRole); err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	loadedVersion := order.Chain.Version
	observed := loadedVersion
	if req.ObservedVersion != nil {
		observed = *req.ObservedVersion
	}
	statusBefore := order.Status()

	chain, err := workflow.ApplyDecision(order.Chain, req.ActingRole, req.Decision, req.ActorID, time.Now().UTC(), observed)
	if err != nil {
		return nil, err
	}
	order.Chain = chain
	statusAfter := order.Status()

	// The version-guarded save elects a single winner among concurrent
	// callers; a loser fails here before the fulfillment collaborator is
	// ever reached.
	if err := s.orders.Save(ctx, order, loadedVersion); err != nil {
		return nil, err
	}

	// Fulfillment fires only on the transition into terminal success, and
	// only once: a populated ref means a previous call already created it.
	if statusAfter.IsCompleted() && !statusBefore.IsCompleted() && order.FulfillmentRef == "" {
		ref, err := s.fulfillment.CreateFulfillment(ctx, order)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create fulfillment")
		}
		order.FulfillmentRef = ref
		if err := s.orders.Save(ctx, order, order.Chain.Version); err != nil {
			return nil, err
		}
	}

	if req.IdempotencyKey != "" {
		if err := s.keys.Put(ctx, &repository.DecisionReceipt{
			Key:            req.IdempotencyKey,
			OrderID:        order.OrderID,
			ActingRole:     req.ActingRole,
			Decision:       req.Decision,
			Status:         statusAfter,
			Version:        order.Chain.Version,
			FulfillmentRef: order.FulfillmentRef,
		}); err != nil {
			s.log.Warn().Err(err).
				Str("order_id", order.OrderID).
				Msg("Failed to store decision receipt")
		}
	}

	s.log.Info().
		Str("order_id", order.OrderID).
		Str("decision", string(req.Decision)).
		Str("acting_role", string(req.ActingRole)).
		Str("status", string(statusAfter)).
		Int("version", order.Chain.Version).
		Msg("Decision applied")

	action := activityAction(req.Decision)
	s.appendActivity(ctx, &repository.ActivityEntry{
		OrderID:      order.OrderID,
		Action:       action,
		ActorID:      req.ActorID,
		ActorRole:    req.ActingRole,
		StatusBefore: statusBefore,
		StatusAfter:  statusAfter,
		Metadata:     map[string]interface{}{"version": order.Chain.Version},
	})
	s.notifier.PublishOrderEvent(ctx, "order_"+action, order.OrderID, string(order.OrderType),
		req.ActorID, string(req.ActingRole), string(statusAfter),
		map[string]interface{}{"fulfillment_ref": order.FulfillmentRef})

	return order, nil
}

// ── Archival ──────────────────────────────────────────────────────────────────

// Archive moves a terminal order into the archive view. Archiving a
// non-terminal order fails with order_not_terminal.
func (s *OrderService) Archive(ctx context.Context, orderID, actorID string, actorRole workflow.Role) (*workflow.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	statusBefore := order.Status()
	if !statusBefore.IsTerminal() {
		return nil, apperr.Newf(apperr.ErrCodeNotTerminal,
			"order %s is %s; only terminal orders can be archived", orderID, statusBefore)
	}
	if order.Chain.Archived {
		return order, nil
	}

	loadedVersion := order.Chain.Version
	order.Chain.Archived = true
	order.Chain.Version++

	if err := s.orders.Save(ctx, order, loadedVersion); err != nil {
		return nil, err
	}

	s.appendActivity(ctx, &repository.ActivityEntry{
		OrderID:      order.OrderID,
		Action:       "archived",
		ActorID:      actorID,
		ActorRole:    actorRole,
		StatusBefore: statusBefore,
		StatusAfter:  order.Status(),
	})
	s.notifier.PublishOrderEvent(ctx, "order_archived", order.OrderID, string(order.OrderType),
		actorID, string(actorRole), string(order.Status()), nil)

	return order, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// ListQuery narrows GetViewableOrders. Bucket is one of "", "needs-action",
// "in-progress" or "archive".
type ListQuery struct {
	Bucket    string
	OrderType workflow.OrderType
	Limit     int
	Offset    int
}

// GetViewableOrders returns the orders a viewer may see: those it created,
// those whose chain includes its role, or everything for the admin oversight
// role. Active views are newest-first; the archive view oldest-first.
// Visibility and bucket predicates run inside the store's query, so a page of
// results counts only orders the viewer actually receives.
func (s *OrderService) GetViewableOrders(ctx context.Context, viewerRole workflow.Role, viewerID string, q ListQuery) ([]*workflow.Order, error) {
	filter := repository.ListFilter{
		Archived:        q.Bucket == "archive",
		OrderType:       q.OrderType,
		ViewerRole:      viewerRole,
		ViewerID:        viewerID,
		ActiveOnly:      q.Bucket == "in-progress",
		NeedsActionOnly: q.Bucket == "needs-action",
		Limit:           q.Limit,
		Offset:          q.Offset,
	}
	return s.orders.List(ctx, filter)
}

// GetOrder loads a single order.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*workflow.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// AvailableActions answers what the viewer may do with an order right now.
func (s *OrderService) AvailableActions(ctx context.Context, viewerRole workflow.Role, orderID string) ([]workflow.Action, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return workflow.AvailableActions(viewerRole, order), nil
}

// GetActivity returns the order's activity feed oldest-first.
func (s *OrderService) GetActivity(ctx context.Context, orderID string) ([]*repository.ActivityEntry, error) {
	return s.activity.ListByOrder(ctx, orderID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// assertHoldsRole checks the actor against the identity service. Identity
// being down is tolerated: workflow-position authorization still holds, and
// the lookup is an extra guard, not the authentication boundary.
func (s *OrderService) assertHoldsRole(ctx context.Context, userID string, role workflow.Role) error {
	roles, err := s.identity.GetUserRoles(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("user_id", userID).
			Msg("Could not resolve user roles; relying on workflow-position checks only")
		return nil
	}
	for _, r := range roles {
		if r == string(role) {
			return nil
		}
	}
	return apperr.Newf(apperr.ErrCodeUnauthorized, "user %s does not hold role %s", userID, role)
}

// appendActivity writes an activity entry and logs a warning on failure
// (never returns an error).
func (s *OrderService) appendActivity(ctx context.Context, entry *repository.ActivityEntry) {
	if err := s.activity.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write activity entry")
	}
}

func activityAction(d workflow.Decision) string {
	switch d {
	case workflow.DecisionApprove:
		return "approved"
	case workflow.DecisionReject:
		return "rejected"
	case workflow.DecisionAccept:
		return "accepted"
	case workflow.DecisionDeny:
		return "denied"
	case workflow.DecisionDeliver:
		return "delivered"
	case workflow.DecisionCancel:
		return "cancelled"
	}
	return string(d)
}
