package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
	"github.com/cks-portal/be-hub-orders/internal/database"
	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// OrderRepository persists orders and their approval chains. An order row and
// its stage rows are always written together in a single transaction; the
// status column is a read cache recomputed from the chain on every write.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ListFilter narrows List results. Zero values mean "no constraint".
// ViewerRole/ViewerID restrict results to orders the viewer created or whose
// chain includes its role; the admin role sees everything. Predicates run in
// SQL so LIMIT/OFFSET count only rows the viewer actually receives.
type ListFilter struct {
	Archived        bool
	OrderType       workflow.OrderType
	Status          workflow.AggregateStatus
	ViewerRole      workflow.Role
	ViewerID        string
	ActiveOnly      bool
	NeedsActionOnly bool
	Limit           int
	Offset          int
}

// Create inserts an order and its chain in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order *workflow.Order) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		orderQuery := `
			INSERT INTO hub_orders
			    (id, order_type, created_by_role, created_by_id, destination_id,
			     status, fulfillment_ref, cancelled, archived, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`

		_, err := tx.Exec(ctx, orderQuery,
			order.OrderID,
			order.OrderType,
			order.CreatedByRole,
			order.CreatedByID,
			order.DestinationID,
			order.Status(),
			nullable(order.FulfillmentRef),
			order.Chain.Cancelled,
			order.Chain.Archived,
			order.Chain.Version,
			order.CreatedAt,
		)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create order")
		}

		stageQuery := `
			INSERT INTO hub_order_stages
			    (order_id, sequence, role, state, actor_id, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`

		for _, stage := range order.Chain.Stages {
			_, err := tx.Exec(ctx, stageQuery,
				order.OrderID,
				stage.Sequence,
				stage.Role,
				stage.State,
				nullable(stage.ActorID),
				stage.DecidedAt,
			)
			if err != nil {
				return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create order stage")
			}
		}

		return nil
	})
}

// GetByID loads an order with its full chain.
func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*workflow.Order, error) {
	query := `
		SELECT id, order_type, created_by_role, created_by_id, destination_id,
		       fulfillment_ref, cancelled, archived, version, created_at
		FROM hub_orders
		WHERE id = $1
	`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", orderID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get order")
	}

	stages, err := r.loadStages(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	order.Chain.Stages = stages[orderID]
	return order, nil
}

// Save writes the order's chain back, guarded by the version the caller
// loaded. A concurrent writer that got there first leaves the row at a higher
// version and this call fails with a version_conflict instead of silently
// overwriting the decision.
func (r *OrderRepository) Save(ctx context.Context, order *workflow.Order, expectedVersion int) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		orderQuery := `
			UPDATE hub_orders
			SET status          = $2,
			    fulfillment_ref = $3,
			    cancelled       = $4,
			    archived        = $5,
			    version         = $6,
			    updated_at      = NOW()
			WHERE id = $1 AND version = $7
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, orderQuery,
			order.OrderID,
			order.Status(),
			nullable(order.FulfillmentRef),
			order.Chain.Cancelled,
			order.Chain.Archived,
			order.Chain.Version,
			expectedVersion,
		).Scan(&returnedID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.versionConflictOrMissing(ctx, tx, order.OrderID, expectedVersion)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to save order")
		}

		stageQuery := `
			UPDATE hub_order_stages
			SET state      = $3,
			    actor_id   = $4,
			    decided_at = $5
			WHERE order_id = $1 AND sequence = $2
		`

		for _, stage := range order.Chain.Stages {
			_, err := tx.Exec(ctx, stageQuery,
				order.OrderID,
				stage.Sequence,
				stage.State,
				nullable(stage.ActorID),
				stage.DecidedAt,
			)
			if err != nil {
				return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to save order stage")
			}
		}

		return nil
	})
}

// List returns orders matching the filter. Active views are newest-first;
// the archive view is oldest-first within the completed set so pagination
// stays stable as more orders are archived.
//
// The needs-action predicate mirrors the action policy: the viewer's role
// holds the active stage (the pending stage, or an accepted warehouse stage
// on a product order), or the viewer created the order and its first stage is
// still pending so the cancel window is open.
func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]*workflow.Order, error) {
	query := `
		SELECT o.id, o.order_type, o.created_by_role, o.created_by_id, o.destination_id,
		       o.fulfillment_ref, o.cancelled, o.archived, o.version, o.created_at
		FROM hub_orders o
		WHERE o.archived = $1
		  AND ($2 = '' OR o.order_type = $2)
		  AND ($3 = '' OR o.status = $3)
		  AND ($4 = '' OR $4 = 'admin'
		       OR o.created_by_id = $5
		       OR EXISTS (SELECT 1 FROM hub_order_stages s
		                  WHERE s.order_id = o.id AND s.role = $4))
		  AND (NOT $6::boolean OR o.status NOT IN
		       ('cancelled', 'rejected', 'delivered', 'service-created', 'archived'))
		  AND (NOT $7::boolean OR (
		       o.status NOT IN ('cancelled', 'rejected', 'delivered', 'service-created', 'archived')
		       AND (EXISTS (SELECT 1 FROM hub_order_stages s
		                    WHERE s.order_id = o.id AND s.role = $4
		                      AND (s.state = 'pending'
		                           OR (s.role = 'warehouse' AND s.state = 'accepted'
		                               AND o.order_type = 'product')))
		            OR (o.created_by_id = $5
		                AND EXISTS (SELECT 1 FROM hub_order_stages s
		                            WHERE s.order_id = o.id
		                              AND s.sequence = 0 AND s.state = 'pending')))))
		ORDER BY
		  CASE WHEN $1 THEN o.created_at END ASC,
		  CASE WHEN NOT $1 THEN o.created_at END DESC
		LIMIT $8 OFFSET $9
	`

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, query,
		filter.Archived, string(filter.OrderType), string(filter.Status),
		string(filter.ViewerRole), filter.ViewerID,
		filter.ActiveOnly, filter.NeedsActionOnly, limit, filter.Offset)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list orders")
	}
	defer rows.Close()

	var orders []*workflow.Order
	var ids []string
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan order")
		}
		orders = append(orders, order)
		ids = append(ids, order.OrderID)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	stages, err := r.loadStages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		order.Chain.Stages = stages[order.OrderID]
	}
	return orders, nil
}

// ── internal helpers ──────────────────────────────────────────────────────────

// versionConflictOrMissing disambiguates the two reasons the guarded UPDATE
// can match zero rows.
func (r *OrderRepository) versionConflictOrMissing(ctx context.Context, tx pgx.Tx, orderID string, expectedVersion int) error {
	var current int
	err := tx.QueryRow(ctx, `SELECT version FROM hub_orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("order", orderID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check order version")
	}
	return apperr.Newf(apperr.ErrCodeVersionConflict,
		"order %s moved to version %d while caller held version %d", orderID, current, expectedVersion)
}

func (r *OrderRepository) loadStages(ctx context.Context, orderIDs []string) (map[string][]workflow.Stage, error) {
	query := `
		SELECT order_id, sequence, role, state, actor_id, decided_at
		FROM hub_order_stages
		WHERE order_id = ANY($1)
		ORDER BY order_id, sequence ASC
	`

	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load order stages")
	}
	defer rows.Close()

	stages := make(map[string][]workflow.Stage, len(orderIDs))
	for rows.Next() {
		var orderID string
		var stage workflow.Stage
		var actorID *string
		var decidedAt *time.Time
		if err := rows.Scan(&orderID, &stage.Sequence, &stage.Role, &stage.State, &actorID, &decidedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan order stage")
		}
		if actorID != nil {
			stage.ActorID = *actorID
		}
		stage.DecidedAt = decidedAt
		stages[orderID] = append(stages[orderID], stage)
	}
	return stages, nil
}

type orderScanner interface {
	Scan(dest ...any) error
}

func (r *OrderRepository) scanOrder(row orderScanner) (*workflow.Order, error) {
	order := &workflow.Order{}
	var fulfillmentRef *string
	err := row.Scan(
		&order.OrderID,
		&order.OrderType,
		&order.CreatedByRole,
		&order.CreatedByID,
		&order.DestinationID,
		&fulfillmentRef,
		&order.Chain.Cancelled,
		&order.Chain.Archived,
		&order.Chain.Version,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fulfillmentRef != nil {
		order.FulfillmentRef = *fulfillmentRef
	}
	order.Chain.OrderType = order.OrderType
	order.Chain.CreatedBy = order.CreatedByRole
	return order, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
