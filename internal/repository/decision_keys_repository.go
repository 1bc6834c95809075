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

// DecisionReceipt records the outcome of one applied decision, keyed by the
// client-supplied idempotency key. A retried decide call finds the receipt
// and returns the original result instead of advancing the chain again.
type DecisionReceipt struct {
	Key            string
	OrderID        string
	ActingRole     workflow.Role
	Decision       workflow.Decision
	Status         workflow.AggregateStatus
	Version        int
	FulfillmentRef string
	CreatedAt      time.Time
}

// DecisionKeysRepository stores decision receipts.
type DecisionKeysRepository struct {
	db *database.DB
}

// NewDecisionKeysRepository creates a new DecisionKeysRepository.
func NewDecisionKeysRepository(db *database.DB) *DecisionKeysRepository {
	return &DecisionKeysRepository{db: db}
}

// Get returns the receipt for a key, or nil when the key is unseen.
func (r *DecisionKeysRepository) Get(ctx context.Context, key string) (*DecisionReceipt, error) {
	query := `
		SELECT idempotency_key, order_id, acting_role, decision,
		       status, version, fulfillment_ref, created_at
		FROM hub_order_decision_keys
		WHERE idempotency_key = $1
	`

	receipt := &DecisionReceipt{}
	var fulfillmentRef *string
	err := r.db.QueryRow(ctx, query, key).Scan(
		&receipt.Key,
		&receipt.OrderID,
		&receipt.ActingRole,
		&receipt.Decision,
		&receipt.Status,
		&receipt.Version,
		&fulfillmentRef,
		&receipt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get decision receipt")
	}
	if fulfillmentRef != nil {
		receipt.FulfillmentRef = *fulfillmentRef
	}
	return receipt, nil
}

// Put stores a receipt. Concurrent retries race to insert the same key; the
// loser's write is a no-op, which is exactly the idempotent outcome wanted.
func (r *DecisionKeysRepository) Put(ctx context.Context, receipt *DecisionReceipt) error {
	query := `
		INSERT INTO hub_order_decision_keys
		    (idempotency_key, order_id, acting_role, decision,
		     status, version, fulfillment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		receipt.Key,
		receipt.OrderID,
		receipt.ActingRole,
		receipt.Decision,
		receipt.Status,
		receipt.Version,
		nullable(receipt.FulfillmentRef),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to store decision receipt")
	}
	return nil
}
