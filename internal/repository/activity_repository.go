package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
	"github.com/cks-portal/be-hub-orders/internal/database"
	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// ActivityEntry is one immutable record in an order's activity feed.
type ActivityEntry struct {
	ID           string
	OrderID      string
	Action       string // created | approved | rejected | accepted | denied | delivered | cancelled | archived
	ActorID      string
	ActorRole    workflow.Role
	StatusBefore workflow.AggregateStatus
	StatusAfter  workflow.AggregateStatus
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// ActivityRepository appends and reads order activity entries. The table has
// a delete-prevention trigger so append is the only mutation exposed.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts one activity entry.
func (r *ActivityRepository) Append(ctx context.Context, entry *ActivityEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal activity metadata")
		}
	}

	query := `
		INSERT INTO hub_order_activity
		    (order_id, action, actor_id, actor_role,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.OrderID,
		entry.Action,
		entry.ActorID,
		entry.ActorRole,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByOrder returns the activity feed for an order ordered oldest-first.
func (r *ActivityRepository) ListByOrder(ctx context.Context, orderID string) ([]*ActivityEntry, error) {
	query := `
		SELECT id, order_id, action, actor_id, actor_role,
		       status_before, status_after, metadata, created_at
		FROM hub_order_activity
		WHERE order_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list order activity")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ActivityRepository) scanRows(rows pgx.Rows) ([]*ActivityEntry, error) {
	var entries []*ActivityEntry
	for rows.Next() {
		entry := &ActivityEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.Action,
			&entry.ActorID,
			&entry.ActorRole,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan activity entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal activity metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
