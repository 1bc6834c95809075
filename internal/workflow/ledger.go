package workflow

import (
	"time"

	"github.com/cks-portal/be-hub-orders/internal/apperr"
)

// stageCompleted reports whether a stage counts as a finished position in the
// chain. A product-order warehouse stage in state accepted is NOT complete:
// the warehouse has taken the order but still owes the delivery, so the stage
// stays active until the deliver decision lands.
func stageCompleted(orderType OrderType, s Stage) bool {
	switch s.State {
	case StageApproved, StageRequested, StageDelivered:
		return true
	case StageAccepted:
		return !(s.Role == RoleWarehouse && orderType == OrderTypeProduct)
	default:
		return false
	}
}

// ActiveStage returns the single stage currently eligible for a decision: the
// lowest-sequence stage that is not complete. Returns nil once the chain is
// terminal (cancelled, archived, any stage rejected, or all stages complete).
func ActiveStage(chain Chain) *Stage {
	if chain.Cancelled || chain.Archived {
		return nil
	}
	for i := range chain.Stages {
		if chain.Stages[i].State == StageRejected {
			return nil
		}
	}
	for i := range chain.Stages {
		if !stageCompleted(chain.OrderType, chain.Stages[i]) {
			return &chain.Stages[i]
		}
	}
	return nil
}

// decisionAllowed maps each role to the verbs it may submit. Cancel is handled
// separately because it belongs to the creator, not to a chain position.
func decisionAllowed(role Role, decision Decision) bool {
	switch role {
	case RoleCustomer, RoleContractor:
		return decision == DecisionApprove || decision == DecisionReject
	case RoleManager, RoleCrew:
		return decision == DecisionAccept || decision == DecisionDeny
	case RoleWarehouse:
		return decision == DecisionAccept || decision == DecisionDeny || decision == DecisionDeliver
	}
	return false
}

// completedState is the per-role state a stage takes when its decision is
// positive. The creator's own first step completes as requested instead.
func completedState(role Role) StageState {
	switch role {
	case RoleManager, RoleCrew, RoleWarehouse:
		return StageAccepted
	default:
		return StageApproved
	}
}

// ApplyDecision validates and applies one decision against the chain's active
// stage, returning a new chain snapshot. The input chain is never mutated.
//
// observedVersion is the version the caller read before deciding. Under two
// concurrent requests against the same snapshot the second one fails here (or
// at the persistence write) instead of advancing the chain twice.
func ApplyDecision(chain Chain, actingRole Role, decision Decision, actorID string, now time.Time, observedVersion int) (Chain, error) {
	if observedVersion != chain.Version {
		return chain, apperr.Newf(apperr.ErrCodeStaleAction,
			"decision based on chain version %d but chain is at version %d", observedVersion, chain.Version)
	}

	active := ActiveStage(chain)
	if active == nil {
		return chain, apperr.New(apperr.ErrCodeNoActiveStage,
			"order is terminal; no stage accepts decisions")
	}

	if decision == DecisionCancel {
		if actingRole != chain.CreatedBy {
			return chain, apperr.Newf(apperr.ErrCodeUnauthorized,
				"only the creating role %s may cancel this order", chain.CreatedBy)
		}
		if active.Sequence != 0 || active.State != StagePending {
			return chain, apperr.New(apperr.ErrCodeConflict,
				"order can no longer be cancelled: a downstream party has already acted")
		}
		next := chain.Clone()
		next.Cancelled = true
		next.Version++
		return next, nil
	}

	if actingRole != active.Role {
		return chain, apperr.Newf(apperr.ErrCodeStaleAction,
			"decision by %s but the active stage belongs to %s", actingRole, active.Role)
	}
	if !decisionAllowed(actingRole, decision) {
		return chain, apperr.InvalidInput("decision",
			string(decision)+" is not a valid decision for role "+string(actingRole))
	}

	next := chain.Clone()
	stage := &next.Stages[active.Sequence]
	decidedAt := now

	switch decision {
	case DecisionReject, DecisionDeny:
		if stage.State == StageAccepted {
			return chain, apperr.New(apperr.ErrCodeConflict,
				"order already accepted for delivery; it can only be delivered")
		}
		stage.State = StageRejected
		stage.ActorID = actorID
		stage.DecidedAt = &decidedAt
		// Remaining stages stay waiting but are frozen: derivation treats
		// any rejected stage as a terminal failure regardless of position.

	case DecisionDeliver:
		if !(stage.Role == RoleWarehouse && stage.State == StageAccepted) {
			return chain, apperr.New(apperr.ErrCodeConflict,
				"deliver is only valid after the warehouse has accepted the order")
		}
		stage.State = StageDelivered
		stage.ActorID = actorID
		stage.DecidedAt = &decidedAt
		advance(&next)

	case DecisionApprove, DecisionAccept:
		if stage.State == StageAccepted {
			return chain, apperr.New(apperr.ErrCodeConflict,
				"order already accepted for delivery; it can only be delivered")
		}
		if actingRole == next.CreatedBy {
			// The creator confirming its own step records a request,
			// not an approval of someone else's work.
			stage.State = StageRequested
		} else {
			stage.State = completedState(actingRole)
		}
		stage.ActorID = actorID
		stage.DecidedAt = &decidedAt
		if stageCompleted(next.OrderType, *stage) {
			advance(&next)
		}
	}

	next.Version++
	return next, nil
}

// advance flips the next waiting stage to pending, if one exists.
func advance(chain *Chain) {
	for i := range chain.Stages {
		if chain.Stages[i].State == StageWaiting {
			chain.Stages[i].State = StagePending
			return
		}
	}
}

// DeriveAggregateStatus is the single source of truth for an order's status.
// Pure, total and idempotent over any chain state; consumed by the action
// policy, the persistence cache and every read model.
func DeriveAggregateStatus(chain Chain) AggregateStatus {
	if chain.Archived {
		return StatusArchived
	}
	if chain.Cancelled {
		return StatusCancelled
	}
	for _, s := range chain.Stages {
		if s.State == StageRejected {
			return StatusRejected
		}
	}

	allComplete := true
	for _, s := range chain.Stages {
		if !stageCompleted(chain.OrderType, s) {
			allComplete = false
			break
		}
	}
	if allComplete {
		if chain.OrderType == OrderTypeService {
			return StatusServiceCreated
		}
		return StatusDelivered
	}

	// Product order taken by the warehouse but not yet delivered.
	for _, s := range chain.Stages {
		if chain.OrderType == OrderTypeProduct && s.Role == RoleWarehouse && s.State == StageAccepted {
			return StatusApproved
		}
	}

	if active := ActiveStage(chain); active != nil && active.Role == RoleCrew {
		return StatusCrewRequested
	}
	for _, s := range chain.Stages {
		if s.Role == RoleCrew && stageCompleted(chain.OrderType, s) {
			return StatusCrewAssigned
		}
	}
	for _, s := range chain.Stages {
		if s.Role == RoleManager && stageCompleted(chain.OrderType, s) {
			return StatusManagerAccept
		}
	}

	for _, s := range chain.Stages {
		if s.State != StagePending && s.State != StageWaiting {
			return StatusInProgress
		}
	}
	return StatusPending
}
