package workflow

import "time"

// Role is a hub role that can create orders or sit on an approval chain.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleContractor Role = "contractor"
	RoleCustomer   Role = "customer"
	RoleCenter     Role = "center"
	RoleCrew       Role = "crew"
	RoleWarehouse  Role = "warehouse"
)

// OrderType distinguishes service orders from product (supply) orders.
type OrderType string

const (
	OrderTypeService OrderType = "service"
	OrderTypeProduct OrderType = "product"
)

// StageState is the per-stage decision state within a chain.
type StageState string

const (
	StagePending   StageState = "pending"
	StageWaiting   StageState = "waiting"
	StageApproved  StageState = "approved"
	StageRejected  StageState = "rejected"
	StageAccepted  StageState = "accepted"
	StageRequested StageState = "requested"
	StageDelivered StageState = "delivered"
)

// AggregateStatus is the order-level status, always derived from the chain.
type AggregateStatus string

const (
	StatusPending        AggregateStatus = "pending"
	StatusInProgress     AggregateStatus = "in-progress"
	StatusApproved       AggregateStatus = "approved"
	StatusRejected       AggregateStatus = "rejected"
	StatusCancelled      AggregateStatus = "cancelled"
	StatusCrewRequested  AggregateStatus = "crew-requested"
	StatusCrewAssigned   AggregateStatus = "crew-assigned"
	StatusManagerAccept  AggregateStatus = "manager-accepted"
	StatusServiceCreated AggregateStatus = "service-created"
	StatusDelivered      AggregateStatus = "delivered"
	StatusArchived       AggregateStatus = "archived"
)

// IsTerminal reports whether a status freezes the order. Terminal orders are
// read-only: no decision may be applied and no actions beyond viewing exist.
func (s AggregateStatus) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusRejected, StatusDelivered, StatusServiceCreated, StatusArchived:
		return true
	}
	return false
}

// IsCompleted reports terminal success (a fulfillment exists or existed).
func (s AggregateStatus) IsCompleted() bool {
	return s == StatusServiceCreated || s == StatusDelivered
}

// Decision is a verb a role submits against the active stage.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAccept  Decision = "accept"
	DecisionDeny    Decision = "deny"
	DecisionCancel  Decision = "cancel"
	DecisionDeliver Decision = "deliver"
)

// Stage is one role's position and decision state within an order's chain.
// Sequence and Role are fixed at creation; only State/ActorID/DecidedAt mutate.
type Stage struct {
	Role      Role
	Sequence  int
	State     StageState
	ActorID   string
	DecidedAt *time.Time
}

// Chain is the full approval ledger of one order. Version increments on every
// applied decision and is the optimistic-concurrency token: a decision carrying
// a stale version fails instead of double-advancing the chain.
type Chain struct {
	OrderType OrderType
	CreatedBy Role
	Stages    []Stage
	Cancelled bool
	Archived  bool
	Version   int
}

// Clone returns a deep copy so ApplyDecision can stay side-effect free.
func (c Chain) Clone() Chain {
	out := c
	out.Stages = make([]Stage, len(c.Stages))
	copy(out.Stages, c.Stages)
	for i := range out.Stages {
		if c.Stages[i].DecidedAt != nil {
			t := *c.Stages[i].DecidedAt
			out.Stages[i].DecidedAt = &t
		}
	}
	return out
}

// Order is a service or supply request moving through an approval chain.
type Order struct {
	OrderID        string
	OrderType      OrderType
	CreatedByRole  Role
	CreatedByID    string
	DestinationID  string
	CreatedAt      time.Time
	Chain          Chain
	FulfillmentRef string
}

// Status derives the aggregate status from the chain. It is never stored as
// an independent source of truth; the persisted column is a read cache.
func (o *Order) Status() AggregateStatus {
	return DeriveAggregateStatus(o.Chain)
}

// Action is an operation a viewer may invoke on an order right now.
type Action string

const (
	ActionApprove      Action = "Approve"
	ActionReject       Action = "Reject"
	ActionAccept       Action = "Accept"
	ActionDeny         Action = "Deny"
	ActionCancel       Action = "Cancel"
	ActionDeliver      Action = "Deliver"
	ActionScheduleCrew Action = "Schedule Crew"
	ActionViewDetails  Action = "View Details"
)

// decisionVerbs are the actions that mutate chain state. Everything else is
// read-only from the ledger's point of view.
var decisionVerbs = map[Action]bool{
	ActionApprove: true,
	ActionReject:  true,
	ActionAccept:  true,
	ActionDeny:    true,
	ActionCancel:  true,
	ActionDeliver: true,
}

// IsDecisionVerb reports whether an action would mutate the chain.
func (a Action) IsDecisionVerb() bool { return decisionVerbs[a] }
