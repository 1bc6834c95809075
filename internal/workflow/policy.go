package workflow

// roleVocabulary is the decision action set a role sees while it holds the
// active stage. Role-specific behavior is data, not per-screen branching.
var roleVocabulary = map[Role][]Action{
	RoleCustomer:   {ActionApprove, ActionReject},
	RoleContractor: {ActionApprove, ActionReject},
	RoleManager:    {ActionAccept, ActionDeny},
	RoleCrew:       {ActionAccept, ActionDeny},
	RoleWarehouse:  {ActionAccept, ActionDeny},
}

// AvailableActions computes the operations a viewer may invoke on an order
// right now. Terminal orders answer with View Details only, for every viewer.
// A viewer who does not hold the active stage never sees decision verbs, even
// if it appears later in the same chain; the creator additionally sees Cancel
// while the first stage is still untouched, and managers keep an additive
// Schedule Crew helper after their own stage is accepted.
func AvailableActions(viewerRole Role, order *Order) []Action {
	status := order.Status()
	if status.IsTerminal() {
		return []Action{ActionViewDetails}
	}

	var actions []Action
	active := ActiveStage(order.Chain)

	if active != nil && viewerRole == active.Role {
		if active.Role == RoleWarehouse && active.State == StageAccepted {
			// Accepted product order: the only remaining move is the handoff.
			actions = append(actions, ActionDeliver)
		} else {
			actions = append(actions, roleVocabulary[viewerRole]...)
		}
	}

	if active != nil && viewerRole == order.CreatedByRole &&
		active.Sequence == 0 && active.State == StagePending {
		actions = append(actions, ActionCancel)
	}

	// Post-approval helper: additive, computed independently of the
	// active-stage guard since the manager is no longer the active stage
	// once its decision has landed.
	if viewerRole == RoleManager && order.OrderType == OrderTypeService &&
		managerStageCompleted(order.Chain) && status != StatusServiceCreated {
		actions = append(actions, ActionScheduleCrew)
	}

	return append(actions, ActionViewDetails)
}

func managerStageCompleted(chain Chain) bool {
	for _, s := range chain.Stages {
		if s.Role == RoleManager && stageCompleted(chain.OrderType, s) {
			return true
		}
	}
	return false
}
