package workflow

import "github.com/cks-portal/be-hub-orders/internal/apperr"

// chainKey identifies one registered chain definition.
type chainKey struct {
	orderType OrderType
	createdBy Role
}

// chainRegistry fixes chain composition per (orderType, createdByRole).
// This is configuration, not derived data: every role permitted to create
// orders of a type has exactly one entry, and all orders sharing a key get
// an identical chain. Service chains end in manager or crew confirmation;
// product chains end in warehouse.
var chainRegistry = map[chainKey][]Role{
	{OrderTypeService, RoleCenter}:     {RoleCustomer, RoleContractor, RoleManager},
	{OrderTypeService, RoleCustomer}:   {RoleContractor, RoleManager},
	{OrderTypeService, RoleContractor}: {RoleManager, RoleWarehouse},
	{OrderTypeService, RoleManager}:    {RoleCrew, RoleManager},

	{OrderTypeProduct, RoleCenter}:     {RoleWarehouse},
	{OrderTypeProduct, RoleCustomer}:   {RoleWarehouse},
	{OrderTypeProduct, RoleContractor}: {RoleWarehouse},
	{OrderTypeProduct, RoleCrew}:       {RoleContractor, RoleWarehouse},
}

// BuildChain produces the fixed approval chain for an order. The first stage
// starts pending, all later stages waiting. Deterministic and side-effect
// free; fails with an unsupported_chain error when no definition is
// registered for the pair.
func BuildChain(orderType OrderType, createdBy Role) (Chain, error) {
	roles, ok := chainRegistry[chainKey{orderType, createdBy}]
	if !ok {
		return Chain{}, apperr.Newf(apperr.ErrCodeUnsupportedChain,
			"no approval chain registered for %s orders created by %s", orderType, createdBy)
	}

	stages := make([]Stage, len(roles))
	for i, role := range roles {
		state := StageWaiting
		if i == 0 {
			state = StagePending
		}
		stages[i] = Stage{Role: role, Sequence: i, State: state}
	}

	return Chain{
		OrderType: orderType,
		CreatedBy: createdBy,
		Stages:    stages,
	}, nil
}

// RegisteredCreators returns the roles that may create orders of the given
// type. Used by validation and by the chain determinism tests.
func RegisteredCreators(orderType OrderType) []Role {
	var roles []Role
	for key := range chainRegistry {
		if key.orderType == orderType {
			roles = append(roles, key.createdBy)
		}
	}
	return roles
}
