// Package roles provides role membership lookup for decision authorization
// and notification addressing. The directory is read-only to the engine and
// assumed eventually consistent: a membership change takes effect on the
// next decision attempt, never retroactively.
package roles

import "context"

// Directory resolves role identifiers to the actors currently holding them
// and actors to the roles they hold.
type Directory interface {
	ActorsForRole(ctx context.Context, tenantID, role string) ([]string, error)
	RolesForActor(ctx context.Context, tenantID, actor string) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// HoldsRole reports whether the actor currently holds the role.
func HoldsRole(ctx context.Context, directory Directory, tenantID, actor, role string) (bool, error) {
	held, err := directory.RolesForActor(ctx, tenantID, actor)
	if err != nil {
		return false, err
	}

	for _, candidate := range held {
		if candidate == role {
			return true, nil
		}
	}

	return false, nil
}
