package roles

import (
	"context"
	"sort"
	"sync"
)

// StaticDirectory is an in-memory role directory for tests and local
// development.
type StaticDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string][]string // tenantID -> role -> actors
}

// NewStaticDirectory creates an empty static directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{members: make(map[string]map[string][]string)}
}

// Grant adds the actor to the role's member set.
func (d *StaticDirectory) Grant(tenantID, role, actor string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.members[tenantID] == nil {
		d.members[tenantID] = make(map[string][]string)
	}

	for _, existing := range d.members[tenantID][role] {
		if existing == actor {
			return
		}
	}

	d.members[tenantID][role] = append(d.members[tenantID][role], actor)
}

func (d *StaticDirectory) ActorsForRole(_ context.Context, tenantID, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	actors := make([]string, len(d.members[tenantID][role]))
	copy(actors, d.members[tenantID][role])

	return actors, nil
}

func (d *StaticDirectory) RolesForActor(_ context.Context, tenantID, actor string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	held := make([]string, 0)

	for role, actors := range d.members[tenantID] {
		for _, candidate := range actors {
			if candidate == actor {
				held = append(held, role)

				break
			}
		}
	}

	sort.Strings(held)

	return held, nil
}

func (d *StaticDirectory) HealthCheck(_ context.Context) error {
	return nil
}
