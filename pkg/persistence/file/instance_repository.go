package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

// InstanceRepository stores each instance with its steps embedded in a
// single JSON document.
type InstanceRepository struct {
	persistence *Persistence
}

func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	existing, err := r.activeBySubjectLocked(instance.TenantID, instance.SubjectRef)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	if existing != nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrDuplicateInstance)
	}

	if err := r.persistence.writeJSON(r.persistence.instancePath(instance.ID), instance); err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.getByIDLocked(id)
}

func (r *InstanceRepository) getByIDLocked(id string) (*models.Instance, error) {
	var instance models.Instance

	err := r.persistence.readJSON(r.persistence.instancePath(id), &instance)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ActiveBySubject(ctx context.Context, tenantID, subjectRef string) (*models.Instance, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instance, err := r.activeBySubjectLocked(tenantID, subjectRef)
	if err != nil {
		return nil, persistence.NewInstanceError("ActiveBySubject", "", err)
	}

	if instance == nil {
		return nil, &persistence.InstanceError{
			Op: "ActiveBySubject", SubjectRef: subjectRef, Err: persistence.ErrInstanceNotFound,
		}
	}

	return instance, nil
}

func (r *InstanceRepository) activeBySubjectLocked(tenantID, subjectRef string) (*models.Instance, error) {
	instances, err := r.persistence.readAllInstances()
	if err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if instance.TenantID == tenantID && instance.SubjectRef == subjectRef && !instance.Status.Terminal() {
			return instance, nil
		}
	}

	return nil, nil
}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.ListInstancesResult, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instances, err := r.persistence.readAllInstances()
	if err != nil {
		return nil, persistence.NewInstanceError("List", "", err)
	}

	filtered := make([]*models.Instance, 0, len(instances))

	for _, instance := range instances {
		if opts.TenantID != "" && instance.TenantID != opts.TenantID {
			continue
		}

		if opts.SubjectRef != "" && instance.SubjectRef != opts.SubjectRef {
			continue
		}

		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		instance.Steps = nil
		filtered = append(filtered, instance)
	}

	sortInstances(filtered, opts.SortBy, opts.SortOrder)

	total := int64(len(filtered))

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := len(filtered)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	return &persistence.ListInstancesResult{
		Instances:   filtered[start:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}, nil
}

func (r *InstanceRepository) UpdateStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time, at time.Time) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instance, err := r.getByIDLocked(id)
	if err != nil {
		return err
	}

	instance.Status = status
	instance.UpdatedAt = at
	instance.CompletedAt = completedAt

	if err := r.persistence.writeJSON(r.persistence.instancePath(id), instance); err != nil {
		return persistence.NewInstanceError("UpdateStatus", id, err)
	}

	return nil
}

func (r *InstanceRepository) InProgressPastCutoff(ctx context.Context, now time.Time) ([]*models.Instance, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	instances, err := r.persistence.readAllInstances()
	if err != nil {
		return nil, persistence.NewInstanceError("InProgressPastCutoff", "", err)
	}

	due := make([]*models.Instance, 0)

	for _, instance := range instances {
		if instance.Status != models.InstanceStatusInProgress {
			continue
		}

		if instance.CutoffDate().After(now) {
			continue
		}

		due = append(due, instance)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	return due, nil
}

func sortInstances(instances []*models.Instance, sortBy, sortOrder string) {
	less := func(a, b *models.Instance) bool {
		switch sortBy {
		case "due_date":
			return a.DueDate.Before(b.DueDate)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		if sortOrder == "asc" {
			return less(instances[i], instances[j])
		}

		return less(instances[j], instances[i])
	})
}
