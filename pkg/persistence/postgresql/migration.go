package postgresql

// migrations returns the versioned schema for the approval engine.
//
// The partial unique index on approval_instances enforces the
// one-in-flight-instance-per-subject invariant at the data model level, and
// the one on approval_steps enforces the single-pending invariant instead of
// recomputing the live step by scanning.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS approval_instances (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				subject_ref TEXT NOT NULL,
				kind TEXT NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE NOT NULL,
				lead_time_days INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_one_in_flight
				ON approval_instances (tenant_id, subject_ref)
				WHERE status IN ('initiated', 'in_progress');

			CREATE INDEX IF NOT EXISTS idx_instances_tenant_status
				ON approval_instances (tenant_id, status);

			CREATE TABLE IF NOT EXISTS approval_steps (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL REFERENCES approval_instances (id),
				sequence INTEGER NOT NULL,
				role TEXT NOT NULL,
				status TEXT NOT NULL,
				decided_by TEXT,
				decided_at TIMESTAMP WITH TIME ZONE,
				notes TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (instance_id, sequence)
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_single_pending
				ON approval_steps (instance_id)
				WHERE status = 'action_pending';

			CREATE TABLE IF NOT EXISTS approval_history (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL REFERENCES approval_instances (id),
				step_id UUID,
				action TEXT NOT NULL,
				actor TEXT NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				notes TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_history_instance
				ON approval_history (instance_id, occurred_at DESC);

			CREATE TABLE IF NOT EXISTS execution_records (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL UNIQUE REFERENCES approval_instances (id),
				tenant_id TEXT NOT NULL,
				subject_ref TEXT NOT NULL,
				kind TEXT NOT NULL,
				notes TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
