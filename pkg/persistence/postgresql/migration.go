package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				kind VARCHAR(20) NOT NULL CHECK (kind IN ('standard', 'sequence')),
				enabled BOOLEAN NOT NULL DEFAULT true,
				trigger_type VARCHAR(100) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				last_run_at TIMESTAMP WITH TIME ZONE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				executions_count INT NOT NULL DEFAULT 0,
				last_status VARCHAR(20) NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type) WHERE deleted_at IS NULL;
			CREATE INDEX idx_workflows_next_run_at ON workflows(next_run_at) WHERE enabled AND deleted_at IS NULL;

			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'partial', 'completed', 'failed')),
				trigger_data JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_started ON executions(workflow_id, started_at);

			CREATE TABLE step_executions (
				id VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL REFERENCES executions(id),
				step_id VARCHAR(64) NOT NULL,
				step_index INT NOT NULL,
				step_type VARCHAR(100) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				scheduled_for TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_step_executions_execution ON step_executions(execution_id, step_index);
			CREATE INDEX idx_step_executions_due ON step_executions(scheduled_for) WHERE status = 'pending';

			CREATE TABLE enrollments (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id),
				subject_id VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'completed', 'cancelled')),
				current_step_index INT NOT NULL DEFAULT 0,
				next_send_at TIMESTAMP WITH TIME ZONE,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_enrollments_active_subject
				ON enrollments(workflow_id, subject_id) WHERE status = 'active';
			CREATE INDEX idx_enrollments_due ON enrollments(next_send_at) WHERE status = 'active';
		`,
	}
}
