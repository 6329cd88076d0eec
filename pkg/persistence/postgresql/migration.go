package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE templates (
				id UUID PRIMARY KEY,
				name VARCHAR(100) NOT NULL,
				description TEXT NOT NULL,
				version VARCHAR(20) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				roles JSONB NOT NULL,
				states JSONB NOT NULL,
				slots JSONB,
				category VARCHAR(50) NOT NULL DEFAULT 'general',
				complexity VARCHAR(20) NOT NULL DEFAULT 'simple',
				tags JSONB,
				estimated_duration_hours INT,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (name, version)
			);

			CREATE INDEX idx_templates_category ON templates(category);
			CREATE INDEX idx_templates_is_active ON templates(is_active);

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				template_id UUID NOT NULL REFERENCES templates(id),
				tenant_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'paused', 'completed', 'cancelled')),
				current_state VARCHAR(100) NOT NULL,
				initiator_id VARCHAR(255),
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				cancelled_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_tenant_id ON runs(tenant_id);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_template_id ON runs(template_id);

			CREATE TABLE participants (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				role_name VARCHAR(50) NOT NULL,
				account_id VARCHAR(255),
				is_guest BOOLEAN NOT NULL DEFAULT false,
				access_token VARCHAR(255),
				metadata JSONB,
				last_active_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_participants_run_id ON participants(run_id);
			CREATE UNIQUE INDEX idx_participants_run_token ON participants(run_id, access_token)
				WHERE access_token IS NOT NULL;

			CREATE TABLE run_states (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				state_name VARCHAR(100) NOT NULL,
				slot_data JSONB,
				actor_id VARCHAR(255),
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				exited_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_run_states_run_id ON run_states(run_id);
			-- At most one open history entry per run.
			CREATE UNIQUE INDEX idx_run_states_open ON run_states(run_id)
				WHERE exited_at IS NULL;
		`,
	}
}
