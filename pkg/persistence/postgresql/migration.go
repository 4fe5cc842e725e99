package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flows keep the draft and the published snapshot as JSON documents
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				draft JSONB NOT NULL DEFAULT '{}',
				published JSONB,
				published_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_tenant_id ON flows(tenant_id);

			-- One row per chat session; version drives compare-and-swap updates
			CREATE TABLE chat_sessions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				channel_user_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'bot', 'open', 'waiting', 'closed')),
				queue VARCHAR(255),
				version BIGINT NOT NULL,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_chat_sessions_identity ON chat_sessions(tenant_id, channel, channel_user_id);
			CREATE INDEX idx_chat_sessions_status ON chat_sessions(status);
			CREATE INDEX idx_chat_sessions_created_at ON chat_sessions(created_at);
		`,
		2: `
			-- Collaborator records consumed by the interpreter
			CREATE TABLE templates (
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE TABLE schedules (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL
			);

			CREATE TABLE channel_configs (
				tenant_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, channel)
			);

			CREATE TABLE agents (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL
			);
		`,
		3: `
			-- At most one non-closed session per channel identity
			CREATE UNIQUE INDEX idx_chat_sessions_open_identity
				ON chat_sessions(tenant_id, channel, channel_user_id)
				WHERE status <> 'closed';
		`,
	}
}
