package postgres

// migrations create the schema. Every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		flow_id     TEXT NOT NULL,
		status      TEXT NOT NULL,
		resume_from TEXT NOT NULL DEFAULT '',
		debug       BOOLEAN NOT NULL DEFAULT FALSE,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		checkpoint  TEXT NOT NULL DEFAULT '',
		statuses    JSONB NOT NULL DEFAULT '{}'::jsonb,
		abandoned   JSONB NOT NULL DEFAULT '[]'::jsonb,
		unscheduled JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS runs_flow_started_idx ON runs (flow_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS node_executions (
		run_id        TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
		seq           INTEGER NOT NULL,
		node_id       TEXT NOT NULL,
		node_label    TEXT NOT NULL DEFAULT '',
		node_type     TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ,
		duration_ms   BIGINT NOT NULL DEFAULT 0,
		max_cpu       DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_memory_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
		attempts      INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		flow_id    TEXT PRIMARY KEY,
		node_id    TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

const upsertRunSQL = `INSERT INTO runs (
		run_id, flow_id, status, resume_from, debug, started_at, finished_at,
		duration_ms, checkpoint, statuses, abandoned, unscheduled
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (run_id) DO UPDATE SET
		status      = EXCLUDED.status,
		finished_at = EXCLUDED.finished_at,
		duration_ms = EXCLUDED.duration_ms,
		checkpoint  = EXCLUDED.checkpoint,
		statuses    = EXCLUDED.statuses,
		abandoned   = EXCLUDED.abandoned,
		unscheduled = EXCLUDED.unscheduled,
		updated_at  = now()`

const deleteExecutionsSQL = `DELETE FROM node_executions WHERE run_id = $1`

const insertExecutionSQL = `INSERT INTO node_executions (
		run_id, seq, node_id, node_label, node_type, status, started_at, finished_at,
		duration_ms, max_cpu, max_memory_mb, attempts, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

const runColumns = `run_id, flow_id, status, resume_from, debug, started_at, finished_at,
		duration_ms, checkpoint, statuses, abandoned, unscheduled`

const selectRunSQL = `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

const listRunsSQL = `SELECT ` + runColumns + ` FROM runs
	WHERE flow_id = $1
	ORDER BY started_at DESC
	LIMIT $2`

const selectExecutionsSQL = `SELECT node_id, node_label, node_type, status, started_at, finished_at,
		duration_ms, max_cpu, max_memory_mb, attempts, error
	FROM node_executions
	WHERE run_id = $1
	ORDER BY seq`

const selectCheckpointSQL = `SELECT node_id FROM checkpoints WHERE flow_id = $1`

const upsertCheckpointSQL = `INSERT INTO checkpoints (flow_id, node_id, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (flow_id) DO UPDATE SET node_id = EXCLUDED.node_id, updated_at = now()`

const deleteCheckpointSQL = `DELETE FROM checkpoints WHERE flow_id = $1`
