package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tasks (
    id           BIGSERIAL PRIMARY KEY,
    task_uuid    TEXT NOT NULL UNIQUE,
    model        TEXT NOT NULL DEFAULT '',
    prompt       TEXT NOT NULL DEFAULT '',
    context_size INTEGER NOT NULL DEFAULT 0,
    tier         TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL DEFAULT 'queued',
    ticket_id    TEXT NOT NULL DEFAULT '',
    mirror_id    TEXT NOT NULL DEFAULT '',
    result       TEXT NOT NULL DEFAULT '',
    error_code   TEXT NOT NULL DEFAULT '',
    error_detail TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_uuid ON tasks(task_uuid);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);

CREATE TABLE IF NOT EXISTS tickets (
    ticket_id   TEXT PRIMARY KEY,
    task_uuid   TEXT NOT NULL DEFAULT '',
    issued_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    released_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tickets_open ON tickets(released_at) WHERE released_at IS NULL;

CREATE TABLE IF NOT EXISTS mirrors (
    mirror_id          TEXT PRIMARY KEY,
    model              TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'starting',
    current_task       TEXT NOT NULL DEFAULT '',
    consecutive_errors INTEGER NOT NULL DEFAULT 0,
    last_heartbeat     TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    evicted_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS peer_snapshots (
    node_id     TEXT PRIMARY KEY,
    tier        TEXT NOT NULL DEFAULT '',
    clock       BIGINT NOT NULL DEFAULT 0,
    snapshot    JSONB NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL DEFAULT 'reachable',
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS admin_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
