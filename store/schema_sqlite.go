package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS tasks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
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
    created_at   TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_uuid ON tasks(task_uuid);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);

CREATE TABLE IF NOT EXISTS tickets (
    ticket_id   TEXT PRIMARY KEY,
    task_uuid   TEXT NOT NULL DEFAULT '',
    issued_at   TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    released_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tickets_open ON tickets(released_at) WHERE released_at IS NULL;

CREATE TABLE IF NOT EXISTS mirrors (
    mirror_id          TEXT PRIMARY KEY,
    model              TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'starting',
    current_task       TEXT NOT NULL DEFAULT '',
    consecutive_errors INTEGER NOT NULL DEFAULT 0,
    last_heartbeat     TEXT,
    created_at         TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    evicted_at         TEXT
);

CREATE TABLE IF NOT EXISTS peer_snapshots (
    node_id     TEXT PRIMARY KEY,
    tier        TEXT NOT NULL DEFAULT '',
    clock       INTEGER NOT NULL DEFAULT 0,
    snapshot    TEXT NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL DEFAULT 'reachable',
    received_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS admin_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
`
