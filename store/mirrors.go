package store

import (
	"time"
)

// MirrorRecord persists mirror registry state for the status API and for
// diagnosing evictions after the fact.
type MirrorRecord struct {
	MirrorID          string
	Model             string
	Status            string
	CurrentTask       string
	ConsecutiveErrors int
	LastHeartbeat     *time.Time
	CreatedAt         time.Time
	EvictedAt         *time.Time
}

func (db *DB) UpsertMirror(m *MirrorRecord) error {
	_, err := db.Exec(db.Q(`
		INSERT INTO mirrors (mirror_id, model, status, current_task, consecutive_errors)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mirror_id) DO UPDATE SET
			model = excluded.model,
			status = excluded.status,
			current_task = excluded.current_task,
			consecutive_errors = excluded.consecutive_errors
	`), m.MirrorID, m.Model, m.Status, m.CurrentTask, m.ConsecutiveErrors)
	return err
}

func (db *DB) UpdateMirrorHeartbeat(mirrorID string) error {
	_, err := db.Exec(db.Q(`
		UPDATE mirrors SET last_heartbeat=datetime('now','localtime') WHERE mirror_id=?
	`), mirrorID)
	return err
}

func (db *DB) MarkMirrorEvicted(mirrorID string) error {
	_, err := db.Exec(db.Q(`
		UPDATE mirrors SET status='dead', evicted_at=datetime('now','localtime') WHERE mirror_id=?
	`), mirrorID)
	return err
}

func (db *DB) ListMirrors(includeEvicted bool) ([]MirrorRecord, error) {
	q := `SELECT mirror_id, model, status, current_task, consecutive_errors, last_heartbeat, created_at, evicted_at FROM mirrors`
	if !includeEvicted {
		q += ` WHERE evicted_at IS NULL`
	}
	q += ` ORDER BY created_at`

	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MirrorRecord
	for rows.Next() {
		var m MirrorRecord
		var hb, createdAt, evictedAt any
		if err := rows.Scan(&m.MirrorID, &m.Model, &m.Status, &m.CurrentTask,
			&m.ConsecutiveErrors, &hb, &createdAt, &evictedAt); err != nil {
			return nil, err
		}
		m.LastHeartbeat = parseTimePtr(hb)
		m.CreatedAt = parseTime(createdAt)
		m.EvictedAt = parseTimePtr(evictedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EvictAllMirrors marks every live mirror row evicted. Called on startup:
// mirrors do not survive the process that spawned them.
func (db *DB) EvictAllMirrors() (int64, error) {
	res, err := db.Exec(db.Q(`
		UPDATE mirrors SET status='dead', evicted_at=datetime('now','localtime') WHERE evicted_at IS NULL
	`))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
