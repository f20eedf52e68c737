package store

import (
	"time"
)

// Task is the persisted record of a submitted task. The dispatcher's
// in-memory registry is authoritative while a task is live; rows exist for
// the status API, idempotent re-delivery, and post-crash reconciliation.
type Task struct {
	ID          int64
	TaskUUID    string
	Model       string
	Prompt      string
	ContextSize int
	Tier        string
	State       string
	TicketID    string
	MirrorID    string
	Result      string
	ErrorCode   string
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (db *DB) CreateTask(t *Task) error {
	res, err := db.Exec(db.Q(`
		INSERT INTO tasks (task_uuid, model, prompt, context_size, tier, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`), t.TaskUUID, t.Model, t.Prompt, t.ContextSize, t.Tier, t.State)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

func (db *DB) UpdateTaskState(taskUUID, state string) error {
	_, err := db.Exec(db.Q(`
		UPDATE tasks SET state=?, updated_at=datetime('now','localtime') WHERE task_uuid=?
	`), state, taskUUID)
	return err
}

// UpdateTaskAssignment records the ticket and mirror bound to an admitted task.
func (db *DB) UpdateTaskAssignment(taskUUID, ticketID, mirrorID string) error {
	_, err := db.Exec(db.Q(`
		UPDATE tasks SET ticket_id=?, mirror_id=?, updated_at=datetime('now','localtime') WHERE task_uuid=?
	`), ticketID, mirrorID, taskUUID)
	return err
}

// CompleteTask records a terminal state with result or error detail.
func (db *DB) CompleteTask(taskUUID, state, result, errorCode, errorDetail string) error {
	_, err := db.Exec(db.Q(`
		UPDATE tasks SET state=?, result=?, error_code=?, error_detail=?,
			updated_at=datetime('now','localtime'), completed_at=datetime('now','localtime')
		WHERE task_uuid=?
	`), state, result, errorCode, errorDetail, taskUUID)
	return err
}

func (db *DB) GetTask(taskUUID string) (*Task, error) {
	var t Task
	var createdAt, updatedAt any
	var completedAt any
	err := db.QueryRow(db.Q(`
		SELECT id, task_uuid, model, prompt, context_size, tier, state, ticket_id, mirror_id,
			result, error_code, error_detail, created_at, updated_at, completed_at
		FROM tasks WHERE task_uuid=?
	`), taskUUID).Scan(&t.ID, &t.TaskUUID, &t.Model, &t.Prompt, &t.ContextSize, &t.Tier, &t.State,
		&t.TicketID, &t.MirrorID, &t.Result, &t.ErrorCode, &t.ErrorDetail, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return &t, nil
}

func (db *DB) ListTasksByState(state string, limit int) ([]*Task, error) {
	rows, err := db.Query(db.Q(`
		SELECT id, task_uuid, model, context_size, tier, state, ticket_id, mirror_id, error_code, created_at
		FROM tasks WHERE state=? ORDER BY id DESC LIMIT ?
	`), state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		var createdAt any
		if err := rows.Scan(&t.ID, &t.TaskUUID, &t.Model, &t.ContextSize, &t.Tier, &t.State,
			&t.TicketID, &t.MirrorID, &t.ErrorCode, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (db *DB) ListRecentTasks(limit int) ([]*Task, error) {
	rows, err := db.Query(db.Q(`
		SELECT id, task_uuid, model, context_size, tier, state, ticket_id, mirror_id, error_code, created_at
		FROM tasks ORDER BY id DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		var createdAt any
		if err := rows.Scan(&t.ID, &t.TaskUUID, &t.Model, &t.ContextSize, &t.Tier, &t.State,
			&t.TicketID, &t.MirrorID, &t.ErrorCode, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// FailOrphanedTasks marks every non-terminal task as failed. Called once on
// startup: a task that was live when the previous process died can never
// reach a terminal state on its own.
func (db *DB) FailOrphanedTasks(errorCode, detail string) (int64, error) {
	res, err := db.Exec(db.Q(`
		UPDATE tasks SET state='failed', error_code=?, error_detail=?,
			updated_at=datetime('now','localtime'), completed_at=datetime('now','localtime')
		WHERE state IN ('queued','admitted','dispatched')
	`), errorCode, detail)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
