package store

import (
	"time"
)

// TicketRecord journals slot ticket issue/release. Rows outlive the task
// objects that owned them, so a release arriving after a crash still finds
// its row.
type TicketRecord struct {
	TicketID   string
	TaskUUID   string
	IssuedAt   time.Time
	ReleasedAt *time.Time
}

func (db *DB) JournalTicketIssued(ticketID, taskUUID string) error {
	_, err := db.Exec(db.Q(`
		INSERT INTO tickets (ticket_id, task_uuid) VALUES (?, ?)
		ON CONFLICT(ticket_id) DO NOTHING
	`), ticketID, taskUUID)
	return err
}

// JournalTicketReleased marks a ticket released. Idempotent: a second call
// leaves the original release time in place.
func (db *DB) JournalTicketReleased(ticketID string) error {
	_, err := db.Exec(db.Q(`
		UPDATE tickets SET released_at=datetime('now','localtime')
		WHERE ticket_id=? AND released_at IS NULL
	`), ticketID)
	return err
}

func (db *DB) ListOpenTickets() ([]TicketRecord, error) {
	rows, err := db.Query(`SELECT ticket_id, task_uuid, issued_at FROM tickets WHERE released_at IS NULL ORDER BY issued_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TicketRecord
	for rows.Next() {
		var r TicketRecord
		var issuedAt any
		if err := rows.Scan(&r.TicketID, &r.TaskUUID, &issuedAt); err != nil {
			return nil, err
		}
		r.IssuedAt = parseTime(issuedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReleaseAllOpenTickets closes every open ticket row. Called on startup:
// the in-memory ledger starts empty, so tickets open in the journal belong
// to a previous process and their slots are already free.
func (db *DB) ReleaseAllOpenTickets() (int64, error) {
	res, err := db.Exec(db.Q(`
		UPDATE tickets SET released_at=datetime('now','localtime') WHERE released_at IS NULL
	`))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
