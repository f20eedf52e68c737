package store

import (
	"time"
)

// PeerSnapshotRecord is the persisted copy of the last accepted snapshot
// from a peer, replaced wholesale on each accepted sync round.
type PeerSnapshotRecord struct {
	NodeID     string
	Tier       string
	Clock      uint64
	Snapshot   []byte
	Status     string
	ReceivedAt time.Time
}

func (db *DB) UpsertPeerSnapshot(r *PeerSnapshotRecord) error {
	_, err := db.Exec(db.Q(`
		INSERT INTO peer_snapshots (node_id, tier, clock, snapshot, status, received_at)
		VALUES (?, ?, ?, ?, ?, datetime('now','localtime'))
		ON CONFLICT(node_id) DO UPDATE SET
			tier = excluded.tier,
			clock = excluded.clock,
			snapshot = excluded.snapshot,
			status = excluded.status,
			received_at = excluded.received_at
	`), r.NodeID, r.Tier, r.Clock, string(r.Snapshot), r.Status)
	return err
}

func (db *DB) UpdatePeerStatus(nodeID, status string) error {
	_, err := db.Exec(db.Q(`
		UPDATE peer_snapshots SET status=? WHERE node_id=?
	`), status, nodeID)
	return err
}

func (db *DB) ListPeerSnapshots() ([]PeerSnapshotRecord, error) {
	rows, err := db.Query(`SELECT node_id, tier, clock, snapshot, status, received_at FROM peer_snapshots ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerSnapshotRecord
	for rows.Next() {
		var r PeerSnapshotRecord
		var snapshot string
		var receivedAt any
		if err := rows.Scan(&r.NodeID, &r.Tier, &r.Clock, &snapshot, &r.Status, &receivedAt); err != nil {
			return nil, err
		}
		r.Snapshot = []byte(snapshot)
		r.ReceivedAt = parseTime(receivedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
