package store

import (
	"path/filepath"
	"testing"

	"logosnode/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTaskLifecycle(t *testing.T) {
	db := testDB(t)

	task := &Task{
		TaskUUID:    "task-1",
		Model:       "logos9.5",
		Prompt:      "hello",
		ContextSize: 100,
		Tier:        "PUBLIC",
		State:       "queued",
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID == 0 {
		t.Error("task ID not populated")
	}

	if err := db.UpdateTaskState("task-1", "admitted"); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if err := db.UpdateTaskAssignment("task-1", "tk-1", "m-1"); err != nil {
		t.Fatalf("update assignment: %v", err)
	}
	if err := db.CompleteTask("task-1", "completed", "result text", "", ""); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	got, err := db.GetTask("task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.State != "completed" {
		t.Errorf("state = %q, want completed", got.State)
	}
	if got.Result != "result text" {
		t.Errorf("result = %q", got.Result)
	}
	if got.TicketID != "tk-1" || got.MirrorID != "m-1" {
		t.Errorf("assignment = (%q, %q), want (tk-1, m-1)", got.TicketID, got.MirrorID)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestFailOrphanedTasks(t *testing.T) {
	db := testDB(t)

	db.CreateTask(&Task{TaskUUID: "t-live", State: "dispatched"})
	db.CreateTask(&Task{TaskUUID: "t-done", State: "completed"})

	n, err := db.FailOrphanedTasks("mirror_lost", "node restarted")
	if err != nil {
		t.Fatalf("fail orphaned: %v", err)
	}
	if n != 1 {
		t.Errorf("orphaned count = %d, want 1", n)
	}

	got, _ := db.GetTask("t-live")
	if got.State != "failed" || got.ErrorCode != "mirror_lost" {
		t.Errorf("orphaned task = %q/%q, want failed/mirror_lost", got.State, got.ErrorCode)
	}
	done, _ := db.GetTask("t-done")
	if done.State != "completed" {
		t.Errorf("terminal task should be untouched, got %q", done.State)
	}
}

func TestTicketJournal(t *testing.T) {
	db := testDB(t)

	if err := db.JournalTicketIssued("tk-1", "task-1"); err != nil {
		t.Fatalf("journal issue: %v", err)
	}
	// Duplicate insert is a no-op.
	if err := db.JournalTicketIssued("tk-1", "task-1"); err != nil {
		t.Fatalf("journal duplicate issue: %v", err)
	}

	open, err := db.ListOpenTickets()
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open tickets = %d, want 1", len(open))
	}

	if err := db.JournalTicketReleased("tk-1"); err != nil {
		t.Fatalf("journal release: %v", err)
	}
	if err := db.JournalTicketReleased("tk-1"); err != nil {
		t.Fatalf("journal double release: %v", err)
	}

	open, _ = db.ListOpenTickets()
	if len(open) != 0 {
		t.Errorf("open tickets after release = %d, want 0", len(open))
	}
}

func TestReleaseAllOpenTickets(t *testing.T) {
	db := testDB(t)

	db.JournalTicketIssued("tk-1", "task-1")
	db.JournalTicketIssued("tk-2", "task-2")
	db.JournalTicketReleased("tk-1")

	n, err := db.ReleaseAllOpenTickets()
	if err != nil {
		t.Fatalf("release all: %v", err)
	}
	if n != 1 {
		t.Errorf("released = %d, want 1", n)
	}
}

func TestMirrorRecords(t *testing.T) {
	db := testDB(t)

	m := &MirrorRecord{MirrorID: "m-1", Model: "logos9.5", Status: "starting"}
	if err := db.UpsertMirror(m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m.Status = "ready"
	if err := db.UpsertMirror(m); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if err := db.UpdateMirrorHeartbeat("m-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	live, err := db.ListMirrors(false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 || live[0].Status != "ready" {
		t.Fatalf("live mirrors = %+v", live)
	}
	if live[0].LastHeartbeat == nil {
		t.Error("last_heartbeat not set")
	}

	if err := db.MarkMirrorEvicted("m-1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	live, _ = db.ListMirrors(false)
	if len(live) != 0 {
		t.Errorf("live mirrors after evict = %d, want 0", len(live))
	}
	all, _ := db.ListMirrors(true)
	if len(all) != 1 || all[0].Status != "dead" {
		t.Errorf("all mirrors = %+v", all)
	}
}

func TestPeerSnapshotReplacedWholesale(t *testing.T) {
	db := testDB(t)

	r := &PeerSnapshotRecord{NodeID: "PUBLIC-002", Tier: "PUBLIC", Clock: 1, Snapshot: []byte(`{"slots_in_use":5}`), Status: "reachable"}
	if err := db.UpsertPeerSnapshot(r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r.Clock = 2
	r.Snapshot = []byte(`{"slots_in_use":9}`)
	if err := db.UpsertPeerSnapshot(r); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}

	peers, err := db.ListPeerSnapshots()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(peers))
	}
	if peers[0].Clock != 2 || string(peers[0].Snapshot) != `{"slots_in_use":9}` {
		t.Errorf("snapshot not replaced: %+v", peers[0])
	}

	if err := db.UpdatePeerStatus("PUBLIC-002", "unreachable"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	peers, _ = db.ListPeerSnapshots()
	if peers[0].Status != "unreachable" {
		t.Errorf("status = %q, want unreachable", peers[0].Status)
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)

	exists, err := db.AdminUserExists()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("fresh db should have no admin users")
	}

	if err := db.CreateAdminUser("admin", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := db.GetAdminUser("admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash" {
		t.Errorf("hash = %q", u.PasswordHash)
	}
}
