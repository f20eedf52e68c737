package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"logosnode/config"
	"logosnode/dispatch"
	"logosnode/mirrors"
	"logosnode/model"
	"logosnode/protocol"
	"logosnode/slots"
)

type countingHooks struct {
	mu           sync.Mutex
	connected    int
	disconnected int
}

func (h *countingHooks) ClientConnected(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *countingHooks) ClientDisconnected(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
}

func (h *countingHooks) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, h.disconnected
}

func newTestGateway(t *testing.T) (*Server, *countingHooks, *httptest.Server) {
	t.Helper()
	backend := model.NewSimBackend(0)
	pool := mirrors.NewPool(backend, mirrors.Options{
		Limit:             1,
		HeartbeatInterval: 10 * time.Millisecond,
		MissedHeartbeats:  3,
		DeadAfter:         10 * time.Second,
		ErrorThreshold:    5,
	}, nil, nil)
	ledger := slots.NewLedger(4, nil)
	tier := config.TierConfig{
		Name:          "PUBLIC",
		SlotLimit:     4,
		MirrorLimit:   1,
		AllowedModels: []string{"logos9.5"},
		ContextLimit:  8192,
		TaskTimeout:   5 * time.Second,
	}
	d := dispatch.NewDispatcher("PUBLIC-001", tier, ledger, pool, backend, nil, nil, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	hooks := &countingHooks{}
	status := func() protocol.GatewayStatus {
		return protocol.GatewayStatus{
			NodeID:     "PUBLIC-001",
			Tier:       "PUBLIC",
			SlotsInUse: ledger.InUse(),
			SlotsTotal: ledger.Limit(),
			Mirrors:    pool.Statuses(),
			Models:     tier.AllowedModels,
		}
	}
	srv := NewServer("PUBLIC-001", "PUBLIC", config.GatewayConfig{}, d, status, hooks)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	t.Cleanup(ts.Close)
	return srv, hooks, ts
}

func dialGateway(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd protocol.Command) protocol.Reply {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var reply protocol.Reply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestProcessRoundTrip(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	reply := roundTrip(t, conn, protocol.Command{
		Action:      protocol.ActionProcess,
		Model:       "logos9.5",
		Prompt:      "hello there",
		ContextSize: 1024,
	})
	if reply.Status != "ok" {
		t.Fatalf("status = %s (%s: %s), want ok", reply.Status, reply.ErrorCode, reply.Error)
	}
	if reply.TaskID == "" || reply.Result == "" {
		t.Fatalf("reply missing task_id or result: %+v", reply)
	}
	if reply.Node != "PUBLIC-001" || reply.Tier != "PUBLIC" {
		t.Fatalf("reply identity = %s/%s", reply.Node, reply.Tier)
	}
}

func TestProcessWithoutContextSize(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	// Clients are not required to send a context_size.
	raw := []byte(`{"action":"process","model":"logos9.5","prompt":"hello","tier":"PUBLIC"}`)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write command: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var reply protocol.Reply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Status != "ok" {
		t.Fatalf("status = %s (%s: %s), want ok", reply.Status, reply.ErrorCode, reply.Error)
	}
	if reply.Result == "" {
		t.Fatalf("reply missing result: %+v", reply)
	}
}

func TestSequentialCommandsOneReplyEach(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	for i := 0; i < 3; i++ {
		reply := roundTrip(t, conn, protocol.Command{
			Action:      protocol.ActionProcess,
			Model:       "logos9.5",
			Prompt:      "again",
			ContextSize: 512,
		})
		if reply.Status != "ok" {
			t.Fatalf("round %d status = %s", i, reply.Status)
		}
	}
}

func TestStatusAction(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	reply := roundTrip(t, conn, protocol.Command{Action: protocol.ActionStatus})
	if reply.Status != "ok" {
		t.Fatalf("status = %s", reply.Status)
	}
	if reply.NodeState == nil {
		t.Fatal("status reply missing node state")
	}
	if reply.NodeState.SlotsTotal != 4 {
		t.Fatalf("slots total = %d, want 4", reply.NodeState.SlotsTotal)
	}
	if len(reply.NodeState.Models) != 1 || reply.NodeState.Models[0] != "logos9.5" {
		t.Fatalf("models = %v", reply.NodeState.Models)
	}
}

func TestPolicyRejectionReply(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	reply := roundTrip(t, conn, protocol.Command{
		Action:      protocol.ActionProcess,
		Model:       "logos10-internal",
		Prompt:      "nope",
		ContextSize: 1024,
	})
	if reply.Status != "error" || reply.ErrorCode != protocol.ErrCodePolicyViolation {
		t.Fatalf("reply = %s/%s, want error/policy_violation", reply.Status, reply.ErrorCode)
	}
	if reply.Retryable {
		t.Fatal("policy violation marked retryable")
	}
}

func TestUnknownAndMalformedCommands(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	reply := roundTrip(t, conn, protocol.Command{Action: "reboot"})
	if reply.Status != "error" {
		t.Fatalf("unknown action status = %s, want error", reply.Status)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var garbage protocol.Reply
	if err := conn.ReadJSON(&garbage); err != nil {
		t.Fatalf("read reply to garbage: %v", err)
	}
	if garbage.Status != "error" {
		t.Fatalf("garbage reply status = %s, want error", garbage.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	_, _, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	reply := roundTrip(t, conn, protocol.Command{Action: protocol.ActionCancel, TaskID: "no-such-task"})
	if reply.Status != "error" {
		t.Fatalf("status = %s, want error", reply.Status)
	}
	reply = roundTrip(t, conn, protocol.Command{Action: protocol.ActionCancel})
	if reply.Status != "error" || reply.ErrorCode != protocol.ErrCodePolicyViolation {
		t.Fatalf("missing task_id reply = %s/%s", reply.Status, reply.ErrorCode)
	}
}

func TestConnectionHooks(t *testing.T) {
	_, hooks, ts := newTestGateway(t)
	conn := dialGateway(t, ts)

	// Exercise the connection so the upgrade has definitely finished.
	roundTrip(t, conn, protocol.Command{Action: protocol.ActionStatus})
	if connected, _ := hooks.counts(); connected != 1 {
		t.Fatalf("connected = %d, want 1", connected)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, disconnected := hooks.counts(); disconnected == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("disconnect hook never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
