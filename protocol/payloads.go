package protocol

import "time"

// --- Node <-> Node payloads ---

// MirrorStatus is the per-mirror entry in a sync snapshot.
type MirrorStatus struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
}

// NodeSync is the compact state digest exchanged between peers. It is replaced
// wholesale on each accepted round; fields are never merged individually.
// Clock is a per-node monotonic logical counter; last-write-wins compares
// Clock, not Timestamp, so peers need not be time-synchronized.
type NodeSync struct {
	NodeID         string         `json:"node_id"`
	Tier           string         `json:"tier"`
	Clock          uint64         `json:"clock"`
	Timestamp      time.Time      `json:"timestamp"`
	SlotsInUse     int            `json:"slots_in_use"`
	SlotsTotal     int            `json:"slots_total"`
	MirrorStatuses []MirrorStatus `json:"mirror_statuses"`
}

// NodeBye announces a clean shutdown so peers can mark the node unreachable
// without waiting for staleness.
type NodeBye struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason,omitempty"`
}

// --- Gateway wire (client <-> node, one message one response) ---

// Known gateway actions.
const (
	ActionProcess = "process"
	ActionStatus  = "status"
	ActionCancel  = "cancel"
)

// Command is an inbound gateway message.
type Command struct {
	Action      string `json:"action"`
	Model       string `json:"model,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	Tier        string `json:"tier,omitempty"`
	TaskID      string `json:"task_id,omitempty"` // cancel only
}

// Reply is the outbound gateway response. Status is "ok" or "error";
// Retryable distinguishes transient failures from permanent rejections.
type Reply struct {
	Status    string          `json:"status"`
	Node      string          `json:"node"`
	Tier      string          `json:"tier"`
	TaskID    string          `json:"task_id,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	NodeState *GatewayStatus  `json:"node_state,omitempty"`
}

// GatewayStatus is the read-only status answer for action "status".
type GatewayStatus struct {
	NodeID      string         `json:"node_id"`
	Tier        string         `json:"tier"`
	SlotsInUse  int            `json:"slots_in_use"`
	SlotsTotal  int            `json:"slots_total"`
	Mirrors     []MirrorStatus `json:"mirrors"`
	Connections int            `json:"connections"`
	Models      []string       `json:"allowed_models"`
	Peers       []PeerDigest   `json:"peers"`
}

// PeerDigest is the compact per-peer entry in a status reply.
type PeerDigest struct {
	NodeID     string `json:"node_id"`
	Tier       string `json:"tier"`
	Status     string `json:"status"`
	SlotsInUse int    `json:"slots_in_use"`
	SlotsTotal int    `json:"slots_total"`
}
