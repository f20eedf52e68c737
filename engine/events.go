package engine

const (
	EventTaskSubmitted EventType = iota + 1
	EventTaskStateChanged
	EventTaskFinished
	EventMirrorSpawned
	EventMirrorStatusChanged
	EventMirrorEvicted
	EventPeerUpdated
	EventPeerUnreachable
	EventPeerRemoved
	EventClientConnected
	EventClientDisconnected
	EventEngineConnected
	EventEngineDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
	EventNodeDraining
	EventNodeResumed
)

func (t EventType) String() string {
	switch t {
	case EventTaskSubmitted:
		return "task.submitted"
	case EventTaskStateChanged:
		return "task.state_changed"
	case EventTaskFinished:
		return "task.finished"
	case EventMirrorSpawned:
		return "mirror.spawned"
	case EventMirrorStatusChanged:
		return "mirror.status_changed"
	case EventMirrorEvicted:
		return "mirror.evicted"
	case EventPeerUpdated:
		return "peer.updated"
	case EventPeerUnreachable:
		return "peer.unreachable"
	case EventPeerRemoved:
		return "peer.removed"
	case EventClientConnected:
		return "client.connected"
	case EventClientDisconnected:
		return "client.disconnected"
	case EventEngineConnected:
		return "engine.connected"
	case EventEngineDisconnected:
		return "engine.disconnected"
	case EventMessagingConnected:
		return "messaging.connected"
	case EventMessagingDisconnected:
		return "messaging.disconnected"
	case EventNodeDraining:
		return "node.draining"
	case EventNodeResumed:
		return "node.resumed"
	}
	return "unknown"
}

// --- Event payloads ---

type TaskSubmittedEvent struct {
	TaskID string
	Model  string
}

type TaskStateChangedEvent struct {
	TaskID   string
	OldState string
	NewState string
}

type TaskFinishedEvent struct {
	TaskID    string
	State     string
	ErrorCode string
	Detail    string
}

type MirrorSpawnedEvent struct {
	MirrorID string
	Model    string
}

type MirrorStatusChangedEvent struct {
	MirrorID  string
	OldStatus string
	NewStatus string
}

type MirrorEvictedEvent struct {
	MirrorID string
	Detail   string
}

type PeerEvent struct {
	NodeID string
	Tier   string
	Status string
}

type ClientConnectionEvent struct {
	RemoteAddr  string
	Connections int
}

type ConnectionEvent struct {
	Detail string
}
