package engine

func (e *Engine) wireEventHandlers() {
	// Terminal task outcomes get a log line; rejections at debug volume
	// would drown the log under load, so only failures are verbose.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TaskFinishedEvent)
		if ev.ErrorCode != "" {
			e.logFn("engine: task %s %s: %s - %s", ev.TaskID, ev.State, ev.ErrorCode, ev.Detail)
		}
	}, EventTaskFinished)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MirrorEvictedEvent)
		e.logFn("engine: mirror %s evicted: %s", ev.MirrorID, ev.Detail)
	}, EventMirrorEvicted)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(PeerEvent)
		e.logFn("engine: peer %s unreachable", ev.NodeID)
	}, EventPeerUnreachable)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventEngineConnected, EventEngineDisconnected, EventMessagingConnected, EventMessagingDisconnected)

	e.Events.SubscribeTypes(func(evt Event) {
		e.logFn("engine: %s", evt.Type)
	}, EventNodeDraining, EventNodeResumed)
}
