package mirrors

import (
	"time"
)

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	interval := p.opts.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sweep(time.Now().UTC())
		}
	}
}

// Sweep runs one health pass: heartbeat every mirror, promote Starting
// replicas on their first success, degrade after too many misses, and evict
// anything dead longer than DeadAfter. Exported for tests; the sweep loop
// calls it on every tick.
func (p *Pool) Sweep(now time.Time) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	// Heartbeats hit the backend without the lock held.
	alive := make(map[string]bool, len(ids))
	for _, id := range ids {
		alive[id] = p.backend.Heartbeat(id) == nil
	}

	degradeAfter := time.Duration(p.opts.MissedHeartbeats) * p.opts.HeartbeatInterval

	type transition struct {
		mirror Mirror
		old    string
	}
	type eviction struct {
		mirrorID string
		taskID   string
		detail   string
	}
	var transitions []transition
	var evictions []eviction
	var beats []string

	p.mu.Lock()
	for _, id := range ids {
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		old := e.mirror.Status

		if alive[id] {
			e.mirror.LastHeartbeatAt = now
			beats = append(beats, id)
			switch e.mirror.Status {
			case StatusStarting:
				if e.mirror.CurrentTaskID != "" {
					e.mirror.Status = StatusBusy
				} else {
					e.mirror.Status = StatusReady
				}
				close(e.readyCh)
			case StatusDegraded:
				// Heartbeat-driven degradation heals when the engine answers
				// again. Error-driven degradation does not.
				if !e.byErrors && e.mirror.CurrentTaskID == "" {
					e.mirror.Status = StatusReady
					e.mirror.ConsecutiveErrors = 0
					e.degradedAt = time.Time{}
				}
			}
			if e.mirror.Status != old {
				transitions = append(transitions, transition{e.mirror, old})
			}
			if e.byErrors && !e.degradedAt.IsZero() && now.Sub(e.degradedAt) > p.opts.DeadAfter {
				evictions = append(evictions, eviction{id, e.mirror.CurrentTaskID, "error threshold exceeded"})
				delete(p.entries, id)
			}
			continue
		}

		ref := e.mirror.LastHeartbeatAt
		if ref.IsZero() {
			ref = e.mirror.SpawnedAt
		}
		silence := now.Sub(ref)

		if silence > p.opts.DeadAfter {
			e.mirror.Status = StatusDead
			transitions = append(transitions, transition{e.mirror, old})
			evictions = append(evictions, eviction{id, e.mirror.CurrentTaskID, "heartbeat lost"})
			delete(p.entries, id)
			continue
		}
		if silence > degradeAfter && e.mirror.Status != StatusDegraded {
			e.mirror.Status = StatusDegraded
			e.degradedAt = now
			e.byErrors = false
			transitions = append(transitions, transition{e.mirror, old})
		}
	}
	p.mu.Unlock()

	for _, id := range beats {
		if p.recorder != nil {
			p.recorder.MirrorHeartbeat(id)
		}
	}
	for _, tr := range transitions {
		p.noteTransition(tr.mirror, tr.old)
		if p.recorder != nil {
			p.recorder.MirrorUpserted(tr.mirror)
		}
	}
	for _, ev := range evictions {
		p.finishEviction(ev.mirrorID, ev.taskID, ev.detail)
	}
}
