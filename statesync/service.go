package statesync

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"logosnode/config"
	"logosnode/messaging"
	"logosnode/mirrors"
	"logosnode/peerview"
	"logosnode/protocol"
	"logosnode/slots"
)

// Service gossips this node's state digest to its peers and ingests theirs.
// Sync is strictly best-effort: a missed round costs nothing but freshness,
// and nothing learned from peers ever feeds back into local admission.
type Service struct {
	nodeID string
	tier   string
	cfg    config.SyncConfig
	topic  string

	client messaging.Client
	ledger *slots.Ledger
	pool   *mirrors.Pool
	view   *peerview.View

	clock    atomic.Uint64
	ingestor *protocol.Ingestor

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(nodeID, tier string, cfg config.SyncConfig, topic string, client messaging.Client, ledger *slots.Ledger, pool *mirrors.Pool, view *peerview.View) *Service {
	s := &Service{
		nodeID: nodeID,
		tier:   tier,
		cfg:    cfg,
		topic:  topic,
		client: client,
		ledger: ledger,
		pool:   pool,
		view:   view,
		stopCh: make(chan struct{}),
	}
	// Own messages come back on the broadcast topic; drop them before the
	// payload decode.
	filter := func(hdr *protocol.RawHeader) bool {
		return hdr.Src.Node != nodeID
	}
	s.ingestor = protocol.NewIngestor(&syncHandler{svc: s}, filter)
	return s
}

// Start subscribes to the sync topic and launches the gossip loop.
func (s *Service) Start() error {
	if err := s.client.Subscribe(s.topic, func(_ string, payload []byte) {
		s.ingestor.HandleRaw(payload)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.wg.Add(1)
	go s.loop()
	log.Printf("statesync: gossiping on %s every %s", s.topic, s.cfg.Interval)
	return nil
}

// Stop announces departure and halts the loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.sayGoodbye()
	})
}

func (s *Service) loop() {
	defer s.wg.Done()
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First digest goes out immediately so peers learn about us without
	// waiting a full interval.
	s.Tick(time.Now().UTC())
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(time.Now().UTC())
		}
	}
}

// Tick runs one gossip round: publish our digest, then sweep for peers
// gone quiet. Exported for tests; the loop calls it on every tick.
func (s *Service) Tick(now time.Time) {
	digest := s.Snapshot(now)
	if err := s.publish(protocol.TypeNodeSync, digest); err != nil {
		log.Printf("statesync: publish digest: %v", err)
	}
	s.view.MarkStale(s.cfg.StaleAfter, now)
}

// Snapshot builds this node's current digest, advancing the logical clock.
func (s *Service) Snapshot(now time.Time) protocol.NodeSync {
	return protocol.NodeSync{
		NodeID:         s.nodeID,
		Tier:           s.tier,
		Clock:          s.clock.Add(1),
		Timestamp:      now,
		SlotsInUse:     s.ledger.InUse(),
		SlotsTotal:     s.ledger.Limit(),
		MirrorStatuses: s.pool.Statuses(),
	}
}

// Clock reports the current logical clock value.
func (s *Service) Clock() uint64 {
	return s.clock.Load()
}

func (s *Service) sayGoodbye() {
	err := s.publish(protocol.TypeNodeBye, protocol.NodeBye{NodeID: s.nodeID, Reason: "shutdown"})
	if err != nil {
		log.Printf("statesync: goodbye: %v", err)
	}
}

func (s *Service) publish(msgType string, payload any) error {
	src := protocol.Address{Role: protocol.RoleNode, Node: s.nodeID, Tier: s.tier}
	dst := protocol.Address{Role: protocol.RoleNode}
	env, err := protocol.NewEnvelope(msgType, src, dst, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.client.Publish(s.topic, data)
}

// syncHandler feeds accepted peer traffic into the view.
type syncHandler struct {
	protocol.NoOpHandler
	svc *Service
}

func (h *syncHandler) HandleNodeSync(env *protocol.Envelope, p *protocol.NodeSync) {
	h.svc.view.Observe(*p, time.Now().UTC())
}

func (h *syncHandler) HandleNodeBye(env *protocol.Envelope, p *protocol.NodeBye) {
	h.svc.view.Remove(p.NodeID)
}
