package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"logosnode/config"
)

// kafkaClient speaks to a Kafka cluster. Each subscription gets its own
// reader in the configured consumer group; for node-to-node broadcast the
// group ID must be unique per node or the cluster will split deliveries.
type kafkaClient struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer

	mu        sync.Mutex
	connected bool
	readers   []*kafka.Reader
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
}

func newKafkaClient(cfg config.MessagingConfig) *kafkaClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &kafkaClient{
		cfg:    cfg.Kafka,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *kafkaClient) Connect() error {
	if len(c.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.Dial("tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	conn.Close()

	c.mu.Lock()
	c.writer = &kafka.Writer{
		Addr:                   kafka.TCP(c.cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	c.connected = true
	c.mu.Unlock()
	log.Printf("messaging: connected to kafka at %v", c.cfg.Brokers)
	return nil
}

// ensureTopic creates the topic on the controller if the cluster does not
// auto-create. Existing topics are not an error.
func (c *kafkaClient) ensureTopic(topic string) error {
	conn, err := kafka.Dial("tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("lookup controller: %w", err)
	}
	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

func (c *kafkaClient) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return errors.New("kafka client not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *kafkaClient) Subscribe(topic string, h Handler) error {
	if err := c.ensureTopic(topic); err != nil {
		log.Printf("messaging: ensure topic %s: %v", topic, err)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := reader.ReadMessage(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				log.Printf("messaging: read %s: %v", topic, err)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			h(topic, msg.Value)
		}
	}()
	log.Printf("messaging: subscribed to %s (group %s)", topic, c.cfg.GroupID)
	return nil
}

func (c *kafkaClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *kafkaClient) Close() error {
	c.cancel()
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	w := c.writer
	c.writer = nil
	c.connected = false
	c.mu.Unlock()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			log.Printf("messaging: close reader: %v", err)
		}
	}
	c.wg.Wait()
	if w != nil {
		return w.Close()
	}
	return nil
}

var _ Client = (*kafkaClient)(nil)
