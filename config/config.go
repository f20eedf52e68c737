package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Tier      TierConfig      `yaml:"tier"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Sync      SyncConfig      `yaml:"sync"`
}

type NodeConfig struct {
	ID string `yaml:"id"`
}

// TierConfig is the static admission policy for this node. It is read once at
// startup and never renegotiated at runtime.
type TierConfig struct {
	Name          string        `yaml:"name"`
	SlotLimit     int           `yaml:"slot_limit"`
	MirrorLimit   int           `yaml:"mirror_limit"`
	AllowedModels []string      `yaml:"allowed_models"`
	ContextLimit  int           `yaml:"context_limit"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
}

// AllowsModel reports whether the tier permits the given model.
func (t *TierConfig) AllowsModel(model string) bool {
	for _, m := range t.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig selects and parameterizes the model-engine backend hosting the
// mirrors.
type EngineConfig struct {
	Backend           string        `yaml:"backend"` // sim or http
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MissedHeartbeats  int           `yaml:"missed_heartbeats"`
	DeadAfter         time.Duration `yaml:"dead_after"`
	ErrorThreshold    int           `yaml:"error_threshold"`
	SimLatency        time.Duration `yaml:"sim_latency"`
}

type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

type MessagingConfig struct {
	Backend   string      `yaml:"backend"` // kafka or mqtt
	Kafka     KafkaConfig `yaml:"kafka"`
	MQTT      MQTTConfig  `yaml:"mqtt"`
	SyncTopic string      `yaml:"sync_topic"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Peers      []string      `yaml:"peers"`
}

func Defaults() *Config {
	return &Config{
		Node: NodeConfig{
			ID: "PUBLIC-001",
		},
		Tier: TierConfig{
			Name:          "PUBLIC",
			SlotLimit:     400,
			MirrorLimit:   3,
			AllowedModels: []string{"logos9.5"},
			ContextLimit:  8192,
			TaskTimeout:   60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "logosnode.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "logosnode",
				User:     "logosnode",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
		},
		Engine: EngineConfig{
			Backend:           "sim",
			BaseURL:           "http://localhost:8550",
			Timeout:           10 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			MissedHeartbeats:  3,
			DeadAfter:         10 * time.Second,
			ErrorThreshold:    5,
			SimLatency:        100 * time.Millisecond,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 9001,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8083,
			SessionSecret: "change-me-in-production",
		},
		Messaging: MessagingConfig{
			Backend: "kafka",
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "logosnode",
			},
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "logosnode",
			},
			SyncTopic: "logos.sync",
		},
		Sync: SyncConfig{
			Interval:   5 * time.Second,
			StaleAfter: 30 * time.Second,
			Peers:      nil,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would make the node misbehave at runtime.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Tier.SlotLimit <= 0 {
		return fmt.Errorf("tier.slot_limit must be positive, got %d", c.Tier.SlotLimit)
	}
	if c.Tier.MirrorLimit <= 0 {
		return fmt.Errorf("tier.mirror_limit must be positive, got %d", c.Tier.MirrorLimit)
	}
	if len(c.Tier.AllowedModels) == 0 {
		return fmt.Errorf("tier.allowed_models must not be empty")
	}
	if c.Tier.ContextLimit <= 0 {
		return fmt.Errorf("tier.context_limit must be positive, got %d", c.Tier.ContextLimit)
	}
	return nil
}

// TierPrefixMatches reports whether the node ID carries the tier name as its
// prefix (e.g. PUBLIC-001 for tier PUBLIC). A mismatch is suspicious but not
// fatal; callers log a warning.
func (c *Config) TierPrefixMatches() bool {
	return strings.HasPrefix(c.Node.ID, c.Tier.Name+"-")
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
