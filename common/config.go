package common

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker      string `yaml:"broker"`
	ClientId    string `yaml:"clientId"`
	TopicPrefix string `yaml:"topicPrefix"`

	Engine   EngineConfig   `yaml:"engine"`
	Balancer BalancerConfig `yaml:"balancer"`
	Http     HttpConfig     `yaml:"http"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type EngineConfig struct {
	// ReplyTimeout bounds a unicast request and force-clears the busy gate.
	ReplyTimeout time.Duration `yaml:"replyTimeout"`
	// GroupWindow is the default collection window for ad-hoc group sends.
	GroupWindow     time.Duration `yaml:"groupWindow"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	// MonitorSettle bounds the wait for an in-flight monitor read when a
	// foreground command preempts the monitor.
	MonitorSettle time.Duration `yaml:"monitorSettle"`
}

type BalancerConfig struct {
	PollInterval  time.Duration `yaml:"pollInterval"`
	CollectWindow time.Duration `yaml:"collectWindow"`
	SettleDelay   time.Duration `yaml:"settleDelay"`
	StaleTimeout  time.Duration `yaml:"staleTimeout"`
	Cooldown      time.Duration `yaml:"cooldown"`
	// RestartWait bounds how long a new poll loop waits for the previous
	// generation to observe cancellation.
	RestartWait time.Duration `yaml:"restartWait"`

	HeadroomMW     float64 `yaml:"headroomMW"`
	PriorityWeight float64 `yaml:"priorityWeight"`
	// DeadBandFrac is the fraction of the budget inside which no
	// adjustment is made.
	DeadBandFrac float64 `yaml:"deadBandFrac"`
	// SyncTolerance is the max duty-percent disagreement between measured
	// and commanded duty before a command counts as unconfirmed.
	SyncTolerance int `yaml:"syncTolerance"`
	// DefaultMWPerPct is used for a node before it has reported any
	// usable duty/power pair of its own.
	DefaultMWPerPct float64 `yaml:"defaultMWPerPct"`
}

type HttpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func NewConfig() *Config {
	return &Config{
		Broker:      "tcp://localhost:1883",
		ClientId:    uuid.NewString(),
		TopicPrefix: "dcmesh",
		Engine: EngineConfig{
			ReplyTimeout:    5000 * time.Millisecond,
			GroupWindow:     3000 * time.Millisecond,
			MonitorInterval: 1000 * time.Millisecond,
			MonitorSettle:   3000 * time.Millisecond,
		},
		Balancer: BalancerConfig{
			PollInterval:    3000 * time.Millisecond,
			CollectWindow:   3000 * time.Millisecond,
			SettleDelay:     1000 * time.Millisecond,
			StaleTimeout:    45 * time.Second,
			Cooldown:        5 * time.Second,
			RestartWait:     1 * time.Second,
			HeadroomMW:      500,
			PriorityWeight:  2,
			DeadBandFrac:    0.05,
			SyncTolerance:   2,
			DefaultMWPerPct: 50,
		},
		Http: HttpConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "dcmesh.readings",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
