package global

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"DirectIM/tools"
)

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type NatsConfig struct {
	Servers []string `yaml:"servers"`
	Name    string   `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	HTTPAddr     string        `yaml:"http_addr"`
	JWTSecret    string        `yaml:"jwt_secret"`
	NodeID       int64         `yaml:"node_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PresenceTTL  time.Duration `yaml:"presence_ttl"`
	Mongo        MongoConfig   `yaml:"mongo"`
	Nats         NatsConfig    `yaml:"nats"`
	Redis        RedisConfig   `yaml:"redis"`
	Kafka        KafkaConfig   `yaml:"kafka"`
}

func defaults() Config {
	return Config{
		HTTPAddr:     ":8080",
		JWTSecret:    "dev-secret",
		NodeID:       1,
		PollInterval: 3 * time.Second,
		PresenceTTL:  30 * time.Second,
		Mongo:        MongoConfig{URI: "mongodb://127.0.0.1:27017", Database: "directim"},
		Nats:         NatsConfig{Servers: []string{"nats://127.0.0.1:4222"}, Name: "dm-server"},
		Redis:        RedisConfig{Addr: "127.0.0.1:6379"},
		Kafka:        KafkaConfig{Topic: "dm-message-audit"},
	}
}

// Load 读配置文件（可选）再套环境变量覆盖；环境变量优先。
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = tools.GetEnv("DM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = tools.GetEnv("DM_JWT_SECRET", cfg.JWTSecret)
	cfg.NodeID = int64(tools.GetEnvInt("DM_NODE_ID", int(cfg.NodeID)))
	cfg.PollInterval = tools.GetEnvDuration("DM_POLL_INTERVAL", cfg.PollInterval)
	cfg.PresenceTTL = tools.GetEnvDuration("DM_PRESENCE_TTL", cfg.PresenceTTL)

	cfg.Mongo.URI = tools.GetEnv("DM_MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = tools.GetEnv("DM_MONGO_DB", cfg.Mongo.Database)

	if v := tools.GetEnv("DM_NATS_SERVERS", ""); v != "" {
		cfg.Nats.Servers = strings.Split(v, ",")
	}
	cfg.Nats.Name = tools.GetEnv("DM_NATS_NAME", cfg.Nats.Name)

	cfg.Redis.Addr = tools.GetEnv("DM_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = tools.GetEnv("DM_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = tools.GetEnvInt("DM_REDIS_DB", cfg.Redis.DB)

	cfg.Kafka.Enabled = tools.GetEnvBool("DM_KAFKA_ENABLED", cfg.Kafka.Enabled)
	if v := tools.GetEnv("DM_KAFKA_BROKERS", ""); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Kafka.Topic = tools.GetEnv("DM_KAFKA_TOPIC", cfg.Kafka.Topic)
}
