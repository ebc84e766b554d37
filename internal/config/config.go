package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration for flowplane. Every field has an
// environment-variable default; an optional JSON file (-f) overlays the
// fields that carry a json tag. Duration settings come from the environment
// only.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Broker    BrokerConfig    `json:"broker"`
	Hub       HubConfig       `json:"hub"`
	WebSocket WebSocketConfig `json:"webSocket"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// GetDSN returns a libpq-style connection string, shared by the pgx pool and
// the lib/pq LISTEN/NOTIFY listener.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RuntimeConfig selects and tunes the Runtime Driver (§4.2, §6.4).
type RuntimeConfig struct {
	Driver            string        `json:"driver"` // "docker" | "kubernetes"
	WorkerImage       string        `json:"workerImage"`
	KubeAPIServer     string        `json:"kubeApiServer"`
	KubeNamespace     string        `json:"kubeNamespace"`
	ReconcileInterval time.Duration `json:"-"`
	StartDeadline     time.Duration `json:"-"`
	StopDeadline      time.Duration `json:"-"`
	InspectDeadline   time.Duration `json:"-"`
	StreamStartGrace  time.Duration `json:"-"`
	StaleFrameWindow  time.Duration `json:"-"`
	RestartRateLimit  int           `json:"restartRateLimit"`

	reconcileIntervalS string
	startDeadlineS     string
	stopDeadlineS      string
	inspectDeadlineS   string
	startGraceS        string
	staleWindowS       string
}

// BrokerConfig tunes the Frame Broker (§4.4).
type BrokerConfig struct {
	BackoffInitial time.Duration `json:"-"`
	BackoffMax     time.Duration `json:"-"`

	backoffInitS string
	backoffMaxS  string
}

// HubConfig tunes the Subscription Hub (§4.5, §7).
type HubConfig struct {
	QueueDepth         int `json:"queueDepth"`
	DropCloseThreshold int `json:"dropCloseThreshold"`
}

// WebSocketConfig tunes /ws/frames client-liveness keepalive (§5).
type WebSocketConfig struct {
	PongWait     time.Duration `json:"-"`
	PingInterval time.Duration `json:"-"`

	pongWaitS     string
	pingIntervalS string
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "flowplane"),
			Password: getEnv("DB_PASSWORD", "flowplane"),
			DBName:   getEnv("DB_NAME", "flowplane"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Runtime: RuntimeConfig{
			Driver:             getEnv("RUNTIME_DRIVER", "docker"),
			WorkerImage:        getEnv("WORKER_IMAGE", "flowplane/optical-flow-worker:latest"),
			KubeAPIServer:      getEnv("KUBE_API_SERVER", "https://kubernetes.default.svc"),
			KubeNamespace:      getEnv("KUBE_NAMESPACE", "flowplane"),
			RestartRateLimit:   getEnvInt("RESTART_RATE_LIMIT", 3),
			reconcileIntervalS: getEnv("RECONCILE_INTERVAL", "5s"),
			startDeadlineS:     getEnv("RUNTIME_START_DEADLINE", "30s"),
			stopDeadlineS:      getEnv("RUNTIME_STOP_DEADLINE", "15s"),
			inspectDeadlineS:   getEnv("RUNTIME_INSPECT_DEADLINE", "5s"),
			startGraceS:        getEnv("STREAM_START_GRACE", "30s"),
			staleWindowS:       getEnv("STALE_FRAME_THRESHOLD", "15s"),
		},
		Broker: BrokerConfig{
			backoffInitS: getEnv("BROKER_BACKOFF_INITIAL", "500ms"),
			backoffMaxS:  getEnv("BROKER_BACKOFF_MAX", "10s"),
		},
		Hub: HubConfig{
			QueueDepth:         getEnvInt("HUB_QUEUE_DEPTH", 4),
			DropCloseThreshold: getEnvInt("HUB_DROP_CLOSE_THRESHOLD", 128),
		},
		WebSocket: WebSocketConfig{
			pongWaitS:     getEnv("WS_PONG_WAIT", "30s"),
			pingIntervalS: getEnv("WS_PING_INTERVAL", "27s"),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			return nil, err
		}
	}

	cfg.Runtime.ReconcileInterval = parseDuration(cfg.Runtime.reconcileIntervalS, 5*time.Second)
	cfg.Runtime.StartDeadline = parseDuration(cfg.Runtime.startDeadlineS, 30*time.Second)
	cfg.Runtime.StopDeadline = parseDuration(cfg.Runtime.stopDeadlineS, 15*time.Second)
	cfg.Runtime.InspectDeadline = parseDuration(cfg.Runtime.inspectDeadlineS, 5*time.Second)
	cfg.Runtime.StreamStartGrace = parseDuration(cfg.Runtime.startGraceS, 30*time.Second)
	cfg.Runtime.StaleFrameWindow = parseDuration(cfg.Runtime.staleWindowS, 15*time.Second)
	cfg.Broker.BackoffInitial = parseDuration(cfg.Broker.backoffInitS, 500*time.Millisecond)
	cfg.Broker.BackoffMax = parseDuration(cfg.Broker.backoffMaxS, 10*time.Second)
	cfg.WebSocket.PongWait = parseDuration(cfg.WebSocket.pongWaitS, 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(cfg.WebSocket.pingIntervalS, 27*time.Second)

	if cfg.Hub.QueueDepth <= 0 {
		cfg.Hub.QueueDepth = 4
	}
	if cfg.Hub.DropCloseThreshold <= 0 {
		cfg.Hub.DropCloseThreshold = 128
	}
	if cfg.Runtime.RestartRateLimit <= 0 {
		cfg.Runtime.RestartRateLimit = 3
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	return nil
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
