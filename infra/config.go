package infra

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath 預設設定檔位置，可用 CONFIG_PATH 覆寫
const DefaultConfigPath = "config.yml"

const defaultExpiryJobHour = 2

type Config struct {
	App struct {
		AppVersion string `yaml:"app_version"`
		Timezone   string `yaml:"timezone"` // 每日統計使用的參考時區
	} `yaml:"app"`
	MongoDB struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongodb"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// EnableKeyspaceNotifications 啟動時執行 CONFIG SET notify-keyspace-events Ex
		EnableKeyspaceNotifications bool `yaml:"enable_keyspace_notifications"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`
	Payment struct {
		GRPCAddr       string `yaml:"grpc_addr"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"payment"`
	MQTT struct {
		Enabled   bool   `yaml:"enabled"`
		BrokerURL string `yaml:"broker_url"`
		ClientID  string `yaml:"client_id"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
	} `yaml:"mqtt"`
	JWT struct {
		SecretKey    string `yaml:"secret_key"`
		ExpiresHours int    `yaml:"expires_hours"`
	} `yaml:"jwt"`
	Presence struct {
		HeartbeatTTLSeconds  int   `yaml:"heartbeat_ttl_seconds"`
		CommissionThreshold  int64 `yaml:"commission_threshold"`
		ReconcileWorkers     int   `yaml:"reconcile_workers"`
		SweepIntervalSeconds int   `yaml:"sweep_interval_seconds"`
	} `yaml:"presence"`
	Otel struct {
		Enabled         bool   `yaml:"enabled"`
		Environment     string `yaml:"environment"`
		OTLPEndpoint    string `yaml:"otlp_endpoint"`
		TracesEnabled   bool   `yaml:"traces_enabled"`
		MetricsEnabled  bool   `yaml:"metrics_enabled"`
		DevelopmentMode bool   `yaml:"development_mode"` // 開發模式輸出到 stdout
	} `yaml:"otel"`
	ExpiryJob struct {
		Enabled                     bool `yaml:"enabled"`
		Hour                        int  `yaml:"hour"`
		Minute                      int  `yaml:"minute"`
		ThresholdDays               int  `yaml:"threshold_days"`
		MinNotificationIntervalDays int  `yaml:"min_notification_interval_days"`
	} `yaml:"expiry_job"`
}

var AppConfig Config

// ApplyDefaults 補上未設定的欄位
func (c *Config) ApplyDefaults() {
	if c.App.AppVersion == "" {
		c.App.AppVersion = "1.0.0"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Taipei"
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = "driver_service"
	}
	if c.Payment.TimeoutSeconds <= 0 {
		c.Payment.TimeoutSeconds = 5
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "driver-service"
	}
	if c.JWT.ExpiresHours <= 0 {
		c.JWT.ExpiresHours = 24
	}
	if c.Otel.Environment == "" {
		c.Otel.Environment = "development"
	}
	if c.Otel.OTLPEndpoint == "" {
		c.Otel.OTLPEndpoint = "localhost:4317"
	}
	if c.Presence.HeartbeatTTLSeconds <= 0 {
		c.Presence.HeartbeatTTLSeconds = 60
	}
	if c.Presence.CommissionThreshold <= 0 {
		c.Presence.CommissionThreshold = 5000
	}
	if c.Presence.ReconcileWorkers <= 0 {
		c.Presence.ReconcileWorkers = 8
	}
	if c.Presence.SweepIntervalSeconds <= 0 {
		c.Presence.SweepIntervalSeconds = 300
	}
	if c.ExpiryJob.Hour < 0 || c.ExpiryJob.Hour > 23 {
		c.ExpiryJob.Hour = defaultExpiryJobHour
	}
	if c.ExpiryJob.Minute < 0 || c.ExpiryJob.Minute > 59 {
		c.ExpiryJob.Minute = 0
	}
	if c.ExpiryJob.ThresholdDays <= 0 {
		c.ExpiryJob.ThresholdDays = 7
	}
	if c.ExpiryJob.MinNotificationIntervalDays <= 0 {
		c.ExpiryJob.MinNotificationIntervalDays = 7
	}
}

func (c *Config) HeartbeatTTL() time.Duration {
	return time.Duration(c.Presence.HeartbeatTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Presence.SweepIntervalSeconds) * time.Second
}

func (c *Config) PaymentTimeout() time.Duration {
	return time.Duration(c.Payment.TimeoutSeconds) * time.Second
}

// ParseConfig 解析 yaml，值中的 ${VAR} 以環境變數展開
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	// 未設定時為 -1，由 ApplyDefaults 補成預設時間；明確設定 0 點則保留
	cfg.ExpiryJob.Hour = -1
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadConfig 先載入 .env（可不存在），再讀取 yaml 設定檔到 AppConfig
func LoadConfig(path string) error {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}
