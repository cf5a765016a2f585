package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Logger struct {
		Level string `yaml:"level"` // debug | info | warn | error
		Mode  string `yaml:"mode"`  // development | production
	} `yaml:"logger"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Kafka struct {
		Broker string `yaml:"broker"`
		Topic  string `yaml:"topic"`
	} `yaml:"kafka"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Engine struct {
		BrowserURL   string `yaml:"browserURL"` // browser automation service; empty = static prober for all depths
		TimeoutQuick int    `yaml:"timeoutQuickSeconds"`
		TimeoutDeep  int    `yaml:"timeoutDeepSeconds"`
		SlowLoadMS   int64  `yaml:"slowLoadMs"`
	} `yaml:"engine"`

	AI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"ai"`

	Mail struct {
		Endpoint   string            `yaml:"endpoint"`
		APIKey     string            `yaml:"apiKey"`
		From       string            `yaml:"from"`
		Default    string            `yaml:"defaultRecipient"`
		Recipients map[string]string `yaml:"recipients"` // tenant -> address
	} `yaml:"mail"`

	Billing struct {
		URL     string   `yaml:"url"`     // billing API; empty = static allowlist
		Allowed []string `yaml:"allowed"` // tenants allowed when no billing API is set
	} `yaml:"billing"`

	Scan struct {
		ConfidenceThreshold float64 `yaml:"confidenceThreshold"`
		DeepScanDay         string  `yaml:"deepScanDay"` // weekly deep-scan day, e.g. Sunday
		RescanDelayMinutes  int     `yaml:"rescanDelayMinutes"`
		RefreshHours        int     `yaml:"refreshHours"`
		EngineAttempts      int     `yaml:"engineAttempts"`
		Workers             int     `yaml:"workers"`
		QueueSize           int     `yaml:"queueSize"`
	} `yaml:"scan"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // tenant -> key
	} `yaml:"auth"`
}

// Load reads a config.yaml file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Engine.TimeoutQuick == 0 {
		c.Engine.TimeoutQuick = 30
	}
	if c.Engine.TimeoutDeep == 0 {
		c.Engine.TimeoutDeep = 120
	}
	if c.Engine.SlowLoadMS == 0 {
		c.Engine.SlowLoadMS = 5000
	}
	if c.Scan.ConfidenceThreshold == 0 {
		c.Scan.ConfidenceThreshold = 0.7
	}
	if c.Scan.DeepScanDay == "" {
		c.Scan.DeepScanDay = "Sunday"
	}
	if c.Scan.RescanDelayMinutes == 0 {
		c.Scan.RescanDelayMinutes = 30
	}
	if c.Scan.RefreshHours == 0 {
		c.Scan.RefreshHours = 24
	}
	if c.Scan.EngineAttempts == 0 {
		c.Scan.EngineAttempts = 3
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = 4
	}
	if c.Scan.QueueSize == 0 {
		c.Scan.QueueSize = 128
	}
}

// MySQLDSN builds the MySQL connection string.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the Postgres connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}

// DeepScanWeekday parses the configured deep-scan day, defaulting to Sunday.
func (c *Config) DeepScanWeekday() time.Weekday {
	switch c.Scan.DeepScanDay {
	case "Monday":
		return time.Monday
	case "Tuesday":
		return time.Tuesday
	case "Wednesday":
		return time.Wednesday
	case "Thursday":
		return time.Thursday
	case "Friday":
		return time.Friday
	case "Saturday":
		return time.Saturday
	default:
		return time.Sunday
	}
}

// RescanDelay returns the confirmation-rescan delay.
func (c *Config) RescanDelay() time.Duration {
	return time.Duration(c.Scan.RescanDelayMinutes) * time.Minute
}

// RefreshInterval returns how old a page's last scan may be before the sweep
// considers it due again.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Scan.RefreshHours) * time.Hour
}
