package config

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

const defaultConfigPath = "configs/config_local.toml"

type MainConfig struct {
	AppName  string `toml:"appName"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	CertFile string `toml:"certFile"`
	KeyFile  string `toml:"keyFile"`
	// AllowOrigins 为空时允许所有来源
	AllowOrigins []string `toml:"allowOrigins"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type KafkaConfig struct {
	Brokers     []string `toml:"brokers"`
	ClientID    string   `toml:"clientID"`
	EventTopic  string   `toml:"eventTopic"`
	Partitions  int32    `toml:"partitions"`
	Replication int16    `toml:"replication"`
	QueueSize   int      `toml:"queueSize"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

// StorageConfig 附件存储：local 或 s3
type StorageConfig struct {
	Driver         string `toml:"driver"`
	LocalPath      string `toml:"localPath"`
	S3Bucket       string `toml:"s3Bucket"`
	S3Region       string `toml:"s3Region"`
	S3Endpoint     string `toml:"s3Endpoint"`
	S3AccessKeyID  string `toml:"s3AccessKeyID"`
	S3SecretKey    string `toml:"s3SecretKey"`
	S3UsePathStyle bool   `toml:"s3UsePathStyle"`
	S3Prefix       string `toml:"s3Prefix"`
}

type ChatConfig struct {
	PremiumTiers              []string `toml:"premiumTiers"`
	TrialTiers                []string `toml:"trialTiers"`
	AgentRoles                []string `toml:"agentRoles"`
	MaxFileSizeMB             int      `toml:"maxFileSizeMB"`
	AllowedContentTypes       []string `toml:"allowedContentTypes"`
	MaxMessageLength          int      `toml:"maxMessageLength"`
	DefaultMaxConcurrentChats int      `toml:"defaultMaxConcurrentChats"`
	AvgHandleMinutes          int      `toml:"avgHandleMinutes"`
	RateLimitPerMinute        int      `toml:"rateLimitPerMinute"`
	WsSendBuffer              int      `toml:"wsSendBuffer"`
	StatusCacheSeconds        int      `toml:"statusCacheSeconds"`
}

type Config struct {
	MainConfig    `toml:"mainConfig"`
	MysqlConfig   `toml:"mysqlConfig"`
	JwtConfig     `toml:"jwtConfig"`
	KafkaConfig   `toml:"kafkaConfig"`
	LogConfig     `toml:"logConfig"`
	RedisConfig   `toml:"redisConfig"`
	StorageConfig `toml:"storageConfig"`
	ChatConfig    `toml:"chatConfig"`
}

var (
	config *Config
	mu     sync.RWMutex
)

// LoadConfig 读取 toml 配置文件，CHAT_CONFIG 环境变量可覆盖默认路径
func LoadConfig() (*Config, error) {
	configPath := defaultConfigPath
	if p := strings.TrimSpace(os.Getenv("CHAT_CONFIG")); p != "" {
		configPath = p
	}
	return LoadConfigFrom(configPath)
}

func LoadConfigFrom(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		log.Printf("failed to load config file %s: %v, falling back to defaults", path, err)
		c.ApplyDefaults()
		return c, err
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills every zero value the service depends on.
func (c *Config) ApplyDefaults() {
	if c.AppName == "" {
		c.AppName = "supportchat"
	}
	if c.MainConfig.Host == "" {
		c.MainConfig.Host = "0.0.0.0"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 8000
	}
	if c.JwtConfig.ExpireHours <= 0 {
		c.JwtConfig.ExpireHours = 24
	}
	if c.KafkaConfig.EventTopic == "" {
		c.KafkaConfig.EventTopic = "chat.events"
	}
	if c.KafkaConfig.QueueSize <= 0 {
		c.KafkaConfig.QueueSize = 1024
	}
	if c.StorageConfig.Driver == "" {
		c.StorageConfig.Driver = "local"
	}
	if c.StorageConfig.LocalPath == "" {
		c.StorageConfig.LocalPath = "uploads/chat_files"
	}

	cc := &c.ChatConfig
	if len(cc.PremiumTiers) == 0 {
		cc.PremiumTiers = []string{"growth", "scale", "enterprise"}
	}
	if len(cc.TrialTiers) == 0 {
		cc.TrialTiers = []string{"trial", "free", "launch"}
	}
	if len(cc.AgentRoles) == 0 {
		cc.AgentRoles = []string{"agent", "admin", "super_admin"}
	}
	if cc.MaxFileSizeMB <= 0 {
		cc.MaxFileSizeMB = 10
	}
	if len(cc.AllowedContentTypes) == 0 {
		cc.AllowedContentTypes = DefaultAllowedContentTypes()
	}
	if cc.MaxMessageLength <= 0 {
		cc.MaxMessageLength = 5000
	}
	if cc.DefaultMaxConcurrentChats <= 0 {
		cc.DefaultMaxConcurrentChats = 5
	}
	if cc.AvgHandleMinutes <= 0 {
		cc.AvgHandleMinutes = 3
	}
	if cc.WsSendBuffer <= 0 {
		cc.WsSendBuffer = 64
	}
	if cc.StatusCacheSeconds <= 0 {
		cc.StatusCacheSeconds = 5
	}
}

// MaxFileBytes 附件大小上限（字节）
func (c ChatConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

func DefaultAllowedContentTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"application/pdf",
		"text/plain",
		"text/csv",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	}
}

// Default 返回只含默认值的配置
func Default() *Config {
	c := new(Config)
	c.ApplyDefaults()
	return c
}

// SetConfig 替换进程级配置（main 启动与测试使用）
func SetConfig(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = c
}

func GetConfig() *Config {
	mu.RLock()
	c := config
	mu.RUnlock()
	if c != nil {
		return c
	}

	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		config, _ = LoadConfig()
	}
	return config
}
