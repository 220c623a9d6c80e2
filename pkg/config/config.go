package config

import (
	"fmt"
	"strings"
	"time"

	"ledgervault/pkg/core"

	"github.com/spf13/viper"
)

// Config 是 Viper 状态的快照，字段与配置键一一对应
type Config struct {
	Repo     string         `mapstructure:"repo"`
	Storage  StorageConfig  `mapstructure:"storage"`
	KV       KVConfig       `mapstructure:"kv"`
	Objects  ObjectsConfig  `mapstructure:"objects"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	P2P      P2PConfig      `mapstructure:"p2p"`
	Log      LogConfig      `mapstructure:"log"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"` // disk | s3 | kv
	Path  string      `mapstructure:"path"`
	S3    S3Config    `mapstructure:"s3"`
	Cache CacheConfig `mapstructure:"cache"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

type CacheConfig struct {
	// RedisURL 为空时不启用缓存
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KVConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type ObjectsConfig struct {
	InlineThreshold int    `mapstructure:"inline_threshold"`
	MaxChildren     int    `mapstructure:"max_children"`
	Chunker         string `mapstructure:"chunker"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Verbose  bool   `mapstructure:"verbose"`
}

type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Factor  int           `mapstructure:"factor"`
	Max     time.Duration `mapstructure:"max"`
}

type SyncConfig struct {
	Backoff      BackoffConfig `mapstructure:"backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type CloudConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Provider          string        `mapstructure:"provider"` // s3 | memory
	S3                S3Config      `mapstructure:"s3"`
	Overlap           time.Duration `mapstructure:"overlap"`
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
}

type P2PConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NodeID  string `mapstructure:"node_id"`
	Listen  string `mapstructure:"listen"`
	// Peers 形如 "id@host:port"
	Peers   []string      `mapstructure:"peers"`
	Pages   []string      `mapstructure:"pages"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Current 把当前的 Viper 状态解码成 Config
func Current() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查无法靠默认值兜底的取值
func (c *Config) Validate() error {
	if err := core.ValidateMaxChildren(c.Objects.MaxChildren); err != nil {
		return fmt.Errorf("invalid objects.max_children: %w", err)
	}
	return nil
}

// PeerAddr 是解析后的对端地址
type PeerAddr struct {
	ID   string
	Addr string
}

// ParsePeers 解析 "id@host:port" 列表
func (c P2PConfig) ParsePeers() ([]PeerAddr, error) {
	out := make([]PeerAddr, 0, len(c.Peers))
	for _, p := range c.Peers {
		id, addr, ok := strings.Cut(strings.TrimSpace(p), "@")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, want id@host:port", p)
		}
		out = append(out, PeerAddr{ID: id, Addr: addr})
	}
	return out, nil
}
