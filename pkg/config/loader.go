package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// RepoDir 是仓库元数据目录名
const RepoDir = ".ledger"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.ledger -> ~/.ledger
		viper.AddConfigPath(".")
		viper.AddConfigPath(RepoDir)
		viper.AddConfigPath(filepath.Join(home, RepoDir))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (LEDGER_DATABASE_HOST, LEDGER_SYNC_BACKOFF_MAX 等)
	viper.SetEnvPrefix("LEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全靠环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		logrus.Debug("no config file found, using defaults/env vars")
	} else {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	}

	return nil
}

func setDefaults() {
	wd, _ := os.Getwd()
	repo := filepath.Join(wd, RepoDir)
	viper.SetDefault("repo", repo)

	// 分片存储
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(repo, "objects"))
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "")
	viper.SetDefault("storage.cache.redis_url", "")
	viper.SetDefault("storage.cache.ttl", 24*time.Hour)

	// 页面 KV
	viper.SetDefault("kv.path", filepath.Join(repo, "kv"))
	viper.SetDefault("kv.sync_writes", true)

	// 对象切分
	viper.SetDefault("objects.inline_threshold", 32)
	viper.SetDefault("objects.max_children", 1024)
	viper.SetDefault("objects.chunker", "fastcdc")

	// 元数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", filepath.Join(repo, "meta.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 同步
	viper.SetDefault("sync.backoff.initial", 100*time.Millisecond)
	viper.SetDefault("sync.backoff.factor", 2)
	viper.SetDefault("sync.backoff.max", time.Hour)
	viper.SetDefault("sync.poll_interval", 30*time.Second)

	viper.SetDefault("cloud.enabled", false)
	viper.SetDefault("cloud.provider", "s3")
	viper.SetDefault("cloud.s3.region", "us-east-1")
	viper.SetDefault("cloud.s3.bucket", "")
	viper.SetDefault("cloud.s3.endpoint", "")
	viper.SetDefault("cloud.overlap", 5*time.Minute)
	viper.SetDefault("cloud.upload_concurrency", 8)

	viper.SetDefault("p2p.enabled", false)
	viper.SetDefault("p2p.listen", ":7400")
	viper.SetDefault("p2p.timeout", 10*time.Second)
	// 空默认值让 Unmarshal 能看到对应的环境变量
	viper.SetDefault("p2p.node_id", "")
	viper.SetDefault("p2p.peers", []string{})
	viper.SetDefault("p2p.pages", []string{})

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// NewLogger 按 log.level / log.format 创建日志器
func NewLogger() (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch viper.GetString("log.format") {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format %q", viper.GetString("log.format"))
	}
	return log, nil
}
