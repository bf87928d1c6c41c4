package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQ       MQConfig       `mapstructure:"mq"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	// MetricsPort /metrics端点监听端口
	MetricsPort int `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogMode         bool   `mapstructure:"log_mode"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	// CacheTTL 可售库存缓存TTL（秒）
	CacheTTL int `mapstructure:"cache_ttl"`
}

type MQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	// Buffer 事件重投缓冲大小
	Buffer int `mapstructure:"buffer"`
}

// EngineConfig 引擎业务配置
// 教学要点：业务配置与技术配置分离
type EngineConfig struct {
	// MaxRetries 乐观锁冲突最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// DefaultTTLSeconds 默认预留有效期（秒）
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
	// SweepIntervalSeconds 过期清扫周期（秒）
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	// RetentionHours 终态预留审计保留时长（小时）
	RetentionHours int `mapstructure:"retention_hours"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetEnvPrefix("STOCKCORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("无效的指标端口: %d", c.Server.MetricsPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("数据库DSN不能为空")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("Redis地址不能为空")
	}

	if c.MQ.URL == "" {
		return fmt.Errorf("RabbitMQ连接URL不能为空")
	}

	if c.Engine.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("默认预留有效期必须大于0: %d", c.Engine.DefaultTTLSeconds)
	}

	return nil
}

func (c *RedisConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *EngineConfig) GetDefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c *EngineConfig) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *EngineConfig) GetRetention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
