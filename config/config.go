package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server `mapstructure:"server"`
	Auth   Auth   `mapstructure:"auth"`
	Model  Model  `mapstructure:"model"`
	Upload Upload `mapstructure:"upload"`
	Static Static `mapstructure:"static"`
	Redis  Redis  `mapstructure:"redis"`
}

type Server struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// Auth API密钥配置，tokens为逗号分隔的令牌列表，为空时关闭鉴权
type Auth struct {
	Tokens string `mapstructure:"tokens"`
}

type Model struct {
	Path          string        `mapstructure:"path"`
	MetadataPath  string        `mapstructure:"metadata_path"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

type Upload struct {
	MaxSize int64 `mapstructure:"max_size"`
}

type Static struct {
	Dir string `mapstructure:"dir"`
}

type Redis struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthMode 鉴权模式
type AuthMode int

const (
	AuthDisabled AuthMode = iota
	AuthTokenSet
)

// Mode 根据令牌列表是否为空决定鉴权模式
func (a *Auth) Mode() AuthMode {
	if len(a.TokenSet()) == 0 {
		return AuthDisabled
	}
	return AuthTokenSet
}

// TokenSet 解析逗号分隔的令牌列表，忽略空白项
func (a *Auth) TokenSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Split(a.Tokens, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Load 从 YAML 文件加载配置，环境变量优先
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，回退到环境变量+默认值
		return fromEnv()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.process_timeout", 60*time.Second)

	v.SetDefault("auth.tokens", "")

	v.SetDefault("model.path", "./models/matting.onnx")
	v.SetDefault("model.metadata_path", "./models/matting_metadata.json")
	v.SetDefault("model.max_concurrent", 2)
	v.SetDefault("model.queue_timeout", 30*time.Second)

	v.SetDefault("upload.max_size", 15*1024*1024)

	v.SetDefault("static.dir", "./static")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("auth.tokens", "API_TOKENS")
	_ = v.BindEnv("static.dir", "STATIC_DIR")
	_ = v.BindEnv("model.path", "MODEL_PATH")
	_ = v.BindEnv("model.metadata_path", "MODEL_METADATA_PATH")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
}

func fromEnv() *Config {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return getDefaultConfig()
	}
	return &cfg
}

func getDefaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:           ":8000",
			Mode:           "debug",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			ProcessTimeout: 60 * time.Second,
		},
		Model: Model{
			Path:          "./models/matting.onnx",
			MetadataPath:  "./models/matting_metadata.json",
			MaxConcurrent: 2,
			QueueTimeout:  30 * time.Second,
		},
		Upload: Upload{
			MaxSize: 15 * 1024 * 1024,
		},
		Static: Static{
			Dir: "./static",
		},
		Redis: Redis{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
	}
}
