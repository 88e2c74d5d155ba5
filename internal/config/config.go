package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App   AppConfig   `json:"app"`
	Redis RedisConfig `json:"redis"`
	Email EmailConfig `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string        `json:"env"`               // 运行环境: local / prod
	LogLevel        string        `json:"log_level"`         // 日志级别: debug / info / warn / error
	HTTPAddr        string        `json:"http_addr"`         // 控制台服务监听地址
	ScraperBaseURL  string        `json:"scraper_base_url"`  // 采集后端 API 地址
	RequestTimeout  time.Duration `json:"request_timeout"`   // 单次后端请求超时（如 "15s"）
	PollInterval    time.Duration `json:"poll_interval"`     // 任务轮询间隔（如 "1s"）
	MaxPollAttempts int           `json:"max_poll_attempts"` // 轮询次数上限
	TitleWarnLimit  int           `json:"title_warn_limit"`  // 标题软长度上限（超出仅告警）
	WorkerPoolSize  int           `json:"worker_pool_size"`  // Worker Pool 大小（并发工作流数）
	QueueCapacity   int           `json:"queue_capacity"`    // 后台任务队列容量
	EnableDedup     bool          `json:"enable_dedup"`      // 是否启用 URL 提交去重（需要 Redis）
	DedupWindow     time.Duration `json:"dedup_window"`      // URL 去重窗口（如 "1h"）
}

// RedisConfig Redis 配置（仅提交去重使用）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先覆盖文件内容。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			HTTPAddr:        ":8082",
			ScraperBaseURL:  "http://localhost:8000",
			RequestTimeout:  15 * time.Second,
			PollInterval:    1 * time.Second,
			MaxPollAttempts: 120,
			TitleWarnLimit:  99,
			WorkerPoolSize:  8,
			QueueCapacity:   64,
			EnableDedup:     false,
			DedupWindow:     time.Hour,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			ToEmail:   "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.ScraperBaseURL == "" {
		cfg.App.ScraperBaseURL = defaults.App.ScraperBaseURL
	}
	if cfg.App.RequestTimeout == 0 {
		cfg.App.RequestTimeout = defaults.App.RequestTimeout
	}
	if cfg.App.PollInterval == 0 {
		cfg.App.PollInterval = defaults.App.PollInterval
	}
	if cfg.App.MaxPollAttempts == 0 {
		cfg.App.MaxPollAttempts = defaults.App.MaxPollAttempts
	}
	if cfg.App.TitleWarnLimit == 0 {
		cfg.App.TitleWarnLimit = defaults.App.TitleWarnLimit
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_SCRAPER_BASE_URL"); v != "" {
		cfg.App.ScraperBaseURL = v
	}
	if v := os.Getenv("APP_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.RequestTimeout = d
		}
	}
	if v := os.Getenv("APP_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PollInterval = d
		}
	}
	if v := os.Getenv("APP_MAX_POLL_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxPollAttempts = i
		}
	}
	if v := os.Getenv("APP_TITLE_WARN_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.TitleWarnLimit = i
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_ENABLE_DEDUP"); v != "" {
		cfg.App.EnableDedup = v == "true" || v == "1"
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.DedupWindow = d
		}
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		RequestTimeout string `json:"request_timeout"`
		PollInterval   string `json:"poll_interval"`
		DedupWindow    string `json:"dedup_window"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.RequestTimeout != "" {
		duration, err := time.ParseDuration(aux.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout format: %w", err)
		}
		a.RequestTimeout = duration
	}
	if aux.PollInterval != "" {
		duration, err := time.ParseDuration(aux.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval format: %w", err)
		}
		a.PollInterval = duration
	}
	if aux.DedupWindow != "" {
		duration, err := time.ParseDuration(aux.DedupWindow)
		if err != nil {
			return fmt.Errorf("invalid dedup_window format: %w", err)
		}
		a.DedupWindow = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		RequestTimeout string `json:"request_timeout"`
		PollInterval   string `json:"poll_interval"`
		DedupWindow    string `json:"dedup_window"`
		*Alias
	}{
		RequestTimeout: a.RequestTimeout.String(),
		PollInterval:   a.PollInterval.String(),
		DedupWindow:    a.DedupWindow.String(),
		Alias:          (*Alias)(&a),
	})
}
