package config

import (
	"strings"
	"time"
)

// Config 是 imagereader 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Model    ModelConfig    `toml:"model"`
	Analysis AnalysisConfig `toml:"analysis"`
	Image    ImageConfig    `toml:"image"`
	Upload   UploadConfig   `toml:"upload"`
	Prompts  PromptsConfig  `toml:"prompts"`
	History  HistoryConfig  `toml:"history"`
	Session  SessionConfig  `toml:"session"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// ModelConfig 描述外部多模态模型服务（endpoint + model id + 单次调用超时）。
type ModelConfig struct {
	Provider               string            `toml:"provider"` // "ollama" | "openai"
	APIURL                 string            `toml:"api_url"`
	Model                  string            `toml:"model"`
	APIKey                 string            `toml:"api_key"`
	Headers                map[string]string `toml:"headers"`
	TimeoutSeconds         int               `toml:"timeout_seconds"`
	Temperature            *float64          `toml:"temperature"`
	BreakerThreshold       int               `toml:"breaker_threshold"`
	BreakerCooldownSeconds int               `toml:"breaker_cooldown_seconds"`
}

func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func (m ModelConfig) BreakerCooldown() time.Duration {
	return time.Duration(m.BreakerCooldownSeconds) * time.Second
}

// ID returns "provider:model", used in logs and history records.
func (m ModelConfig) ID() string {
	return strings.TrimSpace(m.Provider) + ":" + strings.TrimSpace(m.Model)
}

type AnalysisConfig struct {
	Parallel bool `toml:"parallel"`
}

type ImageConfig struct {
	MaxDimension int  `toml:"max_dimension"`
	AutoOrient   bool `toml:"auto_orient"`
	MaxPixels    int  `toml:"max_pixels"` // 按头部声明的宽×高限制，解码前检查
}

type UploadConfig struct {
	MaxBytes int64 `toml:"max_bytes"`
}

type PromptsConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type HistoryConfig struct {
	Path        string `toml:"path"`
	RecentLimit int    `toml:"recent_limit"`
}

func (h HistoryConfig) Enabled() bool {
	return strings.TrimSpace(h.Path) != ""
}

type SessionConfig struct {
	TTLMinutes  int    `toml:"ttl_minutes"`
	CookieName  string `toml:"cookie_name"`
	MaxSessions int    `toml:"max_sessions"` // 超出后淘汰最久未访问的会话
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
