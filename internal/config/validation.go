package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Model.validate(); err != nil {
		return err
	}
	if c.Image.MaxDimension < 0 {
		return fmt.Errorf("image.max_dimension must be >= 0")
	}
	if c.Image.MaxPixels <= 0 {
		return fmt.Errorf("image.max_pixels must be > 0")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.History.RecentLimit <= 0 {
		return fmt.Errorf("history.recent_limit must be > 0")
	}
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session.ttl_minutes must be > 0")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be > 0")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("session.cookie_name cannot be empty")
	}
	return nil
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("model.provider must be ollama or openai, got %q", m.Provider)
	}
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("model.model cannot be empty")
	}
	u, err := url.Parse(strings.TrimSpace(m.APIURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model.api_url must be an absolute URL, got %q", m.APIURL)
	}
	if m.TimeoutSeconds <= 0 {
		return fmt.Errorf("model.timeout_seconds must be > 0")
	}
	if m.BreakerThreshold < 0 {
		return fmt.Errorf("model.breaker_threshold must be >= 0")
	}
	if m.BreakerThreshold > 0 && m.BreakerCooldownSeconds <= 0 {
		return fmt.Errorf("model.breaker_cooldown_seconds must be > 0 when the breaker is enabled")
	}
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		return fmt.Errorf("model.temperature must be within [0, 2]")
	}
	return nil
}
