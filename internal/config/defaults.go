package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":8501"
	defaultModelProvider    = "ollama"
	defaultOllamaURL        = "http://localhost:11434"
	defaultOpenAIURL        = "https://api.openai.com/v1"
	defaultModelName        = "llava:7b"
	defaultModelTimeout     = 120
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30
	defaultUploadMaxBytes   = 20 << 20
	defaultImageMaxPixels   = 50_000_000
	defaultHistoryRecent    = 20
	defaultSessionTTL       = 60
	defaultSessionCookie    = "imagereader_session"
	defaultSessionMax       = 1000
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Model.applyDefaults(keys)
	c.Image.applyDefaults(keys)
	c.Upload.applyDefaults(keys)
	c.History.applyDefaults(keys)
	c.Session.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *ModelConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	applyFieldDefaults(keys,
		stringFieldDefault("model.provider", &m.Provider, defaultModelProvider),
		stringFieldDefault("model.model", &m.Model, defaultModelName),
		intFieldDefault("model.timeout_seconds", &m.TimeoutSeconds, defaultModelTimeout),
		intFieldDefault("model.breaker_threshold", &m.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("model.breaker_cooldown_seconds", &m.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	// api_url 的默认值取决于 provider
	if strings.TrimSpace(m.APIURL) == "" {
		if m.Provider == "openai" {
			m.APIURL = defaultOpenAIURL
		} else {
			m.APIURL = defaultOllamaURL
		}
	}
}

func (i *ImageConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("image.max_pixels", &i.MaxPixels, defaultImageMaxPixels),
	)
}

func (u *UploadConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys, fieldDefault{
		key:   "upload.max_bytes",
		need:  func() bool { return u.MaxBytes <= 0 },
		apply: func() { u.MaxBytes = defaultUploadMaxBytes },
	})
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("history.recent_limit", &h.RecentLimit, defaultHistoryRecent),
	)
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("session.ttl_minutes", &s.TTLMinutes, defaultSessionTTL),
		stringFieldDefault("session.cookie_name", &s.CookieName, defaultSessionCookie),
		intFieldDefault("session.max_sessions", &s.MaxSessions, defaultSessionMax),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
