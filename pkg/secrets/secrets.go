package secrets

import (
	"net/url"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const hidden = "[HIDDEN]"

var (
	once          sync.Once
	sensitiveEnvs []string

	queryKeyPatterns = []string{"key", "token", "secret", "auth", "password"}

	envNameSensitivePatterns = []string{
		"API_KEY", "TOKEN", "SECRET", "PASSWORD", "ACCESS_KEY", "PRIVATE_KEY",
	}
)

func loadSensitiveEnvs() {
	sensitiveEnvs = sensitiveEnvs[:0]
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || len(val) < 6 {
			continue
		}
		up := strings.ToUpper(name)
		for _, pat := range envNameSensitivePatterns {
			if strings.Contains(up, pat) {
				sensitiveEnvs = append(sensitiveEnvs, val)
				break
			}
		}
	}
}

// RedactString hides the values of secret-looking environment variables.
// Seed files expand ${ENV} references into node URLs, so those values can
// show up in anything derived from a URL.
func RedactString(s string) string {
	once.Do(loadSensitiveEnvs)
	for _, val := range sensitiveEnvs {
		s = strings.ReplaceAll(s, val, hidden)
	}
	return s
}

// RedactURL masks credentials in userinfo and secret-looking query parameters.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactString(raw)
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxx")
		} else {
			u.User = url.User("xxx")
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			lk := strings.ToLower(k)
			for _, pat := range queryKeyPatterns {
				if strings.Contains(lk, pat) {
					q.Set(k, "xxx")
					break
				}
			}
		}
		u.RawQuery = q.Encode()
	}
	return RedactString(u.String())
}

// URL is a zap field carrying a redacted node URL.
func URL(key, raw string) zap.Field {
	return zap.String(key, RedactURL(raw))
}
