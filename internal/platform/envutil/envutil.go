package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// String returns the trimmed env value or def when unset.
func String(log *logger.Logger, name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		if log != nil {
			log.Debug("env not set, using default", "key", name)
		}
		return def
	}
	return v
}

func Int(log *logger.Logger, name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env, using default", "key", name, "value", v, "default", def)
		}
		return def
	}
	return i
}

func Int64(log *logger.Logger, name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env, using default", "key", name, "value", v, "default", def)
		}
		return def
	}
	return i
}

func Bool(log *logger.Logger, name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if log != nil {
			log.Warn("invalid bool env, using default", "key", name, "default", def)
		}
		return def
	}
}

// Duration accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func Duration(log *logger.Logger, name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if log != nil {
		log.Warn("invalid duration env, using default", "key", name, "value", v, "default", def.String())
	}
	return def
}

func Float64(log *logger.Logger, name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if log != nil {
			log.Warn("invalid float env, using default", "key", name, "value", v, "default", def)
		}
		return def
	}
	return f
}
