package capability

import (
	"strings"

	"github.com/spf13/cast"
)

// EnvVarsKey is the node config key holding extra environment entries.
const EnvVarsKey = "envVars"

// EnvVars returns the string-valued entries of config["envVars"].
// Entries with empty keys or non-string values are dropped.
func EnvVars(config map[string]any) map[string]string {
	raw, ok := config[EnvVarsKey]
	if !ok {
		return nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if k == "" || !ok {
			continue
		}
		out[k] = s
	}
	return out
}

// str returns config[key] as a string, or def when missing or empty.
func str(config map[string]any, key, def string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return def
	}
	return s
}

func flag(config map[string]any, key string) bool {
	return cast.ToBool(config[key])
}

// integer returns config[key] as an int, or def when missing or zero.
func integer(config map[string]any, key string, def int) int {
	if n := cast.ToInt(config[key]); n != 0 {
		return n
	}
	return def
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
