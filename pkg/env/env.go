// Package env reads typed settings from the process environment. Malformed
// values fall back to the default rather than failing startup.
package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func get[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// GetString returns $key or def when unset
func GetString(key, def string) string {
	return get(key, def, func(s string) (string, error) { return s, nil })
}

// GetStringFromFile prefers the contents of the file named by $key_FILE
// (mounted secrets) and falls back to $key.
func GetStringFromFile(key, def string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return GetString(key, def)
}

func GetInt(key string, def int) int {
	return get(key, def, strconv.Atoi)
}

func GetBool(key string, def bool) bool {
	return get(key, def, strconv.ParseBool)
}

func GetDuration(key string, def time.Duration) time.Duration {
	return get(key, def, time.ParseDuration)
}

// GetStringSlice splits a comma separated $key, dropping blank items
func GetStringSlice(key string, def []string) []string {
	out := get(key, nil, func(s string) ([]string, error) {
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts, nil
	})
	if len(out) == 0 {
		return def
	}
	return out
}
