package env

import (
	"os"
	"strconv"
	"time"
)

func lookup[T any](def T, parse func(string) (T, error), keys []string) T {
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			if v, err := parse(val); err == nil {
				return v
			}
		}
	}
	return def
}

func StringEnv(def string, keys ...string) string {
	return lookup(def, func(s string) (string, error) { return s, nil }, keys)
}

func IntEnv(def int, keys ...string) int {
	return lookup(def, strconv.Atoi, keys)
}

func DurationEnv(def time.Duration, keys ...string) time.Duration {
	return lookup(def, time.ParseDuration, keys)
}
