package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultGroupPriceCeiling is the maximum total price of one group.
var DefaultGroupPriceCeiling = decimal.NewFromInt(200)

// GroupPriceCeiling reads GROUP_PRICE_CEILING (decimal, > 0). Defaults to 200.
func GroupPriceCeiling() decimal.Decimal {
	v := strings.TrimSpace(os.Getenv("GROUP_PRICE_CEILING"))
	if v == "" {
		return DefaultGroupPriceCeiling
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.Sign() <= 0 {
		return DefaultGroupPriceCeiling
	}
	return d
}

func GroupingTopic() string {
	return stringFromEnv("GROUPING_TOPIC", "grouping.start")
}

func GroupingSubscription() string {
	return stringFromEnv("GROUPING_SUBSCRIPTION", "grouping.start.worker")
}

// GroupingDeadLetterTopic is optional; empty disables the subscription dead-letter policy.
func GroupingDeadLetterTopic() string {
	return strings.TrimSpace(os.Getenv("GROUPING_DEAD_LETTER_TOPIC"))
}

func GroupingScanInterval() time.Duration {
	return durationFromEnv("GROUPING_SCAN_INTERVAL", 5*time.Minute)
}

func GroupingScanEnabled() bool {
	return boolFromEnv("GROUPING_SCAN_ENABLED", true)
}

func GroupingConsumerEnabled() bool {
	return boolFromEnv("GROUPING_CONSUMER_ENABLED", true)
}

func GroupingMaxDeliveryAttempts() int {
	n := intFromEnv("GROUPING_MAX_DELIVERY_ATTEMPTS", 10)
	if n <= 0 {
		return 10
	}
	return n
}

func GroupingConsumerConcurrency() int {
	n := intFromEnv("GROUPING_CONSUMER_CONCURRENCY", 10)
	if n <= 0 {
		return 1
	}
	return n
}

func GroupingLockTTL() time.Duration {
	return durationFromEnv("GROUPING_LOCK_TTL", 60*time.Second)
}

func GroupingLockWait() time.Duration {
	return durationFromEnv("GROUPING_LOCK_WAIT", 10*time.Second)
}

func GroupingRunTimeout() time.Duration {
	return durationFromEnv("GROUPING_RUN_TIMEOUT", 2*time.Minute)
}

func GroupingRetryMinBackoff() time.Duration {
	return durationFromEnv("GROUPING_RETRY_MIN_BACKOFF", 10*time.Second)
}

func GroupingRetryMaxBackoff() time.Duration {
	return durationFromEnv("GROUPING_RETRY_MAX_BACKOFF", 10*time.Minute)
}

func GroupsCacheTTL() time.Duration {
	return durationFromEnv("GROUPS_CACHE_TTL", 60*time.Second)
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// durationFromEnv accepts Go durations ("90s", "5m") or a bare number of seconds.
func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
