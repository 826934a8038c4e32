// Package config loads the worker's environment-variable configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable knob for the supervisor. Defaults
// and floors mirror the operations table this worker was built against.
type Config struct {
	EdgeBaseURL  string
	WorkerSecret string

	Port        int
	MetricsPort int
	LogLevel    string

	DiscoveryPoll time.Duration
	QueuePoll     time.Duration

	AuthBase  string
	MediaBase string

	MaxActiveInstances int

	LockTTL  time.Duration
	LockRenew time.Duration

	BadMacWindow   time.Duration
	BadMacThreshold int
	BadMacCooldown time.Duration

	ContactResolveErrorCooldown     time.Duration
	ContactResolveDuplicateCooldown time.Duration

	HTTPTimeout time.Duration

	// ProcessOwnerID identifies this worker process as a lock owner; it is
	// derived, not read from the environment.
	ProcessOwnerID string
}

// Load reads the process environment and applies defaults and floors.
func Load() (*Config, error) {
	c := &Config{
		EdgeBaseURL:  strings.TrimSuffix(os.Getenv("EDGE_BASE_URL"), "/inbound"),
		WorkerSecret: os.Getenv("WORKER_SECRET"),
		LogLevel:     getString("LOG_LEVEL", "info"),
		AuthBase:     getString("AUTH_BASE", "/data/auth"),
		MediaBase:    getString("MEDIA_BASE", "/data/media"),
	}
	c.EdgeBaseURL = strings.TrimSuffix(c.EdgeBaseURL, "/")

	if c.EdgeBaseURL == "" {
		return nil, fmt.Errorf("config: EDGE_BASE_URL is required")
	}
	if c.WorkerSecret == "" {
		return nil, fmt.Errorf("config: WORKER_SECRET is required")
	}

	c.Port = getInt("PORT", 3000)
	c.MetricsPort = getInt("METRICS_PORT", c.Port)

	c.DiscoveryPoll = getDurationMS("DISCOVERY_POLL_MS", 10000)
	c.QueuePoll = getDurationMS("QUEUE_POLL_MS", 2000)

	c.MaxActiveInstances = getInt("MAX_ACTIVE_INSTANCES", 0)

	ttl := getDurationMS("INSTANCE_LOCK_TTL_MS", 30000)
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	c.LockTTL = ttl

	renew := getDurationMSOrDefault("INSTANCE_LOCK_RENEW_MS", ttl/2)
	if renew < 2*time.Second {
		renew = 2 * time.Second
	}
	c.LockRenew = renew

	c.BadMacWindow = getDurationMS("BAD_MAC_WINDOW_MS", 60000)
	c.BadMacThreshold = getInt("BAD_MAC_THRESHOLD", 20)
	c.BadMacCooldown = getDurationMS("BAD_MAC_COOLDOWN_MS", 300000)

	c.ContactResolveErrorCooldown = getDurationMS("CONTACT_RESOLVE_ERROR_COOLDOWN_MS", 60000)
	c.ContactResolveDuplicateCooldown = getDurationMS("CONTACT_RESOLVE_DUPLICATE_COOLDOWN_MS", 300000)

	c.HTTPTimeout = getDurationMS("HTTP_TIMEOUT_MS", 10000)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	c.ProcessOwnerID = fmt.Sprintf("%s:%d", hostname, os.Getpid())

	return c, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationMS(key string, defMS int) time.Duration {
	return getDurationMSOrDefault(key, time.Duration(defMS)*time.Millisecond)
}

func getDurationMSOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
