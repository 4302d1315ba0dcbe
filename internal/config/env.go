package config

import (
	"os"
	"strconv"
	"time"
)

// Env holds process-level settings that live outside the endpoint config
// file: wiring for logs, the database, and alert channel credentials.
type Env struct {
	ConfigPath    string        // path to the endpoints TOML file
	LogDir        string        // logs directory
	LogConsole    bool          // also log to stderr
	DatabaseURL   string        // empty disables the persistence sink
	RedisAddr     string        // empty disables the redis alert channel
	RedisQueue    string        // redis list alerts are pushed to
	SlackWebhook  string        // empty disables the slack alert channel
	WebhookURL    string        // empty disables the generic webhook alert channel
	ShutdownGrace time.Duration // how long to wait for check tasks on exit
}

func FromEnv() Env {
	env := Env{
		ConfigPath:    "forge.toml",
		LogDir:        "logs",
		RedisQueue:    "uptime:alerts",
		ShutdownGrace: 10 * time.Second,
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		env.ConfigPath = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		env.LogDir = v
	}
	env.LogConsole = os.Getenv("LOG_CONSOLE") != ""
	env.DatabaseURL = os.Getenv("DATABASE_URL")
	env.RedisAddr = os.Getenv("REDIS_ADDR")
	if v := os.Getenv("REDIS_ALERT_QUEUE"); v != "" {
		env.RedisQueue = v
	}
	env.SlackWebhook = os.Getenv("SLACK_WEBHOOK_URL")
	env.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	if v := os.Getenv("SHUTDOWN_GRACE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			env.ShutdownGrace = time.Duration(ms) * time.Millisecond
		}
	}
	return env
}
