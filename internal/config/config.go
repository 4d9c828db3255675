// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/rpcmesh/pkg/auth"
	"github.com/morezero/rpcmesh/pkg/balancer"
	"github.com/morezero/rpcmesh/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds rpcmesh server configuration.
type Config struct {
	ServiceName        string `envconfig:"SERVICE_NAME" default:"noname"`
	ServiceDescription string `envconfig:"SERVICE_DESCRIPTION" default:"no description"`

	// Listen address, and the host advertised in call chains and heartbeats.
	Host    string `envconfig:"RPC_HOST" default:"0.0.0.0"`
	Port    int    `envconfig:"RPC_PORT" default:"8900"`
	OutHost string `envconfig:"RPC_OUT_HOST" default:"127.0.0.1"`

	ServicePath string `envconfig:"RPC_SERVICE_PATH" default:"/"`
	ExplainPath string `envconfig:"RPC_EXPLAIN_PATH" default:"/explain"`
	InfoPath    string `envconfig:"RPC_INFO_PATH" default:"/info"`

	Version          string `envconfig:"RPC_VERSION" default:"0.0.0"`
	CPU              int    `envconfig:"RPC_CPU" default:"1"`
	MaxTaskQueue     int    `envconfig:"RPC_MAX_TASK_QUEUE" default:"1000"`
	RecentTaskNum    int    `envconfig:"RPC_RECENT_TASK_NUM" default:"100"`
	MaxPostBytes     int64  `envconfig:"RPC_MAX_POST_BYTES" default:"1024000"`
	ServiceAvailable bool   `envconfig:"RPC_SERVICE_AVAILABLE" default:"true"`

	AuthErrorStatus int    `envconfig:"RPC_AUTH_ERROR_STATUS" default:"1"`
	AuthErrorInfo   string `envconfig:"RPC_AUTH_ERROR_INFO" default:"token expired, re-authenticate"`

	// Timers
	ShutdownGrace    time.Duration `envconfig:"RPC_SHUTDOWN_GRACE" default:"10s"`
	ShutdownPoll     time.Duration `envconfig:"RPC_SHUTDOWN_POLL" default:"1s"`
	RolloverInterval time.Duration `envconfig:"RPC_ROLLOVER_INTERVAL" default:"1m"`
	ClientTimeout    time.Duration `envconfig:"RPC_CLIENT_TIMEOUT" default:"10s"`
	ClientFeedStatus bool          `envconfig:"RPC_CLIENT_FEED_STATUS" default:"true"`

	// Auth backend: none, static or postgres.
	AuthMode         string        `envconfig:"AUTH_MODE" default:"none"`
	AuthStaticTokens string        `envconfig:"AUTH_STATIC_TOKENS"`
	AuthCacheTTL     time.Duration `envconfig:"AUTH_CACHE_TTL" default:"30s"`

	// Database
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// COMMS discovery; an empty COMMS_URL disables it.
	COMMSURL          string        `envconfig:"COMMS_URL"`
	Tier              string        `envconfig:"RPC_TIER" default:"srv"`
	HeartbeatInterval time.Duration `envconfig:"RPC_HEARTBEAT_INTERVAL" default:"5s"`
	EndpointTTL       time.Duration `envconfig:"RPC_ENDPOINT_TTL" default:"15s"`
	EndpointsFile     string        `envconfig:"RPC_ENDPOINTS_FILE"`

	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s - RPC_PORT %d out of range", logPrefix, c.Port)
	}
	if err := semver.Validate(c.Version); err != nil {
		return fmt.Errorf("%s - RPC_VERSION: %w", logPrefix, err)
	}
	for name, v := range map[string]int{
		"RPC_CPU":             c.CPU,
		"RPC_MAX_TASK_QUEUE":  c.MaxTaskQueue,
		"RPC_RECENT_TASK_NUM": c.RecentTaskNum,
	} {
		if v <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, name)
		}
	}
	if c.MaxPostBytes <= 0 {
		return fmt.Errorf("%s - RPC_MAX_POST_BYTES must be positive", logPrefix)
	}
	for name, d := range map[string]time.Duration{
		"RPC_SHUTDOWN_GRACE":     c.ShutdownGrace,
		"RPC_SHUTDOWN_POLL":      c.ShutdownPoll,
		"RPC_ROLLOVER_INTERVAL":  c.RolloverInterval,
		"RPC_CLIENT_TIMEOUT":     c.ClientTimeout,
		"RPC_HEARTBEAT_INTERVAL": c.HeartbeatInterval,
		"RPC_ENDPOINT_TTL":       c.EndpointTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, name)
		}
	}
	for name, p := range map[string]string{
		"RPC_SERVICE_PATH": c.ServicePath,
		"RPC_EXPLAIN_PATH": c.ExplainPath,
		"RPC_INFO_PATH":    c.InfoPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s - %s must start with '/'", logPrefix, name)
		}
	}
	if c.Tier != balancer.TierApi && c.Tier != balancer.TierSrv {
		return fmt.Errorf("%s - RPC_TIER must be %q or %q", logPrefix, balancer.TierApi, balancer.TierSrv)
	}
	switch c.AuthMode {
	case auth.ModeNone:
	case auth.ModeStatic:
		if _, err := auth.ParseStaticTokens(c.AuthStaticTokens); err != nil {
			return fmt.Errorf("%s - AUTH_STATIC_TOKENS: %w", logPrefix, err)
		}
	case auth.ModePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s - DATABASE_URL is required for AUTH_MODE=postgres", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown AUTH_MODE %q", logPrefix, c.AuthMode)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, ensure-db).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdvertisedAddr returns the host:port written into call chains.
func (c *Config) AdvertisedAddr() string {
	return net.JoinHostPort(c.OutHost, strconv.Itoa(c.Port))
}

// String renders a summary safe to log: secrets are not included.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "service:   %s %s (%s)\n", c.ServiceName, c.Version, c.ServiceDescription)
	fmt.Fprintf(&b, "listen:    %s (advertised %s, tier %s)\n", c.ListenAddr(), c.AdvertisedAddr(), c.Tier)
	fmt.Fprintf(&b, "paths:     service=%s explain=%s info=%s\n", c.ServicePath, c.ExplainPath, c.InfoPath)
	fmt.Fprintf(&b, "limits:    cpu=%d max_queue=%d recent=%d max_post=%d available=%v\n",
		c.CPU, c.MaxTaskQueue, c.RecentTaskNum, c.MaxPostBytes, c.ServiceAvailable)
	fmt.Fprintf(&b, "auth:      mode=%s failure=%d %q\n", c.AuthMode, c.AuthErrorStatus, c.AuthErrorInfo)
	discovery := "disabled"
	if c.COMMSURL != "" {
		discovery = fmt.Sprintf("%s heartbeat=%s ttl=%s", c.COMMSURL, c.HeartbeatInterval, c.EndpointTTL)
	}
	fmt.Fprintf(&b, "discovery: %s\n", discovery)
	fmt.Fprintf(&b, "features:  metrics=%v tracing=%v log=%s", c.MetricsEnabled, c.TracingEnabled, c.LogLevel)
	return b.String()
}
