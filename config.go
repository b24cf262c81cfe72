package vaulthub

import (
	"strings"
	"time"

	"github.com/nyaruka/ezconf"
	"github.com/pkg/errors"

	"github.com/vault-app/vault-hub/hub"
)

// Config is our top level configuration object
type Config struct {
	Domain    string `help:"the domain vault-hub is exposed on"`
	Address   string `help:"the network interface address vault-hub will bind to"`
	Port      int    `help:"the port vault-hub will listen on"`
	SentryDSN string `help:"the DSN used for logging errors to Sentry"`
	LogLevel  string `help:"the logging level vault-hub should use"`
	Version   string `help:"the version that will be used in request and response headers"`

	JWTSecret   string `help:"the secret access tokens are signed with (HS256)"`
	JWTIssuer   string `help:"the issuer access tokens must carry, empty to skip the check"`
	JWTAudience string `help:"the audience access tokens must carry, empty to skip the check"`

	RedisURL    string `help:"the redis URL used for messages, partners and locations, empty keeps everything in memory"`
	LocationTTL int    `help:"how many minutes a reported location is kept"`

	AllowedOrigins      string `help:"comma separated origins browsers may connect from, * for any"`
	SendQueueSize       int    `help:"how many outbound frames are queued per connection"`
	OverflowPolicy      string `help:"what to do when a connection's queue is full, disconnect or drop-oldest"`
	WriteTimeout        int    `help:"seconds a single websocket write may take"`
	PongTimeout         int    `help:"seconds without a pong before a connection is considered dead"`
	RequestTimeout      int    `help:"seconds an event may spend waiting on storage"`
	MaxMessageSize      int    `help:"the largest inbound frame in bytes"`
	ReportInvalidEvents bool   `help:"whether invalid events are answered with an error ack instead of being dropped"`
}

// NewConfig returns a new default configuration object
func NewConfig() *Config {
	return &Config{
		Domain:   "localhost",
		Address:  "",
		Port:     8080,
		LogLevel: "info",
		Version:  "Dev",

		JWTIssuer:   "vault",
		JWTAudience: "vault-app",

		LocationTTL: 30,

		AllowedOrigins: "http://localhost:3000,http://localhost:5173",
		SendQueueSize:  256,
		OverflowPolicy: string(hub.OverflowDisconnect),
		WriteTimeout:   10,
		PongTimeout:    60,
		RequestTimeout: 10,
		MaxMessageSize: 64 * 1024,
	}
}

// LoadConfig loads our configuration from the passed in filename
func LoadConfig(filename string) *Config {
	config := NewConfig()
	loader := ezconf.NewLoader(
		config,
		"vault-hub", "Vault Hub - real-time chat and call signaling for paired users",
		[]string{filename},
	)

	loader.MustLoad()
	return config
}

// Validate checks the loaded configuration can run a server
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must be set")
	}
	if c.Port < 0 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	switch hub.OverflowPolicy(c.OverflowPolicy) {
	case hub.OverflowDisconnect, hub.OverflowDropOldest:
	default:
		return errors.Errorf("unknown overflow_policy '%s'", c.OverflowPolicy)
	}

	sizes := map[string]int{
		"location_ttl":     c.LocationTTL,
		"send_queue_size":  c.SendQueueSize,
		"write_timeout":    c.WriteTimeout,
		"pong_timeout":     c.PongTimeout,
		"request_timeout":  c.RequestTimeout,
		"max_message_size": c.MaxMessageSize,
	}
	for name, value := range sizes {
		if value <= 0 {
			return errors.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}

// Origins returns the allowed origins as a list
func (c *Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// HubOptions maps our configuration onto the hub's connection options
func (c *Config) HubOptions() hub.Options {
	return hub.Options{
		SendQueueSize:       c.SendQueueSize,
		Overflow:            hub.OverflowPolicy(c.OverflowPolicy),
		WriteTimeout:        time.Duration(c.WriteTimeout) * time.Second,
		PongTimeout:         time.Duration(c.PongTimeout) * time.Second,
		RequestTimeout:      time.Duration(c.RequestTimeout) * time.Second,
		MaxMessageSize:      int64(c.MaxMessageSize),
		AllowedOrigins:      c.Origins(),
		ReportInvalidEvents: c.ReportInvalidEvents,
	}
}

// LocationTTLDuration returns how long reported locations are cached
func (c *Config) LocationTTLDuration() time.Duration {
	return time.Duration(c.LocationTTL) * time.Minute
}
