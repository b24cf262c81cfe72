package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"

	vaulthub "github.com/vault-app/vault-hub"
	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/handlers"
	"github.com/vault-app/vault-hub/hub"
	"github.com/vault-app/vault-hub/store"
)

func main() {
	startTime := time.Now()
	config := vaulthub.LoadConfig("vault_hub.toml")

	// configure our logger
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level '%s'", config.LogLevel)
	}
	logrus.SetLevel(level)

	// if we have a DSN entry, try to initialize it
	if config.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(config.SentryDSN, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel})
		if err != nil {
			logrus.Fatalf("Invalid sentry DSN: '%s': %s", config.SentryDSN, err)
		}
		hook.Timeout = 0
		hook.StacktraceConfiguration.Enable = true
		hook.StacktraceConfiguration.Skip = 4
		hook.StacktraceConfiguration.Context = 5
		logrus.StandardLogger().Hooks.Add(hook)
	}

	log := logrus.WithField("comp", "main")

	var s store.Store
	if config.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err = store.NewRedisStore(ctx, config.RedisURL, config.LocationTTLDuration())
		cancel()
		if err != nil {
			log.WithError(err).Fatal("unable to connect to redis")
		}
		log.Info("using redis store")
	} else {
		s = store.NewMemoryStore(config.LocationTTLDuration())
		log.Warn("no redis_url set, keeping messages in memory")
	}
	defer s.Close()

	binder := auth.NewBinder(auth.NewJWTVerifier(config.JWTSecret, config.JWTIssuer, config.JWTAudience))
	h := hub.NewHub(config.HubOptions(), binder, s)

	server := vaulthub.NewServer(config, h)
	handlers.Mount(server.Router(), binder, h, s, startTime)
	err = server.Start()
	if err != nil {
		log.Fatalf("Error starting server: %s", err)
	}

	// stop server on signal received
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	log.WithField("signal", <-ch).Info("stopping")
	server.Stop()
}
