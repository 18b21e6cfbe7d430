package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/api"
	"boardsync/client"
	"boardsync/config"
	"boardsync/identity"
	"boardsync/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	rc := redis.NewClient(redisOptions(cfg.RedisConnectionString))
	defer rc.Close()
	deduper := api.NewRedisDeduper(rc, cfg.DeduperTTL)

	var (
		verifier *identity.Verifier
		provider identity.Provider
	)
	switch cfg.AuthMode {
	case config.AuthModeJWKS:
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		verifier = identity.NewJWKSVerifier(jwks, cfg.Audience, cfg.Issuer, cfg.JWKSCacheTTL)
	default:
		secret := []byte(cfg.LocalSecret)
		verifier = identity.NewLocalVerifier(secret, cfg.Audience, cfg.Issuer)
		otp, err := identity.NewOTPProvider(rc, identity.LogSender{Logger: logger}, identity.OTPConfig{
			Length:       cfg.OTPLength,
			TTL:          cfg.OTPTTL,
			MaxAttempts:  cfg.OTPMaxAttempts,
			SendInterval: cfg.OTPSendInterval,
			SendBurst:    cfg.OTPSendBurst,
			Secret:       secret,
			Issuer:       cfg.Issuer,
			Audience:     cfg.Audience,
		}, logger)
		if err != nil {
			logger.Fatalf("otp: %v", err)
		}
		provider = otp
	}

	registry := api.NewRegistry(func(sess *identity.Session) (*store.Store, error) {
		c, err := client.New(cfg.BackendURL,
			client.WithTokenSource(sess),
			client.WithTimeout(cfg.HTTPTimeout),
			client.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return store.New(c, sess, store.WithLogger(logger)), nil
	}, logger)
	defer registry.Close()

	e := api.NewServer(api.Options{
		Registry: registry,
		Verifier: verifier,
		Provider: provider,
		Deduper:  deduper,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go registry.EvictIdle(ctx, cfg.SessionSweepInterval, cfg.SessionIdleTTL)

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "auth_mode": cfg.AuthMode}).Info("gateway.listening")
		if err := e.Start(cfg.ListenAddr); err != nil {
			logger.WithError(err).Info("gateway.stopped")
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("gateway.shutdown.failed")
	}
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form used by managed Redis connection strings.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
