package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsutil "github.com/Layr-Labs/eigenx-esign-go/internal/aws"
	"github.com/Layr-Labs/eigenx-esign-go/internal/keySource"
	"github.com/Layr-Labs/eigenx-esign-go/internal/keySource/awsKms"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/auth"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/config"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/directory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink/csvFileSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink/kafkaSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification/httpTransport"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification/smtpTransport"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	otpMemory "github.com/Layr-Labs/eigenx-esign-go/pkg/otp/memory"
	otpRedis "github.com/Layr-Labs/eigenx-esign-go/pkg/otp/redis"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/postgres"
	redisPersistence "github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/server"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/templates"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 15 * time.Second
	jwksRefresh     = 15 * time.Minute
)

func main() {
	app := &cli.App{
		Name:  "esign-server",
		Usage: "Electronic signature evidence server",
		Description: `An HTTP service that records OTP-gated electronic signatures.

This server implements:
- One-time code issuance over Email, SMS and WhatsApp
- Document hashing, HMAC signing and trusted timestamps
- Evidence persistence with a fallback sink
- Evidence lookup and verification endpoints`,
		Version: "1.0.0",
		Flags:   serverFlags(),
		Action:  runESignServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "HTTP server port", EnvVars: []string{config.EnvPort}},
		&cli.BoolFlag{Name: "verbose", Usage: "Enable verbose logging", EnvVars: []string{config.EnvVerbose}},

		&cli.StringFlag{Name: "key-source", Value: string(config.KeySourceEnv), Usage: "Where signing secrets come from: env or aws-kms", EnvVars: []string{config.EnvKeySource}},
		&cli.StringFlag{Name: "signing-key", Usage: "HMAC signing key (key-source=env)", EnvVars: []string{config.EnvSigningKey}},
		&cli.StringFlag{Name: "signing-key-ciphertext", Usage: "Base64 KMS ciphertext of the signing key (key-source=aws-kms)", EnvVars: []string{config.EnvSigningKeyCiphertext}},
		&cli.StringFlag{Name: "authority-key", Usage: "Timestamp authority key; derived from the signing key when empty", EnvVars: []string{config.EnvAuthorityKey}},
		&cli.StringFlag{Name: "timestamp-provider", Value: string(config.TimestampProviderHMAC), Usage: "Timestamp authority: hmac or jws", EnvVars: []string{config.EnvTimestampProvider}},
		&cli.StringFlag{Name: "aws-region", Usage: "AWS region override for KMS", EnvVars: []string{config.EnvAWSRegion}},

		&cli.StringFlag{Name: "jwt-secret", Usage: "Shared secret for HS256 bearer tokens", EnvVars: []string{config.EnvJWTSecret}},
		&cli.StringFlag{Name: "jwks-url", Usage: "JWKS endpoint for RS/ES bearer tokens", EnvVars: []string{config.EnvJWKSURL}},
		&cli.StringFlag{Name: "jwt-issuer", Usage: "Required token issuer", EnvVars: []string{config.EnvJWTIssuer}},
		&cli.StringFlag{Name: "jwt-audience", Usage: "Required token audience", EnvVars: []string{config.EnvJWTAudience}},

		&cli.StringFlag{Name: "persistence-type", Value: persistence.TypeMemory, Usage: "Evidence backend: memory, badger, redis or postgres", EnvVars: []string{config.EnvPersistenceType}},
		&cli.StringFlag{Name: "badger-dir", Usage: "Badger data directory", EnvVars: []string{config.EnvBadgerDir}},
		&cli.StringFlag{Name: "redis-address", Usage: "Redis host:port", EnvVars: []string{config.EnvRedisAddress}},
		&cli.StringFlag{Name: "redis-password", Usage: "Redis password", EnvVars: []string{config.EnvRedisPassword}},
		&cli.IntFlag{Name: "redis-db", Usage: "Redis database number", EnvVars: []string{config.EnvRedisDB}},
		&cli.StringFlag{Name: "redis-key-prefix", Value: "esign:", Usage: "Prefix for every Redis key", EnvVars: []string{config.EnvRedisKeyPrefix}},
		&cli.StringFlag{Name: "postgres-dsn", Usage: "Postgres connection string", EnvVars: []string{config.EnvPostgresDSN}},
		&cli.StringFlag{Name: "duplicate-policy", Value: string(evidenceStore.DuplicatePolicyAllow), Usage: "Second signature for a document: allow or reject", EnvVars: []string{config.EnvDuplicatePolicy}},

		&cli.StringFlag{Name: "otp-store", Value: string(config.OTPStoreMemory), Usage: "One-time code registry: memory or redis", EnvVars: []string{config.EnvOTPStore}},
		&cli.DurationFlag{Name: "otp-ttl", Value: otp.DefaultTTL, Usage: "One-time code lifetime", EnvVars: []string{config.EnvOTPTTL}},

		&cli.StringFlag{Name: "fallback-type", Value: fallbackSink.TypeCSV, Usage: "Fallback sink: csv, kafka or none", EnvVars: []string{config.EnvFallbackType}},
		&cli.StringFlag{Name: "fallback-csv-path", Value: "evidence_fallback.csv", Usage: "Fallback CSV file", EnvVars: []string{config.EnvFallbackCSVPath}},
		&cli.StringSliceFlag{Name: "kafka-brokers", Usage: "Kafka seed brokers", EnvVars: []string{config.EnvKafkaBrokers}},
		&cli.StringFlag{Name: "kafka-topic", Value: kafkaSink.DefaultTopic, Usage: "Kafka fallback topic", EnvVars: []string{config.EnvKafkaTopic}},

		&cli.StringFlag{Name: "template-dir", Usage: "Directory of template documents", EnvVars: []string{config.EnvTemplateDir}},
		&cli.StringSliceFlag{Name: "template-ids", Usage: "Template ids that must be present at startup", EnvVars: []string{config.EnvTemplateIDs}},
		&cli.StringFlag{Name: "directory-file", Usage: "JSON file of signer and sender contacts", EnvVars: []string{config.EnvDirectoryFile}},
		&cli.Int64Flag{Name: "max-document-bytes", Value: signing.DefaultMaxDocumentBytes, Usage: "Largest accepted document", EnvVars: []string{config.EnvMaxDocumentBytes}},
		&cli.Int64Flag{Name: "max-rubric-bytes", Value: signing.DefaultMaxRubricBytes, Usage: "Largest accepted rubric image", EnvVars: []string{config.EnvMaxRubricBytes}},
		&cli.BoolFlag{Name: "dev-log-codes", Usage: "Log undelivered one-time codes at debug level (local development only)", EnvVars: []string{config.EnvDevLogCodes}},
		&cli.DurationFlag{Name: "notify-timeout", Value: signing.DefaultNotifyTimeout, Usage: "Bound on post-signing notices", EnvVars: []string{config.EnvNotifyTimeout}},

		&cli.StringFlag{Name: "smtp-host", Usage: "SMTP relay host; empty leaves email codes undelivered", EnvVars: []string{config.EnvSMTPHost}},
		&cli.IntFlag{Name: "smtp-port", Value: 587, Usage: "SMTP relay port", EnvVars: []string{config.EnvSMTPPort}},
		&cli.StringFlag{Name: "smtp-username", Usage: "SMTP username", EnvVars: []string{config.EnvSMTPUsername}},
		&cli.StringFlag{Name: "smtp-password", Usage: "SMTP password", EnvVars: []string{config.EnvSMTPPassword}},
		&cli.StringFlag{Name: "smtp-from", Usage: "Sender address", EnvVars: []string{config.EnvSMTPFrom}},
		&cli.BoolFlag{Name: "smtp-starttls", Value: true, Usage: "Upgrade SMTP with STARTTLS", EnvVars: []string{config.EnvSMTPStartTLS}},

		&cli.StringFlag{Name: "sms-gateway-url", Usage: "SMS gateway endpoint; empty leaves SMS codes undelivered", EnvVars: []string{config.EnvSMSGatewayURL}},
		&cli.StringFlag{Name: "sms-gateway-token", Usage: "SMS gateway bearer token", EnvVars: []string{config.EnvSMSGatewayToken}},
		&cli.StringFlag{Name: "whatsapp-gateway-url", Usage: "WhatsApp gateway endpoint; empty leaves WhatsApp codes undelivered", EnvVars: []string{config.EnvWhatsAppGatewayURL}},
		&cli.StringFlag{Name: "whatsapp-gateway-token", Usage: "WhatsApp gateway bearer token", EnvVars: []string{config.EnvWhatsAppGatewayToken}},
	}
}

func parseServerConfig(c *cli.Context) *config.ServerConfig {
	return &config.ServerConfig{
		Port:    c.Int("port"),
		Verbose: c.Bool("verbose"),
		Keys: config.KeyConfig{
			Source:               config.KeySourceType(c.String("key-source")),
			SigningKey:           c.String("signing-key"),
			SigningKeyCiphertext: c.String("signing-key-ciphertext"),
			AuthorityKey:         c.String("authority-key"),
			TimestampProvider:    config.TimestampProvider(c.String("timestamp-provider")),
			AWSRegion:            c.String("aws-region"),
		},
		Auth: config.AuthConfig{
			JWTSecret: c.String("jwt-secret"),
			JWKSURL:   c.String("jwks-url"),
			Issuer:    c.String("jwt-issuer"),
			Audience:  c.String("jwt-audience"),
		},
		Persistence: config.PersistenceConfig{
			Type:            c.String("persistence-type"),
			BadgerDir:       c.String("badger-dir"),
			RedisAddress:    c.String("redis-address"),
			RedisPassword:   c.String("redis-password"),
			RedisDB:         c.Int("redis-db"),
			RedisKeyPrefix:  c.String("redis-key-prefix"),
			PostgresDSN:     c.String("postgres-dsn"),
			DuplicatePolicy: c.String("duplicate-policy"),
		},
		OTP: config.OTPConfig{
			Store: config.OTPStoreType(c.String("otp-store")),
			TTL:   c.Duration("otp-ttl"),
		},
		Fallback: config.FallbackConfig{
			Type:         c.String("fallback-type"),
			CSVPath:      c.String("fallback-csv-path"),
			KafkaBrokers: c.StringSlice("kafka-brokers"),
			KafkaTopic:   c.String("kafka-topic"),
		},
		Notification: config.NotificationConfig{
			SMTP: config.SMTPConfig{
				Host:     c.String("smtp-host"),
				Port:     c.Int("smtp-port"),
				Username: c.String("smtp-username"),
				Password: c.String("smtp-password"),
				From:     c.String("smtp-from"),
				StartTLS: c.Bool("smtp-starttls"),
			},
			SMS:         config.GatewayConfig{URL: c.String("sms-gateway-url"), Token: c.String("sms-gateway-token")},
			WhatsApp:    config.GatewayConfig{URL: c.String("whatsapp-gateway-url"), Token: c.String("whatsapp-gateway-token")},
			Timeout:     c.Duration("notify-timeout"),
			DevLogCodes: c.Bool("dev-log-codes"),
		},
		Documents: config.DocumentsConfig{
			TemplateDir:      c.String("template-dir"),
			TemplateIDs:      c.StringSlice("template-ids"),
			DirectoryFile:    c.String("directory-file"),
			MaxDocumentBytes: c.Int64("max-document-bytes"),
			MaxRubricBytes:   c.Int64("max-rubric-bytes"),
		},
	}
}

func runESignServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseServerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	keys, err := resolveKeys(ctx, cfg, l)
	if err != nil {
		return err
	}
	signer, err := crypto.NewSignatureEngine(keys.SigningKey)
	if err != nil {
		return fmt.Errorf("failed to create signature engine: %w", err)
	}
	authority, err := newAuthority(cfg.Keys.TimestampProvider, keys.AuthorityKey)
	if err != nil {
		return err
	}

	primary, redisClient, err := newPrimary(ctx, cfg.Persistence, l)
	if err != nil {
		return err
	}
	sink, err := newFallback(cfg.Fallback, l)
	if err != nil {
		_ = primary.Close()
		return err
	}
	policy, _ := evidenceStore.ParseDuplicatePolicy(cfg.Persistence.DuplicatePolicy)
	store := evidenceStore.NewEvidenceStore(primary, sink, evidenceStore.Config{DuplicatePolicy: policy}, l, m)
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close evidence store", "error", err)
		}
	}()

	registry, err := newRegistry(ctx, cfg, redisClient, l)
	if err != nil {
		return err
	}

	repo, err := newTemplates(cfg.Documents)
	if err != nil {
		return err
	}
	dir, err := newDirectory(cfg.Documents.DirectoryFile)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(ctx, cfg.Auth, l)
	if err != nil {
		return err
	}

	svc, err := signing.NewService(signing.Dependencies{
		Identity:  identity.NewCPFValidator(),
		Registry:  registry,
		Channel:   newChannel(cfg.Notification, l, m),
		Templates: repo,
		Users:     dir,
		Documents: dir,
		Store:     store,
		Hasher:    crypto.SHA256Hasher{},
		Signer:    signer,
		Authority: authority,
	}, signing.Config{
		MaxDocumentBytes: cfg.Documents.MaxDocumentBytes,
		MaxRubricBytes:   cfg.Documents.MaxRubricBytes,
		NotifyTimeout:    cfg.Notification.Timeout,
	}, l, m)
	if err != nil {
		return fmt.Errorf("failed to create signing service: %w", err)
	}

	srv := server.NewServer(server.Config{
		Port:         cfg.Port,
		MaxBodyBytes: cfg.Documents.MaxDocumentBytes + cfg.Documents.MaxRubricBytes + (1 << 20),
	}, svc, verifier, store, m, l)

	l.Sugar().Infow("Starting esign server",
		"port", cfg.Port,
		"persistence", cfg.Persistence.Type,
		"otp_store", cfg.OTP.Store,
		"fallback", cfg.Fallback.Type,
		"timestamp_provider", authority.Provider(),
		"duplicate_policy", policy,
		"templates", repo.IDs(),
	)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Available endpoints",
		"otp", "POST /v1/otp",
		"sign", "POST /v1/documents/sign",
		"evidence", "GET /v1/evidence/{term}",
		"verify", "GET /v1/evidence/{id}/verify")

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		l.Sugar().Warnw("Server shutdown did not complete", "error", err)
	}
	svc.Wait()
	return nil
}

func resolveKeys(ctx context.Context, cfg *config.ServerConfig, l *zap.Logger) (*keySource.Keys, error) {
	var src keySource.IKeySource
	switch cfg.Keys.Source {
	case config.KeySourceAWSKMS:
		awsCfg, err := awsutil.LoadAWSConfig(ctx, cfg.Keys.AWSRegion)
		if err != nil {
			return nil, err
		}
		if err := awsutil.LogCallerIdentity(ctx, awsCfg, l); err != nil {
			l.Sugar().Warnw("Could not determine AWS caller identity", "error", err)
		}
		src = awsKms.NewAWSKMSKeySource(awsCfg, cfg.Keys.SigningKeyCiphertext, "", l)
	default:
		src = keySource.NewStaticKeySource(cfg.Keys.SigningKey, cfg.Keys.AuthorityKey)
	}

	keys, err := src.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing keys: %w", err)
	}
	if cfg.Keys.Source == config.KeySourceAWSKMS && cfg.Keys.AuthorityKey != "" {
		keys.AuthorityKey = []byte(cfg.Keys.AuthorityKey)
	}
	return keys, nil
}

func newAuthority(provider config.TimestampProvider, key []byte) (timestamp.Authority, error) {
	switch provider {
	case config.TimestampProviderJWS:
		a, err := timestamp.NewJWSAuthority(key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create jws timestamp authority: %w", err)
		}
		return a, nil
	default:
		a, err := timestamp.NewHMACAuthority(key, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create hmac timestamp authority: %w", err)
		}
		return a, nil
	}
}

// newPrimary opens the evidence backend. The redis client is returned so the
// one-time code registry can share the connection.
func newPrimary(ctx context.Context, cfg config.PersistenceConfig, l *zap.Logger) (persistence.IEvidencePersistence, *redis.Client, error) {
	switch cfg.Type {
	case persistence.TypeBadger:
		p, err := badger.NewBadgerPersistence(cfg.BadgerDir, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger persistence: %w", err)
		}
		return p, nil, nil
	case persistence.TypeRedis:
		p, err := redisPersistence.NewRedisPersistence(&redisPersistence.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis persistence: %w", err)
		}
		return p, p.Client(), nil
	case persistence.TypePostgres:
		p, err := postgres.NewPostgresPersistence(ctx, &postgres.PostgresConfig{DSN: cfg.PostgresDSN}, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}
		return p, nil, nil
	default:
		l.Sugar().Warnw("Using in-memory persistence; evidence is lost on restart")
		return memory.NewMemoryPersistence(l), nil, nil
	}
}

func newFallback(cfg config.FallbackConfig, l *zap.Logger) (fallbackSink.IFallbackSink, error) {
	switch cfg.Type {
	case fallbackSink.TypeKafka:
		s, err := kafkaSink.NewKafkaSink(&kafkaSink.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka fallback sink: %w", err)
		}
		return s, nil
	case fallbackSink.TypeCSV:
		s, err := csvFileSink.NewCSVFileSink(cfg.CSVPath, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create csv fallback sink: %w", err)
		}
		return s, nil
	default:
		l.Sugar().Warnw("No fallback sink configured; primary write failures lose evidence")
		return nil, nil
	}
}

func newRegistry(ctx context.Context, cfg *config.ServerConfig, shared *redis.Client, l *zap.Logger) (otp.Registry, error) {
	otpCfg := otp.Config{TTL: cfg.OTP.TTL}
	if cfg.OTP.Store == config.OTPStoreRedis {
		client := shared
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Persistence.RedisAddress,
				Password: cfg.Persistence.RedisPassword,
				DB:       cfg.Persistence.RedisDB,
			})
			go func() {
				<-ctx.Done()
				_ = client.Close()
			}()
		}
		r, err := otpRedis.NewRedisRegistry(client, cfg.Persistence.RedisKeyPrefix+"otp:", otpCfg, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis otp registry: %w", err)
		}
		return r, nil
	}

	r := otpMemory.NewMemoryRegistry(otpCfg, l)
	go r.RunJanitor(ctx, janitorInterval)
	return r, nil
}

func newTemplates(cfg config.DocumentsConfig) (templates.Repository, error) {
	if cfg.TemplateDir == "" {
		return templates.NewStaticRepository(), nil
	}
	repo, err := templates.LoadDirectory(cfg.TemplateDir, cfg.TemplateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return repo, nil
}

func newDirectory(path string) (*directory.StaticDirectory, error) {
	if path == "" {
		return directory.NewStaticDirectory(nil, nil), nil
	}
	dir, err := directory.LoadStaticDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact directory: %w", err)
	}
	return dir, nil
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, l *zap.Logger) (auth.Verifier, error) {
	authCfg := auth.Config{Issuer: cfg.Issuer, Audience: cfg.Audience}
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, jwksRefresh, authCfg, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create jwks verifier: %w", err)
		}
		return v, nil
	}
	v, err := auth.NewHMACVerifier([]byte(cfg.JWTSecret), authCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create hmac verifier: %w", err)
	}
	return v, nil
}

// newChannel routes every method to a real transport when configured. A method
// without one falls back to a LogTransport: requests still succeed but nothing
// is delivered, and bodies appear in the output only with DevLogCodes.
func newChannel(cfg config.NotificationConfig, l *zap.Logger, m *metrics.Metrics) notification.Channel {
	d := notification.NewDispatcher(l, m)

	logFallback := func(method notification.Method, name string) notification.Transport {
		l.Sugar().Warnw("No delivery transport configured; one-time codes for this method are not delivered",
			"method", string(method),
			"transport", name,
			"dev_log_codes", cfg.DevLogCodes,
		)
		lt := notification.NewLogTransport(name, l)
		if cfg.DevLogCodes {
			lt = lt.WithBodies()
		}
		return lt
	}
	gatewayClient := transport.NewClient(transport.ClientConfig{Timeout: 10 * time.Second, RatePerSecond: 20, Burst: 5})

	route := func(t notification.Transport) *notification.Route {
		return &notification.Route{
			Transport: t,
			Retry:     transport.DefaultRetryConfig,
			Limiter:   rate.NewLimiter(rate.Limit(10), 10),
			Timeout:   cfg.Timeout,
		}
	}

	var email notification.Transport
	if cfg.SMTP.Host != "" {
		t, err := smtpTransport.NewSMTPTransport(smtpTransport.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			StartTLS: cfg.SMTP.StartTLS,
		})
		if err != nil {
			l.Sugar().Warnw("SMTP transport unavailable", "error", err)
		} else {
			email = t
		}
	}
	if email == nil {
		email = logFallback(notification.MethodEmail, "email-log")
	}
	d.Register(notification.MethodEmail, route(email))

	gateways := []struct {
		method  notification.Method
		channel string
		gw      config.GatewayConfig
	}{
		{notification.MethodSMS, "sms", cfg.SMS},
		{notification.MethodWhatsApp, "whatsapp", cfg.WhatsApp},
	}
	for _, g := range gateways {
		var t notification.Transport
		if g.gw.URL != "" {
			ht, err := httpTransport.NewHTTPTransport(httpTransport.HTTPConfig{
				Name:    g.channel + "-gateway",
				URL:     g.gw.URL,
				Token:   g.gw.Token,
				Channel: g.channel,
			}, gatewayClient)
			if err != nil {
				l.Sugar().Warnw("Gateway transport unavailable", "method", g.method, "error", err)
			} else {
				t = ht
			}
		}
		if t == nil {
			t = logFallback(g.method, g.channel+"-log")
		}
		d.Register(g.method, route(t))
	}
	return d
}
