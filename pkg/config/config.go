package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the esign server configuration
const (
	EnvPort    = "ESIGN_PORT"
	EnvVerbose = "ESIGN_VERBOSE"

	EnvKeySource            = "ESIGN_KEY_SOURCE"
	EnvSigningKey           = "ESIGN_SIGNING_KEY"
	EnvSigningKeyCiphertext = "ESIGN_SIGNING_KEY_CIPHERTEXT"
	EnvAuthorityKey         = "ESIGN_AUTHORITY_KEY"
	EnvTimestampProvider    = "ESIGN_TIMESTAMP_PROVIDER"
	EnvAWSRegion            = "ESIGN_AWS_REGION"

	EnvJWTSecret   = "ESIGN_JWT_SECRET"
	EnvJWKSURL     = "ESIGN_JWKS_URL"
	EnvJWTIssuer   = "ESIGN_JWT_ISSUER"
	EnvJWTAudience = "ESIGN_JWT_AUDIENCE"

	EnvPersistenceType = "ESIGN_PERSISTENCE_TYPE"
	EnvBadgerDir       = "ESIGN_BADGER_DIR"
	EnvRedisAddress    = "ESIGN_REDIS_ADDRESS"
	EnvRedisPassword   = "ESIGN_REDIS_PASSWORD"
	EnvRedisDB         = "ESIGN_REDIS_DB"
	EnvRedisKeyPrefix  = "ESIGN_REDIS_KEY_PREFIX"
	EnvPostgresDSN     = "ESIGN_POSTGRES_DSN"
	EnvDuplicatePolicy = "ESIGN_DUPLICATE_POLICY"

	EnvOTPStore = "ESIGN_OTP_STORE"
	EnvOTPTTL   = "ESIGN_OTP_TTL"

	EnvFallbackType    = "ESIGN_FALLBACK_TYPE"
	EnvFallbackCSVPath = "ESIGN_FALLBACK_CSV_PATH"
	EnvKafkaBrokers    = "ESIGN_KAFKA_BROKERS"
	EnvKafkaTopic      = "ESIGN_KAFKA_TOPIC"

	EnvTemplateDir      = "ESIGN_TEMPLATE_DIR"
	EnvTemplateIDs      = "ESIGN_TEMPLATE_IDS"
	EnvDirectoryFile    = "ESIGN_DIRECTORY_FILE"
	EnvMaxDocumentBytes = "ESIGN_MAX_DOCUMENT_BYTES"
	EnvMaxRubricBytes   = "ESIGN_MAX_RUBRIC_BYTES"
	EnvNotifyTimeout    = "ESIGN_NOTIFY_TIMEOUT"
	EnvDevLogCodes      = "ESIGN_DEV_LOG_CODES"

	EnvSMTPHost     = "ESIGN_SMTP_HOST"
	EnvSMTPPort     = "ESIGN_SMTP_PORT"
	EnvSMTPUsername = "ESIGN_SMTP_USERNAME"
	EnvSMTPPassword = "ESIGN_SMTP_PASSWORD"
	EnvSMTPFrom     = "ESIGN_SMTP_FROM"
	EnvSMTPStartTLS = "ESIGN_SMTP_STARTTLS"

	EnvSMSGatewayURL        = "ESIGN_SMS_GATEWAY_URL"
	EnvSMSGatewayToken      = "ESIGN_SMS_GATEWAY_TOKEN"
	EnvWhatsAppGatewayURL   = "ESIGN_WHATSAPP_GATEWAY_URL"
	EnvWhatsAppGatewayToken = "ESIGN_WHATSAPP_GATEWAY_TOKEN"

	// client
	EnvServerURL = "ESIGN_SERVER_URL"
	EnvToken     = "ESIGN_TOKEN"
)

// KeySourceType selects where secrets are read from
type KeySourceType string

const (
	KeySourceEnv    KeySourceType = "env"
	KeySourceAWSKMS KeySourceType = "aws-kms"
)

// TimestampProvider selects the timestamp authority implementation
type TimestampProvider string

const (
	TimestampProviderHMAC TimestampProvider = "hmac"
	TimestampProviderJWS  TimestampProvider = "jws"
)

// OTPStoreType selects the one-time code registry
type OTPStoreType string

const (
	OTPStoreMemory OTPStoreType = "memory"
	OTPStoreRedis  OTPStoreType = "redis"
)

// KeyConfig holds the signing secrets and how to obtain them
type KeyConfig struct {
	Source KeySourceType `json:"source"`
	// SigningKey is used as-is when Source is env
	SigningKey string `json:"-"`
	// SigningKeyCiphertext is a base64 KMS ciphertext when Source is aws-kms
	SigningKeyCiphertext string `json:"-"`
	// AuthorityKey is optional; derived from SigningKey when empty
	AuthorityKey      string            `json:"-"`
	TimestampProvider TimestampProvider `json:"timestamp_provider"`
	AWSRegion         string            `json:"aws_region"`
}

// AuthConfig selects how bearer tokens are verified
type AuthConfig struct {
	JWTSecret string `json:"-"`
	JWKSURL   string `json:"jwks_url"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
}

// PersistenceConfig selects the primary evidence backend
type PersistenceConfig struct {
	Type            string `json:"type"`
	BadgerDir       string `json:"badger_dir"`
	RedisAddress    string `json:"redis_address"`
	RedisPassword   string `json:"-"`
	RedisDB         int    `json:"redis_db"`
	RedisKeyPrefix  string `json:"redis_key_prefix"`
	PostgresDSN     string `json:"-"`
	DuplicatePolicy string `json:"duplicate_policy"`
}

// OTPConfig selects the one-time code registry
type OTPConfig struct {
	Store OTPStoreType  `json:"store"`
	TTL   time.Duration `json:"ttl"`
}

// FallbackConfig selects the sink written when the primary store fails
type FallbackConfig struct {
	Type         string   `json:"type"`
	CSVPath      string   `json:"csv_path"`
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
}

// SMTPConfig configures Email delivery. Empty Host logs messages instead.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	StartTLS bool   `json:"starttls"`
}

// GatewayConfig configures an HTTP messaging gateway. Empty URL logs messages instead.
type GatewayConfig struct {
	URL   string `json:"url"`
	Token string `json:"-"`
}

// NotificationConfig configures every delivery method
type NotificationConfig struct {
	SMTP     SMTPConfig    `json:"smtp"`
	SMS      GatewayConfig `json:"sms"`
	WhatsApp GatewayConfig `json:"whatsapp"`
	Timeout  time.Duration `json:"timeout"`

	// DevLogCodes logs undelivered message bodies, one-time codes included,
	// at debug level for methods with no transport configured.
	DevLogCodes bool `json:"dev_log_codes"`
}

// DocumentsConfig locates templates and contact directories and bounds uploads
type DocumentsConfig struct {
	TemplateDir      string   `json:"template_dir"`
	TemplateIDs      []string `json:"template_ids"`
	DirectoryFile    string   `json:"directory_file"`
	MaxDocumentBytes int64    `json:"max_document_bytes"`
	MaxRubricBytes   int64    `json:"max_rubric_bytes"`
}

// ServerConfig represents the complete configuration for an esign server
type ServerConfig struct {
	Port    int  `json:"port"`
	Verbose bool `json:"verbose"`

	Keys         KeyConfig          `json:"keys"`
	Auth         AuthConfig         `json:"auth"`
	Persistence  PersistenceConfig  `json:"persistence"`
	OTP          OTPConfig          `json:"otp"`
	Fallback     FallbackConfig     `json:"fallback"`
	Notification NotificationConfig `json:"notification"`
	Documents    DocumentsConfig    `json:"documents"`
}

// Validate collects every configuration problem into one aggregate error
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	allErrors = append(allErrors, c.Keys.validate(field.NewPath("keys"))...)
	allErrors = append(allErrors, c.Auth.validate(field.NewPath("auth"))...)
	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.OTP.validate(field.NewPath("otp"), c.Persistence)...)
	allErrors = append(allErrors, c.Fallback.validate(field.NewPath("fallback"))...)
	allErrors = append(allErrors, c.Notification.validate(field.NewPath("notification"))...)
	allErrors = append(allErrors, c.Documents.validate(field.NewPath("documents"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (k KeyConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch k.Source {
	case KeySourceEnv:
		if k.SigningKey == "" {
			errs = append(errs, field.Required(path.Child("signingKey"), "signing key is required; there is no default"))
		} else if len(k.SigningKey) < crypto.MinSigningKeyLength {
			errs = append(errs, field.Invalid(path.Child("signingKey"), "<redacted>",
				fmt.Sprintf("must be at least %d bytes", crypto.MinSigningKeyLength)))
		}
	case KeySourceAWSKMS:
		if k.SigningKeyCiphertext == "" {
			errs = append(errs, field.Required(path.Child("signingKeyCiphertext"), "ciphertext is required for aws-kms"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("source"), k.Source,
			[]string{string(KeySourceEnv), string(KeySourceAWSKMS)}))
	}

	switch k.TimestampProvider {
	case TimestampProviderHMAC, TimestampProviderJWS:
	default:
		errs = append(errs, field.NotSupported(path.Child("timestampProvider"), k.TimestampProvider,
			[]string{string(TimestampProviderHMAC), string(TimestampProviderJWS)}))
	}
	return errs
}

func (a AuthConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch {
	case a.JWTSecret == "" && a.JWKSURL == "":
		errs = append(errs, field.Required(path, "one of jwtSecret or jwksUrl is required"))
	case a.JWTSecret != "" && a.JWKSURL != "":
		errs = append(errs, field.Forbidden(path.Child("jwksUrl"), "cannot be combined with jwtSecret"))
	case a.JWKSURL != "":
		if u, err := url.ParseRequestURI(a.JWKSURL); err != nil || u.Host == "" {
			errs = append(errs, field.Invalid(path.Child("jwksUrl"), a.JWKSURL, "must be an absolute URL"))
		}
	}
	return errs
}

func (p PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch p.Type {
	case persistence.TypeMemory:
	case persistence.TypeBadger:
		if p.BadgerDir == "" {
			errs = append(errs, field.Required(path.Child("badgerDir"), "required for badger persistence"))
		}
	case persistence.TypeRedis:
		if p.RedisAddress == "" {
			errs = append(errs, field.Required(path.Child("redisAddress"), "required for redis persistence"))
		}
	case persistence.TypePostgres:
		if p.PostgresDSN == "" {
			errs = append(errs, field.Required(path.Child("postgresDsn"), "required for postgres persistence"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("type"), p.Type,
			[]string{persistence.TypeMemory, persistence.TypeBadger, persistence.TypeRedis, persistence.TypePostgres}))
	}

	if _, err := evidenceStore.ParseDuplicatePolicy(p.DuplicatePolicy); err != nil {
		errs = append(errs, field.NotSupported(path.Child("duplicatePolicy"), p.DuplicatePolicy,
			[]string{string(evidenceStore.DuplicatePolicyAllow), string(evidenceStore.DuplicatePolicyReject)}))
	}
	return errs
}

func (o OTPConfig) validate(path *field.Path, p PersistenceConfig) field.ErrorList {
	var errs field.ErrorList
	switch o.Store {
	case OTPStoreMemory:
	case OTPStoreRedis:
		if p.RedisAddress == "" {
			errs = append(errs, field.Required(field.NewPath("persistence", "redisAddress"), "required for the redis otp store"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("store"), o.Store,
			[]string{string(OTPStoreMemory), string(OTPStoreRedis)}))
	}
	if o.TTL < time.Minute || o.TTL > 24*time.Hour {
		errs = append(errs, field.Invalid(path.Child("ttl"), o.TTL.String(), "must be between 1m and 24h"))
	}
	return errs
}

func (f FallbackConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch f.Type {
	case fallbackSink.TypeNone:
	case fallbackSink.TypeCSV:
		if f.CSVPath == "" {
			errs = append(errs, field.Required(path.Child("csvPath"), "required for csv fallback"))
		}
	case fallbackSink.TypeKafka:
		if len(f.KafkaBrokers) == 0 {
			errs = append(errs, field.Required(path.Child("kafkaBrokers"), "required for kafka fallback"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("type"), f.Type,
			[]string{fallbackSink.TypeNone, fallbackSink.TypeCSV, fallbackSink.TypeKafka}))
	}
	return errs
}

func (n NotificationConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if n.SMTP.Host != "" {
		if n.SMTP.From == "" {
			errs = append(errs, field.Required(path.Child("smtp", "from"), "required when smtp host is set"))
		}
		if n.SMTP.Port < 1 || n.SMTP.Port > 65535 {
			errs = append(errs, field.Invalid(path.Child("smtp", "port"), n.SMTP.Port, "must be between 1-65535"))
		}
	}
	for name, gw := range map[string]GatewayConfig{"sms": n.SMS, "whatsapp": n.WhatsApp} {
		if gw.URL == "" {
			continue
		}
		if u, err := url.ParseRequestURI(gw.URL); err != nil || u.Host == "" {
			errs = append(errs, field.Invalid(path.Child(name, "url"), gw.URL, "must be an absolute URL"))
		}
	}
	if n.Timeout <= 0 {
		errs = append(errs, field.Invalid(path.Child("timeout"), n.Timeout.String(), "must be positive"))
	}
	return errs
}

func (d DocumentsConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if d.TemplateDir == "" && len(d.TemplateIDs) > 0 {
		errs = append(errs, field.Required(path.Child("templateDir"), "required when template ids are listed"))
	}
	if d.MaxDocumentBytes <= 0 {
		errs = append(errs, field.Invalid(path.Child("maxDocumentBytes"), d.MaxDocumentBytes, "must be positive"))
	}
	if d.MaxRubricBytes <= 0 {
		errs = append(errs, field.Invalid(path.Child("maxRubricBytes"), d.MaxRubricBytes, "must be positive"))
	}
	return errs
}
