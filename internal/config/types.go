package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON keeps secrets out of JSON logs and dumps
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Duration accepts Go duration strings ("5s") or bare integers as seconds,
// the form IDENTITY_PROVIDER_TIMEOUT has always used.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return d.UnmarshalText([]byte(n.String()))
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Platform selects the identity provider flavour. It is resolved once at
// startup and never changes for the life of the process.
type Platform string

const (
	PlatformGoogle Platform = "google"
	PlatformLocal  Platform = "local"
)

// StorageKind selects the State Store backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
	StorageDatastore StorageKind = "datastore"
	StorageRedis     StorageKind = "redis"
	StorageDynamoDB  StorageKind = "dynamodb"
	StoragePostgres  StorageKind = "postgres"
)

// StorageConfig configures the State Store backend. Table names the
// DynamoDB table, Firestore collection, Datastore kind, Postgres table or
// Redis key prefix depending on Kind.
type StorageConfig struct {
	Kind             StorageKind `json:"kind" env:"STORAGE_KIND" envDefault:"memory" validate:"required,oneof=memory firestore datastore redis dynamodb postgres"`
	Table            string      `json:"table" env:"AUTH_TABLE"`
	TTL              Duration    `json:"ttl" env:"STATE_TTL"`
	DynamoDBLocalURL string      `json:"dynamodbLocalUrl" env:"DYNAMODB_LOCAL_URL" validate:"omitempty,url"`
	Region           string      `json:"region" env:"AWS_REGION"`
	ProjectID        string      `json:"projectId" env:"GCP_PROJECT"`
	Database         string      `json:"database" env:"FIRESTORE_DATABASE"`
	Namespace        string      `json:"namespace" env:"DATASTORE_NAMESPACE"`
	RedisAddr        string      `json:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword    Secret      `json:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB          int         `json:"redisDb" env:"REDIS_DB"`
	PostgresDSN      Secret      `json:"postgresDsn" env:"POSTGRES_DSN"`
}

// Config is the complete relay configuration
type Config struct {
	Platform                  Platform      `json:"platform" env:"PLATFORM" envDefault:"google" validate:"required,oneof=google local"`
	Stage                     string        `json:"stage" env:"STAGE" validate:"required"`
	Addr                      string        `json:"addr" env:"ADDR" envDefault:":8080" validate:"required"`
	BackendURL                string        `json:"backendUrl" env:"BACKEND_URL" validate:"required,url"`
	PrivateKey                Secret        `json:"privateKey" env:"PRIVATE_KEY" validate:"required"`
	AuthenticationRoutePrefix string        `json:"authenticationRoutePrefix" env:"AUTHENTICATION_ROUTE_PREFIX" envDefault:"auth" validate:"required"`
	AuthorizationRoutePrefix  string        `json:"authorizationRoutePrefix" env:"AUTHORIZATION_ROUTE_PREFIX" envDefault:"authorization"`
	AuthorizationServerURL    string        `json:"authorizationServerUrl" env:"AUTHORIZATION_SERVER_URL" validate:"omitempty,url"`
	ClientID                  string        `json:"clientId" env:"CLIENT_ID" validate:"required"`
	ClientSecret              Secret        `json:"clientSecret" env:"CLIENT_SECRET" validate:"required"`
	LogLevel                  string        `json:"logLevel" env:"LOG_LEVEL" envDefault:"info"`
	IdentityProviderURL       string        `json:"identityProviderUrl" env:"IDENTITY_PROVIDER_URL" validate:"required,url"`
	IdentityProviderTimeout   Duration      `json:"identityProviderTimeout" env:"IDENTITY_PROVIDER_TIMEOUT" envDefault:"5s"`
	AllowedOrigins            []string      `json:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
	Storage                   StorageConfig `json:"storage"`
}

const (
	DefaultAddr                    = ":8080"
	DefaultAuthenticationPrefix    = "auth"
	DefaultAuthorizationPrefix     = "authorization"
	DefaultIdentityProviderTimeout = 5 * time.Second
	DefaultLogLevel                = "info"
	DefaultDynamoDBTable           = "authentication"
	DefaultStateCollection         = "auth_states"
	DefaultRedisKeyPrefix          = "auth-relay:state:"
)

// ApplyDefaults fills fields left empty by a config file. Env loading gets
// the same values from envDefault tags.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformGoogle
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.AuthenticationRoutePrefix == "" {
		c.AuthenticationRoutePrefix = DefaultAuthenticationPrefix
	}
	if c.AuthorizationRoutePrefix == "" {
		c.AuthorizationRoutePrefix = DefaultAuthorizationPrefix
	}
	if c.IdentityProviderTimeout == 0 {
		c.IdentityProviderTimeout = Duration(DefaultIdentityProviderTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageMemory
	}
}

// RedirectURIPrefix is the base every OAuth redirect URI is built from:
// {backendUrl}/{authenticationRoutePrefix}
func (c *Config) RedirectURIPrefix() string {
	return strings.TrimSuffix(c.BackendURL, "/") + "/" + strings.Trim(c.AuthenticationRoutePrefix, "/")
}
