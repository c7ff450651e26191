package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const DefaultPath = "configs/keyshop.yaml"

type Config struct {
	Service   string          `yaml:"service" validate:"required"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Inventory InventoryConfig `yaml:"inventory"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Lock      LockConfig      `yaml:"lock"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Workers   WorkersConfig   `yaml:"workers"`
	Catalog   []ProductConfig `yaml:"catalog" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

type InventoryConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis"`
}

type GatewayConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=stripe redis memory"`
	Stripe  StripeConfig `yaml:"stripe"`
}

type StripeConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	SecretKey string        `yaml:"secret_key"`
	ReturnURL string        `yaml:"return_url"`
	Currency  string        `yaml:"currency" validate:"omitempty,len=3"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LockConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=local redis"`
	Expiry     time.Duration `yaml:"expiry"`
	Tries      int           `yaml:"tries" validate:"gte=1"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" validate:"gte=1"`
}

// MySQLConfig enables the claim ledger when DSN is set.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// KafkaConfig enables claim event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" validate:"required"`
}

type WorkersConfig struct {
	Count      int           `yaml:"count" validate:"gte=1"`
	QueueSize  int           `yaml:"queue_size" validate:"gte=1"`
	Retries    int           `yaml:"retries" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ProductConfig is one catalog entry and the source of its keys: inline
// Keys, else KeysFile, else Stock generated keys.
type ProductConfig struct {
	ID          string   `yaml:"id" validate:"required,excludesall=:0x2C"`
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Duration    string   `yaml:"duration"`
	PriceCents  int64    `yaml:"price_cents" validate:"gt=0"`
	KeyPrefix   string   `yaml:"key_prefix"`
	Stock       int      `yaml:"stock" validate:"gte=0"`
	KeysFile    string   `yaml:"keys_file"`
	Keys        []string `yaml:"keys"`
}

func Default() *Config {
	return &Config{
		Service: "keyshop",
		Log:     LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC:      GRPCConfig{Enabled: true, Addr: ":50051"},
		Inventory: InventoryConfig{Backend: "memory"},
		Gateway: GatewayConfig{
			Backend: "memory",
			Stripe: StripeConfig{
				BaseURL:  "https://api.stripe.com",
				Currency: "usd",
				Timeout:  10 * time.Second,
			},
		},
		Lock: LockConfig{
			Backend:    "local",
			Expiry:     30 * time.Second,
			Tries:      64,
			RetryDelay: 100 * time.Millisecond,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 100},
		MySQL: MySQLConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{Topic: "license-keys.claimed"},
		Workers: WorkersConfig{
			Count:      10,
			QueueSize:  10000,
			Retries:    3,
			RetryDelay: 200 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	set("HTTP_ADDR", &c.HTTP.Addr)
	set("GRPC_ADDR", &c.GRPC.Addr)
	set("REDIS_ADDR", &c.Redis.Addr)
	set("MYSQL_DSN", &c.MySQL.DSN)
	set("STRIPE_SECRET_KEY", &c.Gateway.Stripe.SecretKey)
	set("STRIPE_BASE_URL", &c.Gateway.Stripe.BaseURL)
	set("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Catalog))
	for _, p := range c.Catalog {
		if seen[p.ID] {
			return fmt.Errorf("invalid config: duplicate product %s", p.ID)
		}
		seen[p.ID] = true
	}

	if c.Gateway.Backend == "stripe" && c.Gateway.Stripe.SecretKey == "" {
		return errors.New("invalid config: stripe gateway requires a secret key")
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("invalid config: redis address required")
	}
	if c.Lock.Backend == "redis" {
		if held := c.maxClaimDuration(); c.Lock.Expiry <= held {
			return fmt.Errorf("invalid config: lock expiry %s must exceed the longest claim (%s)", c.Lock.Expiry, held)
		}
	}
	return nil
}

// maxClaimDuration is how long one claim can hold the session lock: the
// session read under the lock plus the detached mutation window.
func (c *Config) maxClaimDuration() time.Duration {
	held := domain.ClaimMutationTimeout
	if c.Gateway.Backend == "stripe" {
		held += c.Gateway.Stripe.Timeout
	}
	return held
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Inventory.Backend == "redis" || c.Gateway.Backend == "redis" || c.Lock.Backend == "redis"
}
