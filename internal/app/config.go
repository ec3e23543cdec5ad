package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (STREAMSHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STREAMSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	Cart         CartConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	MercadoPago  MercadoPagoConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CartConfig selects the cart store.
type CartConfig struct {
	Store string `default:"postgres" usage:"Cart store: postgres or mongo"`
}

// MongoConfig configures the MongoDB cart store.
type MongoConfig struct {
	URI      string `default:"mongodb://localhost:27017" usage:"MongoDB connection URI"`
	Database string `default:"streamshop" usage:"MongoDB database name"`
}

// RedisConfig enables the cart cache and the shared rate limiter when URL
// is set.
type RedisConfig struct {
	URL      string        `usage:"Redis URL (STREAMSHOP_REDIS_URL or REDIS_URL); empty disables Redis"`
	CartTTL  time.Duration `default:"15m" usage:"Cart cache entry lifetime"`
	RateKeys bool          `default:"true" usage:"Keep rate limit windows in Redis"`
}

// MercadoPagoConfig configures the payment processor. Without an access
// token payments run in mock mode.
type MercadoPagoConfig struct {
	AccessToken     string        `usage:"Processor access token (STREAMSHOP_MERCADOPAGO_ACCESS_TOKEN or MERCADOPAGO_ACCESS_TOKEN)"`
	PublicKey       string        `default:"" usage:"Processor public key handed to clients"`
	WebhookSecret   string        `default:"" usage:"Secret for x-signature verification of notifications"`
	BaseURL         string        `default:"https://api.mercadopago.com" usage:"Processor API base URL"`
	Timeout         time.Duration `default:"20s" usage:"Processor request timeout"`
	NotificationURL string        `default:"" usage:"Public URL of the notification webhook"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STREAMSHOP",
		Files:     []string{"config.yaml", "/etc/streamshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STREAMSHOP_DATABASE_URL or DATABASE_URL")
	}
	switch c.Cart.Store {
	case "postgres", "mongo":
	default:
		return errors.Errorf("unknown cart store %q", c.Cart.Store)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps the unprefixed variables that hosting platforms
// set (DATABASE_URL, PORT, REDIS_URL) and the processor's conventional token
// variable onto the configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Redis.URL, "REDIS_URL")
	fallback(&c.MercadoPago.AccessToken, "MERCADOPAGO_ACCESS_TOKEN")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
