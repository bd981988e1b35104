package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Embedded so envconfig reads their keys without a prefix.
	Payments
	Notify
	Auth
	Workers
}

type Payments struct {
	DefaultCurrency string        `envconfig:"DEFAULT_CURRENCY" default:"usd"`
	GatewayTimeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	CoinbaseAPIKey        string `envconfig:"COINBASE_API_KEY"`
	CoinbaseWebhookSecret string `envconfig:"COINBASE_WEBHOOK_SECRET"`
	CoinbaseAPIURL        string `envconfig:"COINBASE_API_URL" default:"https://api.commerce.coinbase.com"`
	CoinbaseRedirectURL   string `envconfig:"COINBASE_REDIRECT_URL"`
}

type Notify struct {
	RabbitURL string `envconfig:"RABBIT_URL"`
	Exchange  string `envconfig:"NOTIFY_EXCHANGE" default:"vibewell.events"`
}

type Auth struct {
	ReminderTriggerToken string `envconfig:"REMINDER_TRIGGER_TOKEN" required:"true"`
	SupabaseJWTSecret    string `envconfig:"SUPABASE_JWT_SECRET"`
}

type Workers struct {
	ReconcileInterval  time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileGrace     time.Duration `envconfig:"RECONCILE_GRACE" default:"5m"`
	ReconcileBatch     int           `envconfig:"RECONCILE_BATCH" default:"50"`
	PaymentIntentTTL   time.Duration `envconfig:"PAYMENT_INTENT_TTL" default:"24h"`
	CompletionInterval time.Duration `envconfig:"COMPLETION_INTERVAL" default:"5m"`
	ReminderWorkers    int           `envconfig:"REMINDER_WORKERS" default:"8"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	c.Payments.DefaultCurrency = strings.ToLower(c.Payments.DefaultCurrency)
	return c, nil
}

func (c Config) IsProduction() bool { return c.Environment == "production" }

// NewLogger builds the process logger from the config.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
