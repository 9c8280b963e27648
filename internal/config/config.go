package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	defaultAddress        = ":4000"
	defaultOutboundTO     = 15 * time.Second
	defaultOutboundTries  = 3
	defaultPendingTTL     = 24 * time.Hour
	defaultReaperInterval = 10 * time.Minute
	defaultLockTTL        = 30 * time.Second
)

type Config struct {
	Server struct {
		Address     string   `yaml:"address"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers     []string `yaml:"brokers"`
		TopicPrefix string   `yaml:"topic_prefix"`
	} `yaml:"kafka"`
	Payments struct {
		DefaultProvider string `yaml:"default_provider"`
		Currency        string `yaml:"currency"`
		Airbapay        struct {
			Username       string `yaml:"username"`
			Password       string `yaml:"password"`
			TerminalID     string `yaml:"terminal_id"`
			BaseURL        string `yaml:"base_url"`
			SuccessBackURL string `yaml:"success_back_url"`
			FailureBackURL string `yaml:"failure_back_url"`
			CallbackURL    string `yaml:"callback_url"`
			PublicKeyURL   string `yaml:"public_key_url"`
			PublicKeyPEM   string `yaml:"public_key_pem"`
		} `yaml:"airbapay"`
		Robokassa struct {
			MerchantLogin string `yaml:"merchant_login"`
			Password1     string `yaml:"password1"`
			Password2     string `yaml:"password2"`
			TestPassword1 string `yaml:"test_password1"`
			TestPassword2 string `yaml:"test_password2"`
			BaseURL       string `yaml:"base_url"`
			IsTest        bool   `yaml:"is_test"`
		} `yaml:"robokassa"`
		Mock struct {
			Enabled     bool   `yaml:"enabled"`
			Secret      string `yaml:"secret"`
			CheckoutURL string `yaml:"checkout_url"`
		} `yaml:"mock"`
	} `yaml:"payments"`
	Invoicing struct {
		BaseURL  string `yaml:"base_url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"invoicing"`
	SMS struct {
		BaseURL   string  `yaml:"base_url"`
		APIKey    string  `yaml:"api_key"`
		Sender    string  `yaml:"sender"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"sms"`
	WhatsApp struct {
		BaseURL       string  `yaml:"base_url"`
		PhoneNumberID string  `yaml:"phone_number_id"`
		AccessToken   string  `yaml:"access_token"`
		Template      string  `yaml:"template"`
		Language      string  `yaml:"language"`
		RateLimit     float64 `yaml:"rate_limit"`
	} `yaml:"whatsapp"`
	Storage struct {
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"storage"`
	Push struct {
		CredentialsFile string `yaml:"credentials_file"`
		Topic           string `yaml:"topic"`
	} `yaml:"push"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	// Pricing maps product type to unit price, e.g. "1L": "25".
	Pricing  map[string]string `yaml:"pricing"`
	Timezone string            `yaml:"timezone"`
	Outbound struct {
		Timeout time.Duration `yaml:"timeout"`
		Retries int           `yaml:"retries"`
	} `yaml:"outbound"`
	Reaper struct {
		PendingTTL time.Duration `yaml:"pending_ttl"`
		Interval   time.Duration `yaml:"interval"`
	} `yaml:"reaper"`
}

// DefaultPricing is used when the config has no pricing table.
var DefaultPricing = map[string]string{
	"1L":  "25",
	"5L":  "110",
	"10L": "200",
	"19L": "350",
}

// LoadConfig reads the YAML file at path (a missing file is not an error), applies
// environment overrides and defaults, then validates.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Address, "ADDRESS")
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Address = ":" + strings.TrimPrefix(v, ":")
	}
	setList(&c.Server.CORSOrigins, "CORS_ORIGINS")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.TopicPrefix, "KAFKA_TOPIC_PREFIX")

	setString(&c.Payments.DefaultProvider, "PAYMENT_PROVIDER")
	setString(&c.Payments.Currency, "PAYMENT_CURRENCY")
	ap := &c.Payments.Airbapay
	setString(&ap.Username, "AIRBAPAY_USERNAME")
	setString(&ap.Password, "AIRBAPAY_PASSWORD")
	setString(&ap.TerminalID, "AIRBAPAY_TERMINAL_ID")
	setString(&ap.BaseURL, "AIRBAPAY_BASE_URL")
	setString(&ap.SuccessBackURL, "AIRBAPAY_SUCCESS_URL")
	setString(&ap.FailureBackURL, "AIRBAPAY_FAILURE_URL")
	setString(&ap.CallbackURL, "AIRBAPAY_CALLBACK_URL")
	setString(&ap.PublicKeyURL, "AIRBAPAY_PUBLIC_KEY_URL")
	setString(&ap.PublicKeyPEM, "AIRBAPAY_PUBLIC_KEY_PEM")
	rk := &c.Payments.Robokassa
	setString(&rk.MerchantLogin, "ROBOKASSA_MERCHANT_LOGIN")
	setString(&rk.Password1, "ROBOKASSA_PASSWORD1")
	setString(&rk.Password2, "ROBOKASSA_PASSWORD2")
	setString(&rk.TestPassword1, "ROBOKASSA_TEST_PASSWORD1")
	setString(&rk.TestPassword2, "ROBOKASSA_TEST_PASSWORD2")
	setString(&rk.BaseURL, "ROBOKASSA_BASE_URL")
	if v := os.Getenv("ROBOKASSA_IS_TEST"); v != "" {
		isTest, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse ROBOKASSA_IS_TEST: %w", err)
		}
		rk.IsTest = isTest
	}
	if v := os.Getenv("MOCKPAY_SECRET"); v != "" {
		c.Payments.Mock.Secret = v
		c.Payments.Mock.Enabled = true
	}
	setString(&c.Payments.Mock.CheckoutURL, "MOCKPAY_CHECKOUT_URL")

	setString(&c.Invoicing.BaseURL, "INVOICING_BASE_URL")
	setString(&c.Invoicing.Username, "INVOICING_USERNAME")
	setString(&c.Invoicing.Password, "INVOICING_PASSWORD")

	setString(&c.SMS.BaseURL, "SMS_BASE_URL")
	setString(&c.SMS.APIKey, "SMS_API_KEY")
	setString(&c.SMS.Sender, "SMS_SENDER")

	setString(&c.WhatsApp.BaseURL, "WHATSAPP_BASE_URL")
	setString(&c.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	setString(&c.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	setString(&c.WhatsApp.Template, "WHATSAPP_TEMPLATE")

	setString(&c.Storage.Bucket, "S3_BUCKET")
	setString(&c.Storage.Region, "S3_REGION")
	setString(&c.Storage.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "S3_SECRET_KEY")
	setString(&c.Storage.PublicURL, "S3_PUBLIC_URL")

	setString(&c.Push.CredentialsFile, "FCM_CREDENTIALS_FILE")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Timezone, "TIMEZONE")

	if v := os.Getenv("OUTBOUND_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse OUTBOUND_TIMEOUT_SECONDS: %w", err)
		}
		c.Outbound.Timeout = time.Duration(secs) * time.Second
	}
	if v, err := readIntEnv("OUTBOUND_RETRIES"); err != nil {
		return fmt.Errorf("parse OUTBOUND_RETRIES: %w", err)
	} else if v != nil {
		c.Outbound.Retries = *v
	}
	if v := os.Getenv("PENDING_PAYMENT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PENDING_PAYMENT_TTL: %w", err)
		}
		c.Reaper.PendingTTL = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = defaultLockTTL
	}
	if c.Payments.Currency == "" {
		c.Payments.Currency = "KZT"
	}
	if c.Payments.DefaultProvider == "" {
		switch {
		case c.Payments.Airbapay.Username != "":
			c.Payments.DefaultProvider = "airbapay"
		case c.Payments.Robokassa.MerchantLogin != "":
			c.Payments.DefaultProvider = "robokassa"
		default:
			c.Payments.DefaultProvider = "mock"
		}
	}
	if c.WhatsApp.Language == "" {
		c.WhatsApp.Language = "ru"
	}
	if c.WhatsApp.Template == "" {
		c.WhatsApp.Template = "order_confirmation"
	}
	if c.Push.Topic == "" {
		c.Push.Topic = "staff-orders"
	}
	if len(c.Pricing) == 0 {
		c.Pricing = DefaultPricing
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Almaty"
	}
	if c.Outbound.Timeout <= 0 {
		c.Outbound.Timeout = defaultOutboundTO
	}
	if c.Outbound.Retries <= 0 {
		c.Outbound.Retries = defaultOutboundTries
	}
	if c.Reaper.PendingTTL <= 0 {
		c.Reaper.PendingTTL = defaultPendingTTL
	}
	if c.Reaper.Interval <= 0 {
		c.Reaper.Interval = defaultReaperInterval
	}
}

// Validate rejects half-configured integrations.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required")
	}
	ap := c.Payments.Airbapay
	if anySet(ap.Username, ap.Password, ap.TerminalID, ap.BaseURL) &&
		!allSet(ap.Username, ap.Password, ap.TerminalID, ap.BaseURL, ap.CallbackURL) {
		return errors.New("AIRBAPAY configuration incomplete")
	}
	rk := c.Payments.Robokassa
	if anySet(rk.MerchantLogin, rk.Password1, rk.Password2) && !allSet(rk.MerchantLogin, rk.Password1, rk.Password2) {
		return errors.New("ROBOKASSA configuration incomplete")
	}
	if c.Payments.Mock.Enabled && c.Payments.Mock.Secret == "" {
		return errors.New("mock payments require a webhook secret")
	}
	if anySet(c.Invoicing.BaseURL, c.Invoicing.Username) && !allSet(c.Invoicing.BaseURL, c.Invoicing.Username, c.Invoicing.Password) {
		return errors.New("invoicing configuration incomplete")
	}
	if anySet(c.SMS.BaseURL, c.SMS.APIKey) && !allSet(c.SMS.BaseURL, c.SMS.APIKey) {
		return errors.New("sms configuration incomplete")
	}
	if anySet(c.WhatsApp.PhoneNumberID, c.WhatsApp.AccessToken) && !allSet(c.WhatsApp.PhoneNumberID, c.WhatsApp.AccessToken) {
		return errors.New("whatsapp configuration incomplete")
	}
	if c.Storage.Bucket != "" && c.Storage.Region == "" {
		return errors.New("storage region is required when bucket is set")
	}
	if _, err := c.PriceTable(); err != nil {
		return err
	}
	return nil
}

// PriceTable parses the pricing section.
func (c Config) PriceTable() (map[string]decimal.Decimal, error) {
	src := c.Pricing
	if len(src) == 0 {
		src = DefaultPricing
	}
	out := make(map[string]decimal.Decimal, len(src))
	for k, v := range src {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("pricing %q: %w", k, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("pricing %q: price must be positive", k)
		}
		out[strings.TrimSpace(k)] = d
	}
	return out, nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func anySet(vals ...string) bool {
	for _, v := range vals {
		if v != "" {
			return true
		}
	}
	return false
}

func allSet(vals ...string) bool {
	for _, v := range vals {
		if v == "" {
			return false
		}
	}
	return true
}
