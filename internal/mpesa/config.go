// Package mpesa is a small client for the Safaricom Daraja API covering the
// three calls a checkout needs: OAuth token generation, STK push, and STK push
// status query. It also decodes the asynchronous stkCallback envelope.
//
// The client holds no token cache; every operation authenticates afresh.
package mpesa

import (
	"strings"
	"time"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	DefaultTokenTimeout   = 15 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Config carries the gateway credentials and endpoints. It is decoded once at
// startup (env tags are read by cleanenv) and passed to NewClient by value.
type Config struct {
	Environment    string        `yaml:"environment"     env:"MPESA_ENV"             env-default:"sandbox"`
	ConsumerKey    string        `yaml:"consumer_key"    env:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `yaml:"consumer_secret" env:"MPESA_CONSUMER_SECRET"`
	ShortCode      string        `yaml:"shortcode"       env:"MPESA_SHORTCODE"`
	Passkey        string        `yaml:"passkey"         env:"MPESA_PASSKEY"`
	CallbackURL    string        `yaml:"callback_url"    env:"MPESA_CALLBACK_URL"`
	BaseURL        string        `yaml:"base_url"        env:"MPESA_BASE_URL"` // overrides Environment
	TokenTimeout   time.Duration `yaml:"token_timeout"   env:"MPESA_TOKEN_TIMEOUT"   env-default:"15s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"MPESA_REQUEST_TIMEOUT" env-default:"30s"`
}

// Production reports whether the environment selector names the live API.
func (c Config) Production() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "production", "prod", "live":
		return true
	}
	return false
}

// ResolvedBaseURL returns BaseURL when set, otherwise the sandbox or
// production host picked by Environment. No trailing slash.
func (c Config) ResolvedBaseURL() string {
	if u := strings.TrimSpace(c.BaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	if c.Production() {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Validate returns a *ConfigError naming every missing credential.
func (c Config) Validate() error {
	return missing(
		field{"MPESA_CONSUMER_KEY", c.ConsumerKey},
		field{"MPESA_CONSUMER_SECRET", c.ConsumerSecret},
		field{"MPESA_SHORTCODE", c.ShortCode},
		field{"MPESA_PASSKEY", c.Passkey},
	)
}

type field struct{ name, value string }

func missing(fields ...field) error {
	var names []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &ConfigError{Missing: names}
}

func (c Config) tokenTimeout() time.Duration {
	if c.TokenTimeout > 0 {
		return c.TokenTimeout
	}
	return DefaultTokenTimeout
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}
