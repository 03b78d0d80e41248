package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ehr/notes/internal/platform/fhir"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FHIRBaseURL        string        `mapstructure:"FHIR_BASE_URL"`
	FHIRAccessToken    string        `mapstructure:"FHIR_ACCESS_TOKEN"`
	FHIRBackend        string        `mapstructure:"FHIR_BACKEND"`
	FHIRRateLimitRPS   float64       `mapstructure:"FHIR_RATE_LIMIT_RPS"`
	FHIRRateLimitBurst int           `mapstructure:"FHIR_RATE_LIMIT_BURST"`
	FHIRTimeout        time.Duration `mapstructure:"FHIR_TIMEOUT"`

	SMARTClientID       string `mapstructure:"SMART_CLIENT_ID"`
	SMARTTokenURL       string `mapstructure:"SMART_TOKEN_URL"`
	SMARTPrivateKeyFile string `mapstructure:"SMART_PRIVATE_KEY_FILE"`
	SMARTKeyID          string `mapstructure:"SMART_KEY_ID"`
	SMARTScopes         string `mapstructure:"SMART_SCOPES"`

	PDFServiceURL    string `mapstructure:"PDF_SERVICE_URL"`
	PDFCommand       string `mapstructure:"PDF_COMMAND"`
	PDFOutputSuffix  string `mapstructure:"PDF_OUTPUT_SUFFIX"`
	PDFMaxConcurrent int64  `mapstructure:"PDF_MAX_CONCURRENT"`

	CDAStylesheet  string `mapstructure:"CDA_STYLESHEET"`
	CDASrcdocLinks bool   `mapstructure:"CDA_SRCDOC_LINKS"`

	EndpointsSource     string `mapstructure:"ENDPOINTS_SOURCE"`
	EndpointsGramLength int    `mapstructure:"ENDPOINTS_GRAM_LENGTH"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RenderCacheSize int           `mapstructure:"RENDER_CACHE_SIZE"`
	RenderCacheTTL  time.Duration `mapstructure:"RENDER_CACHE_TTL"`

	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	DocumentBodyLimit string        `mapstructure:"DOCUMENT_BODY_LIMIT"`
	TLSEnabled        bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile       string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile        string        `mapstructure:"TLS_KEY_FILE"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"FHIR_BASE_URL", "FHIR_ACCESS_TOKEN", "FHIR_BACKEND",
	"FHIR_RATE_LIMIT_RPS", "FHIR_RATE_LIMIT_BURST", "FHIR_TIMEOUT",
	"SMART_CLIENT_ID", "SMART_TOKEN_URL", "SMART_PRIVATE_KEY_FILE", "SMART_KEY_ID", "SMART_SCOPES",
	"PDF_SERVICE_URL", "PDF_COMMAND", "PDF_OUTPUT_SUFFIX", "PDF_MAX_CONCURRENT",
	"CDA_STYLESHEET", "CDA_SRCDOC_LINKS",
	"ENDPOINTS_SOURCE", "ENDPOINTS_GRAM_LENGTH",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"RENDER_CACHE_SIZE", "RENDER_CACHE_TTL",
	"REQUEST_TIMEOUT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "DOCUMENT_BODY_LIMIT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// DefaultScopes is what a backend services client asks for when
// SMART_SCOPES is unset: enough to list encounters and read notes.
const DefaultScopes = "system/Patient.read system/Encounter.read system/DocumentReference.read system/Binary.read"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FHIR_BACKEND", "auto")
	v.SetDefault("FHIR_RATE_LIMIT_RPS", 10)
	v.SetDefault("FHIR_RATE_LIMIT_BURST", 20)
	v.SetDefault("FHIR_TIMEOUT", "30s")
	v.SetDefault("SMART_SCOPES", DefaultScopes)
	v.SetDefault("PDF_COMMAND", "pdftohtml -dataurls -c -s %s")
	v.SetDefault("PDF_OUTPUT_SUFFIX", "-html.html")
	v.SetDefault("PDF_MAX_CONCURRENT", 1)
	v.SetDefault("CDA_SRCDOC_LINKS", false)
	v.SetDefault("ENDPOINTS_GRAM_LENGTH", 4)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("RENDER_CACHE_SIZE", 256)
	v.SetDefault("RENDER_CACHE_TTL", "15m")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("DOCUMENT_BODY_LIMIT", "50M")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level returns the zerolog level for LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Scopes splits SMART_SCOPES on spaces or commas.
func (c *Config) Scopes() []string {
	return splitList(c.SMARTScopes)
}

// RequireFHIR reports whether a FHIR server is configured. Commands that
// only use the endpoint directory or the PDF converter do not need one.
func (c *Config) RequireFHIR() error {
	if c.FHIRBaseURL == "" {
		return fmt.Errorf("FHIR_BASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is usable. Only settings that are
// present are checked; a missing FHIR_BASE_URL is reported by RequireFHIR.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
		}
	}

	if c.FHIRBaseURL != "" {
		u, err := url.Parse(c.FHIRBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("FHIR_BASE_URL must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
		}
	}
	if _, err := fhir.ParseBackend(c.FHIRBackend); err != nil {
		return fmt.Errorf("FHIR_BACKEND: %w", err)
	}
	if c.FHIRTimeout < 0 {
		return fmt.Errorf("FHIR_TIMEOUT must not be negative")
	}

	if c.FHIRAccessToken != "" && c.SMARTClientID != "" {
		return fmt.Errorf("set either FHIR_ACCESS_TOKEN or SMART_CLIENT_ID, not both")
	}
	if (c.SMARTClientID == "") != (c.SMARTPrivateKeyFile == "") {
		return fmt.Errorf("SMART_CLIENT_ID and SMART_PRIVATE_KEY_FILE must be set together")
	}

	if c.PDFServiceURL == "" && !strings.Contains(c.PDFCommand, "%s") {
		return fmt.Errorf("PDF_COMMAND must contain a %%s placeholder for the input file")
	}
	if c.PDFMaxConcurrent < 1 {
		return fmt.Errorf("PDF_MAX_CONCURRENT must be at least 1, got %d", c.PDFMaxConcurrent)
	}

	if c.EndpointsGramLength < 1 {
		return fmt.Errorf("ENDPOINTS_GRAM_LENGTH must be at least 1, got %d", c.EndpointsGramLength)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RenderCacheSize < 0 {
		return fmt.Errorf("RENDER_CACHE_SIZE must not be negative")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
