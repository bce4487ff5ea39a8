package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// const dsn = "host=localhost user=postgres password=password dbname=esmdb port=5432 sslmode=disable TimeZone=Asia/Kathmandu"

const (
	DefaultKhaltiBaseURL  = "https://dev.khalti.com/api/v2"
	DefaultKhaltiTimeout  = 15 * time.Second
	DefaultLookupRetries  = 2
	DefaultLookupBackoff  = 500 * time.Millisecond
	VerifyLockMargin      = 5 * time.Second
	DefaultSweepInterval  = 5 * time.Minute
	DefaultSweepMinAge    = 10 * time.Minute
	DefaultSweepMaxAge    = 48 * time.Hour
	DefaultPort           = "9090"
	DefaultReturnURLPath  = "/payment/verify"
	DefaultFrontendOrigin = "http://localhost:3000"
)

type DatabaseConfig struct {
	// Driver is postgres or sqlite. With sqlite, Name is the database file.
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	TimeZone string
}

type KhaltiConfig struct {
	BaseURL   string
	SecretKey string
	// SecretARN points at a Secrets Manager entry holding the key when SecretKey is empty.
	SecretARN      string
	ReturnURL      string
	FrontendOrigin string
	Timeout        time.Duration
	LookupRetries  int
	LookupBackoff  time.Duration
}

// MaxLookupDuration is the longest a retried lookup can take: every attempt
// hits the timeout and the linear backoff runs in full.
func (k KhaltiConfig) MaxLookupDuration() time.Duration {
	retries := time.Duration(k.LookupRetries)
	if retries < 0 {
		retries = 0
	}
	return k.Timeout*(retries+1) + k.LookupBackoff*retries*(retries+1)/2
}

type RedisConfig struct {
	URL           string
	VerifyLockTTL time.Duration
}

type KafkaConfig struct {
	Broker   string
	ClientID string
}

type AWSConfig struct {
	AlertTopicARN     string
	VerificationQueue string
}

type SweeperConfig struct {
	Interval time.Duration
	MinAge   time.Duration
	MaxAge   time.Duration
}

type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

type Config struct {
	APIEnv          string
	Port            string
	MaintenanceMode bool
	JWTSecret       string
	AppHost         string

	Database DatabaseConfig
	Khalti   KhaltiConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	AWS      AWSConfig
	Sweeper  SweeperConfig
	Log      LogConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("API_ENV", "local")
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("FRONTEND_ORIGIN", DefaultFrontendOrigin)
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_NAME", "esmdb")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_TIMEZONE", "UTC")
	v.SetDefault("KHALTI_BASE_URL", DefaultKhaltiBaseURL)
	v.SetDefault("KHALTI_TIMEOUT", DefaultKhaltiTimeout)
	v.SetDefault("KHALTI_LOOKUP_RETRIES", DefaultLookupRetries)
	v.SetDefault("KHALTI_LOOKUP_BACKOFF", DefaultLookupBackoff)
	v.SetDefault("KAFKA_CLIENT_ID", "esm-payments")
	v.SetDefault("SWEEPER_INTERVAL", DefaultSweepInterval)
	v.SetDefault("SWEEPER_MIN_AGE", DefaultSweepMinAge)
	v.SetDefault("SWEEPER_MAX_AGE", DefaultSweepMaxAge)
	v.SetDefault("MAINTENANCE_MODE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	return v
}

// Load reads the process environment once, plus the file named by CONFIG_FILE
// when set. Environment values win over the file. Nothing in the request path
// reads env vars.
func Load() (*Config, error) {
	v := newViper()
	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var errs []error
	frontend := strings.TrimRight(v.GetString("FRONTEND_ORIGIN"), "/")
	v.SetDefault("APP_HOST", frontend)
	v.SetDefault("KHALTI_RETURN_URL", frontend+DefaultReturnURLPath)

	cfg := &Config{
		APIEnv:    v.GetString("API_ENV"),
		Port:      v.GetString("PORT"),
		JWTSecret: v.GetString("JWT_SECRET"),
		AppHost:   v.GetString("APP_HOST"),
		Database: DatabaseConfig{
			Driver:   v.GetString("DATABASE_DRIVER"),
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetString("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
			TimeZone: v.GetString("DATABASE_TIMEZONE"),
		},
		Khalti: KhaltiConfig{
			BaseURL:        v.GetString("KHALTI_BASE_URL"),
			SecretKey:      v.GetString("KHALTI_SECRET_KEY"),
			SecretARN:      v.GetString("KHALTI_SECRET_ARN"),
			ReturnURL:      v.GetString("KHALTI_RETURN_URL"),
			FrontendOrigin: frontend,
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_HOST"),
		},
		Kafka: KafkaConfig{
			Broker:   v.GetString("KAFKA_BROKER"),
			ClientID: v.GetString("KAFKA_CLIENT_ID"),
		},
		AWS: AWSConfig{
			AlertTopicARN:     v.GetString("ALERT_TOPIC_ARN"),
			VerificationQueue: v.GetString("VERIFICATION_QUEUE"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}

	var err error
	if cfg.MaintenanceMode, err = getBool(v, "MAINTENANCE_MODE"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Log.JSON, err = getBool(v, "LOG_JSON"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Khalti.Timeout, err = getDuration(v, "KHALTI_TIMEOUT"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Khalti.LookupBackoff, err = getDuration(v, "KHALTI_LOOKUP_BACKOFF"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Khalti.LookupRetries, err = getInt(v, "KHALTI_LOOKUP_RETRIES"); err != nil {
		errs = append(errs, err)
	}
	// The verify lock must outlive a fully retried lookup.
	v.SetDefault("VERIFY_LOCK_TTL", cfg.Khalti.MaxLookupDuration()+VerifyLockMargin)
	if cfg.Redis.VerifyLockTTL, err = getDuration(v, "VERIFY_LOCK_TTL"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Sweeper.Interval, err = getDuration(v, "SWEEPER_INTERVAL"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Sweeper.MinAge, err = getDuration(v, "SWEEPER_MIN_AGE"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Sweeper.MaxAge, err = getDuration(v, "SWEEPER_MAX_AGE"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks the settings the payment flow cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errs = append(errs, errors.New("DATABASE_DRIVER must be postgres or sqlite"))
	}
	if c.Khalti.BaseURL == "" {
		errs = append(errs, errors.New("KHALTI_BASE_URL is required"))
	}
	if c.Khalti.SecretKey == "" && c.Khalti.SecretARN == "" {
		errs = append(errs, errors.New("one of KHALTI_SECRET_KEY or KHALTI_SECRET_ARN is required"))
	}
	if c.Khalti.ReturnURL == "" {
		errs = append(errs, errors.New("KHALTI_RETURN_URL is required"))
	}
	if c.Khalti.Timeout <= 0 {
		errs = append(errs, errors.New("KHALTI_TIMEOUT must be positive"))
	}
	if c.Khalti.LookupRetries < 0 {
		errs = append(errs, errors.New("KHALTI_LOOKUP_RETRIES must not be negative"))
	}
	if longest := c.Khalti.MaxLookupDuration(); c.Redis.VerifyLockTTL < longest {
		errs = append(errs, fmt.Errorf("VERIFY_LOCK_TTL must be at least %s, the longest a retried lookup can take", longest))
	}
	if c.Sweeper.MinAge >= c.Sweeper.MaxAge {
		errs = append(errs, errors.New("SWEEPER_MIN_AGE must be lower than SWEEPER_MAX_AGE"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProd() bool {
	return c.APIEnv == "production" || c.APIEnv == "prod"
}

func (c *Config) GetDSN() string {
	d := c.Database
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

func getBool(v *viper.Viper, key string) (bool, error) {
	b, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(v *viper.Viper, key string) (int, error) {
	i, err := cast.ToIntE(v.Get(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := cast.ToDurationE(v.Get(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
