package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// SigningKeys supports rotation-tolerant webhook signature verification
//: a payload is accepted if it verifies against either key.
type SigningKeys struct {
	Current string `mapstructure:"current"`
	Next    string `mapstructure:"next"`
}

// CronCadences holds the cron expressions for the three background
// cadences.
type CronCadences struct {
	SweepReservations string `mapstructure:"sweepReservations"`
	SweepTransfers    string `mapstructure:"sweepTransfers"`
	Reminders         string `mapstructure:"reminders"`
}

// DefaultBookingPolicyConfig mirrors models.BookingPolicy's fields so it
// can be supplied from configuration.
type DefaultBookingPolicyConfig struct {
	TimeSlotIntervalMinutes int `mapstructure:"timeSlotInterval"`
	BookingWindowDays       int `mapstructure:"bookingWindowDays"`
	MinimumNoticeMinutes    int `mapstructure:"minimumNotice"`
	BeforeEventBufferMin    int `mapstructure:"beforeEventBuffer"`
	AfterEventBufferMin     int `mapstructure:"afterEventBuffer"`
}

// Config holds every recognized configuration option. Unknown keys are
// rejected at startup by LoadConfig.
type Config struct {
	AppPort     string `mapstructure:"APP_PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	MaxRequestsPerMin int `mapstructure:"MAX_REQUESTS_PER_MIN"`

	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisPassword      string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB       int    `mapstructure:"REDIS_CACHE_DB"`
	RedisLockDB        int    `mapstructure:"REDIS_LOCK_DB"`
	RedisJobQueueDB    int    `mapstructure:"REDIS_JOB_QUEUE_DB"`
	RedisIdempotencyDB int    `mapstructure:"REDIS_IDEMPOTENCY_DB"`

	GoogleAPIKey             string `mapstructure:"GOOGLE_API_KEY"`
	GoogleServiceAccountFile string `mapstructure:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	GoogleOAuthClientID      string `mapstructure:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleOAuthClientSecret  string `mapstructure:"GOOGLE_OAUTH_CLIENT_SECRET"`
	GoogleOAuthRedirectURL   string `mapstructure:"GOOGLE_OAUTH_REDIRECT_URL"`
	StripeKey                string `mapstructure:"STRIPE_KEY"`

	CronSharedSecret string `mapstructure:"CRON_SHARED_SECRET"`

	// Domain options from the recognized-option set.
	FeeRate                  float64                    `mapstructure:"feeRate"`
	DefaultReservationTTLMin int                        `mapstructure:"defaultReservationTtlMinutes"`
	VoucherGraceMinutes      int                        `mapstructure:"voucherGraceMinutes"`
	PaymentSuccessURL        string                     `mapstructure:"paymentSuccessUrl"`
	PaymentCancelURL         string                     `mapstructure:"paymentCancelUrl"`
	PayoutDelayByCountry     map[string]int             `mapstructure:"payoutDelayByCountry"`
	DefaultBookingPolicy     DefaultBookingPolicyConfig `mapstructure:"defaultBookingPolicy"`
	SigningKeys              SigningKeys                `mapstructure:"signingKeys"`
	CronCadences             CronCadences               `mapstructure:"cronCadences"`
}

var AppConfig Config

// recognizedTopLevelKeys is the flattened set of viper keys (lowercased,
// '.'-joined) this application understands. A key whose first path
// segment is not in this set is rejected.
var recognizedTopLevelKeys = map[string]bool{
	"app_port": true, "env": true, "log_level": true, "database_url": true,
	"max_requests_per_min": true,
	"redis_addr": true, "redis_password": true, "redis_cache_db": true,
	"redis_lock_db": true, "redis_job_queue_db": true, "redis_idempotency_db": true,
	"google_api_key": true, "google_service_account_file": true,
	"google_oauth_client_id": true, "google_oauth_client_secret": true,
	"google_oauth_redirect_url": true, "stripe_key": true,
	"cron_shared_secret": true,
	"feerate": true, "defaultreservationttlminutes": true, "vouchergraceminutes": true,
	"paymentsuccessurl": true, "paymentcancelurl": true,
	"payoutdelaybycountry": true, "defaultbookingpolicy": true,
	"signingkeys": true, "croncadences": true,
}

// PayoutDelayDays returns the jurisdiction-specific aging delay for
// country, falling back to the "DEFAULT" entry.
func (c Config) PayoutDelayDays(country string) int {
	if d, ok := c.PayoutDelayByCountry[country]; ok {
		return d
	}
	if d, ok := c.PayoutDelayByCountry["DEFAULT"]; ok {
		return d
	}
	return 7
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_LOCK_DB", 1)
	viper.SetDefault("REDIS_JOB_QUEUE_DB", 2)
	viper.SetDefault("REDIS_IDEMPOTENCY_DB", 3)
	viper.SetDefault("feeRate", 0.15)
	viper.SetDefault("defaultReservationTtlMinutes", 30)
	viper.SetDefault("voucherGraceMinutes", 1440)
	viper.SetDefault("paymentSuccessUrl", "https://app.consulta.example/booking/success")
	viper.SetDefault("paymentCancelUrl", "https://app.consulta.example/booking/cancel")
	viper.SetDefault("payoutDelayByCountry", map[string]int{"DEFAULT": 7, "PT": 7, "US": 2, "GB": 4})
	viper.SetDefault("defaultBookingPolicy", map[string]interface{}{
		"timeSlotInterval": 30, "bookingWindowDays": 14, "minimumNotice": 60,
		"beforeEventBuffer": 0, "afterEventBuffer": 0,
	})
	viper.SetDefault("cronCadences", map[string]string{
		"sweepReservations": "@every 1m",
		"sweepTransfers":    "@every 15m",
		"reminders":         "@every 5m",
	})
}

// LoadConfig reads configuration from environment and an optional file,
// validates that every supplied key is recognized, and populates
// AppConfig. A configuration error exits with status 1.
func LoadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("reading config file: %w", err)
		}
		log.Println("no config file found, using environment variables and defaults only")
	}

	if err := validateKeys(); err != nil {
		return err
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return fmt.Errorf("unmarshalling config: %w", err)
	}
	return nil
}

func validateKeys() error {
	var unknown []string
	for _, key := range viper.AllKeys() {
		top := strings.SplitN(key, ".", 2)[0]
		if !recognizedTopLevelKeys[top] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unrecognized configuration key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func GetEnv() string { return AppConfig.Env }

func IsProduction() bool { return GetEnv() == "production" }
