package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Twilio  TwilioConfig
	ConvAI  ConvAIConfig
	Session SessionConfig
	Stream  StreamConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base URL of this process,
	// used to build the media-stream websocket URL placed in TwiML.
	// Example: https://ivr.example.com
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// Enabled reports whether a redis-backed call cap is configured at all.
// Redis is optional: without it, per-restaurant call caps are not enforced.
func (c RedisConfig) Enabled() bool { return c.Host != "" }

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

type ConvAIConfig struct {
	// WSBaseURL is the conversational-AI websocket endpoint.
	// Example: wss://api.elevenlabs.io/v1/convai/conversation
	WSBaseURL string
	APIKey    string

	ConnectTimeout time.Duration
}

type SessionConfig struct {
	// MaxCallDuration bounds a single call end-to-end. When exceeded the
	// orchestrator ends the call as a system-initiated hangup.
	MaxCallDuration time.Duration

	// ForwardAckTimeout bounds the wait for the telephony provider to
	// acknowledge a forwarding action.
	ForwardAckTimeout time.Duration

	// MaxCallsPerRestaurant caps concurrent calls per restaurant when redis
	// is configured. 0 disables the cap.
	MaxCallsPerRestaurant int

	// AudioQueueDepth bounds the outbound audio queues in the session client
	// and the audio bridge; oldest frames are dropped on overflow.
	AudioQueueDepth int
}

type StreamConfig struct {
	// TokenSecret signs the stream token carried in TwiML custom parameters
	// and validated at the media-stream handshake.
	TokenSecret string
	TokenTTL    time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	// Redis is optional; only parse the port when a host is configured.
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	c.ConvAI.WSBaseURL = strings.TrimSpace(os.Getenv("CONVAI_WS_URL"))
	c.ConvAI.APIKey = os.Getenv("CONVAI_API_KEY")
	c.ConvAI.ConnectTimeout = optionalDuration("CONVAI_CONNECT_TIMEOUT")

	c.Session.MaxCallDuration = optionalDuration("SESSION_MAX_CALL_DURATION")
	c.Session.ForwardAckTimeout = optionalDuration("SESSION_FORWARD_ACK_TIMEOUT")
	c.Session.MaxCallsPerRestaurant = optionalInt("SESSION_MAX_CALLS_PER_RESTAURANT")
	c.Session.AudioQueueDepth = optionalInt("SESSION_AUDIO_QUEUE_DEPTH")

	c.Stream.TokenSecret = os.Getenv("STREAM_TOKEN_SECRET")
	c.Stream.TokenTTL = optionalDuration("STREAM_TOKEN_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required (media stream URL is derived from it)"))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Enabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}

	if c.ConvAI.WSBaseURL == "" {
		errs = append(errs, errors.New("CONVAI_WS_URL is required"))
	} else if !strings.HasPrefix(c.ConvAI.WSBaseURL, "ws://") && !strings.HasPrefix(c.ConvAI.WSBaseURL, "wss://") {
		errs = append(errs, fmt.Errorf("CONVAI_WS_URL must be a ws:// or wss:// URL, got %q", c.ConvAI.WSBaseURL))
	}
	if c.ConvAI.APIKey == "" {
		errs = append(errs, errors.New("CONVAI_API_KEY is required"))
	}
	if c.ConvAI.ConnectTimeout <= 0 {
		c.ConvAI.ConnectTimeout = 5 * time.Second
	}

	if c.Session.MaxCallDuration <= 0 {
		c.Session.MaxCallDuration = 15 * time.Minute
	}
	if c.Session.ForwardAckTimeout <= 0 {
		c.Session.ForwardAckTimeout = 10 * time.Second
	}
	if c.Session.MaxCallsPerRestaurant < 0 {
		errs = append(errs, errors.New("SESSION_MAX_CALLS_PER_RESTAURANT must be >= 0"))
	}
	if c.Session.AudioQueueDepth <= 0 {
		c.Session.AudioQueueDepth = 128
	}

	if c.Stream.TokenSecret == "" {
		errs = append(errs, errors.New("STREAM_TOKEN_SECRET is required"))
	}
	if c.Stream.TokenTTL <= 0 {
		// Twilio opens the stream within seconds of the webhook response.
		c.Stream.TokenTTL = 2 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// MediaStreamURL is the websocket URL Twilio connects its media stream to.
func (c Config) MediaStreamURL() string {
	base := c.App.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/media-stream"
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
