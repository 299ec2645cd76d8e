package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080, PublicBaseURL: "https://ivr.example.com"},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "ivr"},
		Twilio: TwilioConfig{AccountSID: "AC123", AuthToken: "token"},
		ConvAI: ConvAIConfig{WSBaseURL: "wss://api.example.com/v1/convai", APIKey: "key"},
		Stream: StreamConfig{TokenSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_AppliesSessionDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Session.MaxCallDuration != 15*time.Minute {
		t.Fatalf("expected default max call duration, got %v", c.Session.MaxCallDuration)
	}
	if c.Session.AudioQueueDepth != 128 {
		t.Fatalf("expected default audio queue depth, got %d", c.Session.AudioQueueDepth)
	}
	if c.ConvAI.ConnectTimeout != 5*time.Second {
		t.Fatalf("expected default connect timeout, got %v", c.ConvAI.ConnectTimeout)
	}
}

func TestValidate_RejectsNonWSConvAIURL(t *testing.T) {
	c := validConfig()
	c.ConvAI.WSBaseURL = "https://api.example.com/v1/convai"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-websocket url")
	}
}

func TestMediaStreamURL(t *testing.T) {
	c := validConfig()
	if got := c.MediaStreamURL(); got != "wss://ivr.example.com/media-stream" {
		t.Fatalf("unexpected media stream url: %q", got)
	}
}

func TestRedisOptional(t *testing.T) {
	c := validConfig()
	if c.Redis.Enabled() {
		t.Fatalf("expected redis disabled when host empty")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error without redis, got %v", err)
	}
}
