package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/park285/dicey-decisions/internal/domain"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MESSAGES_DIR", "")
	t.Setenv("ROOM_TTL_HOURS", "48")
	t.Setenv("RATE_LIMIT_PER_SEC", "bogus")
	t.Setenv("RATE_LIMIT_BURST", "")
	t.Setenv("WS_ORIGINS", " example.com, ,localhost:3000 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &ServerConfig{
		HTTPAddr:        ":8080",
		RedisURL:        "redis://localhost:6379/0",
		RoomTTL:         48 * time.Hour,
		RateLimitPerSec: 5,
		RateLimitBurst:  10,
		WSOrigins:       []string{"example.com", "localhost:3000"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadClientDerivesWebSocketURL(t *testing.T) {
	t.Setenv("DICEY_API_URL", "https://dicey.example.com/api/")
	t.Setenv("DICEY_WS_URL", "")
	t.Setenv("DICEY_USER_ID", "u1")
	t.Setenv("DICEY_USER_NAME", "")
	t.Setenv("DICEY_TIEBREAK_METHOD", "Coin")
	t.Setenv("DICEY_REVEAL_MS", "0")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.APIURL != "https://dicey.example.com/api" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.WSURL != "wss://dicey.example.com/api" {
		t.Fatalf("WSURL = %q", cfg.WSURL)
	}
	if cfg.UserName != "u1" || cfg.TiebreakMethod != domain.TiebreakCoin || cfg.RevealDelay != 0 {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if cfg.WSMaxReconnect != 5 || cfg.WSReconnectDelay != 250*time.Millisecond {
		t.Fatalf("reconnect defaults: %+v", cfg)
	}
}

func TestLoadClientRejectsUnknownMethod(t *testing.T) {
	t.Setenv("DICEY_API_URL", "http://localhost:8080")
	t.Setenv("DICEY_USER_ID", "u1")
	t.Setenv("DICEY_TIEBREAK_METHOD", "cards")
	if _, err := LoadClient(); err == nil {
		t.Fatalf("expected error for unknown tiebreak method")
	}
}
