package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/dicey-decisions/internal/domain"
)

// ServerConfig configures cmd/dicey-server.
type ServerConfig struct {
	HTTPAddr    string
	RedisURL    string
	DatabaseURL string

	RoomTTL     time.Duration
	MessagesDir string

	RateLimitPerSec float64
	RateLimitBurst  int

	WSOrigins []string
}

// ClientConfig configures cmd/dicey-watch.
type ClientConfig struct {
	APIURL string
	WSURL  string

	UserID   string
	UserName string

	JoinURL string
	RoomID  string

	TiebreakMethod domain.TiebreakMethod
	RevealDelay    time.Duration

	WSMaxReconnect     int
	WSReconnectDelay   time.Duration
	NavigationRedisURL string
}

func Load() (*ServerConfig, error) {
	cfg := &ServerConfig{
		HTTPAddr:        ":8080",
		RateLimitPerSec: 5,
		RateLimitBurst:  10,
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.MessagesDir = env("MESSAGES_DIR")

	if v := env("ROOM_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomTTL = time.Duration(n) * time.Hour
		}
	}
	if v := env("RATE_LIMIT_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitPerSec = f
		}
	}
	if v := env("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}
	cfg.WSOrigins = splitList(env("WS_ORIGINS"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		TiebreakMethod:   domain.TiebreakDice,
		RevealDelay:      1500 * time.Millisecond,
		WSMaxReconnect:   5,
		WSReconnectDelay: 250 * time.Millisecond,
	}

	cfg.APIURL = strings.TrimRight(env("DICEY_API_URL"), "/")
	cfg.WSURL = env("DICEY_WS_URL")
	cfg.UserID = env("DICEY_USER_ID")
	cfg.UserName = env("DICEY_USER_NAME")
	cfg.JoinURL = env("DICEY_JOIN_URL")
	cfg.RoomID = env("DICEY_ROOM_ID")
	cfg.NavigationRedisURL = env("NAV_REDIS_URL")

	if v := env("DICEY_TIEBREAK_METHOD"); v != "" {
		m, ok := domain.ParseTiebreakMethod(v)
		if !ok {
			return nil, errors.New("DICEY_TIEBREAK_METHOD must be dice, spinner or coin")
		}
		cfg.TiebreakMethod = m
	}
	if v := env("DICEY_REVEAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RevealDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := env("WS_MAX_RECONNECT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WSMaxReconnect = n
		}
	}
	if v := env("WS_RECONNECT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSReconnectDelay = time.Duration(n) * time.Millisecond
		}
	}

	if cfg.APIURL == "" {
		return nil, errors.New("DICEY_API_URL is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("DICEY_USER_ID is required")
	}
	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}
	if cfg.WSURL == "" {
		ws, err := deriveWSURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = ws
	}
	return cfg, nil
}

// deriveWSURL maps http(s)://host/base to ws(s)://host/base.
func deriveWSURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "", errors.New("DICEY_API_URL is not a valid URL")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
