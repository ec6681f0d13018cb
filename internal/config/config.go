package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	AllowedOrigin string

	MaxRooms          int
	MaxPlayersPerRoom int
	MaxNameLength     int
	ChatHistory       int

	DebounceInterval time.Duration
	SweepInterval    time.Duration
	RoomIdleTimeout  time.Duration
	UserIdleTimeout  time.Duration

	TokenSecret string
	TokenTTL    time.Duration

	ValkeyAddr    string
	ValkeyChannel string

	LogLevel  string
	LogPretty bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:              ":8080",
		AllowedOrigin:     "http://127.0.0.1:5173",
		MaxRooms:          50,
		MaxPlayersPerRoom: 8,
		MaxNameLength:     50,
		ChatHistory:       100,
		DebounceInterval:  3 * time.Second,
		SweepInterval:     3 * time.Minute,
		RoomIdleTimeout:   20 * time.Minute,
		UserIdleTimeout:   30 * time.Minute,
		TokenTTL:          24 * time.Hour,
		ValkeyChannel:     "otoge:rounds",
		LogLevel:          "info",
	}
}

// Load reads an optional .env file and then the process environment on
// top of the defaults.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, falling back to Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := &reader{lookup: lookup}

	e.str("ADDR", &c.Addr)
	e.str("CORS_ORIGIN", &c.AllowedOrigin)
	e.integer("MAX_ROOMS", &c.MaxRooms)
	e.integer("MAX_PLAYERS_PER_ROOM", &c.MaxPlayersPerRoom)
	e.integer("MAX_NAME_LENGTH", &c.MaxNameLength)
	e.integer("CHAT_HISTORY", &c.ChatHistory)
	e.millis("DEBOUNCE_MS", &c.DebounceInterval)
	e.duration("SWEEP_INTERVAL", &c.SweepInterval)
	e.duration("ROOM_IDLE_TIMEOUT", &c.RoomIdleTimeout)
	e.duration("USER_IDLE_TIMEOUT", &c.UserIdleTimeout)
	e.str("TOKEN_SECRET", &c.TokenSecret)
	e.duration("TOKEN_TTL", &c.TokenTTL)
	e.str("VALKEY_ADDR", &c.ValkeyAddr)
	e.str("VALKEY_CHANNEL", &c.ValkeyChannel)
	e.str("LOG_LEVEL", &c.LogLevel)

	if e.err != nil {
		return Config{}, e.err
	}
	return c, nil
}

// Validate rejects limits and intervals that cannot work.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, v time.Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr cannot be empty"))
	}
	positive("max rooms", c.MaxRooms)
	positive("max players per room", c.MaxPlayersPerRoom)
	positive("max name length", c.MaxNameLength)
	positive("chat history", c.ChatHistory)
	positiveDur("debounce interval", c.DebounceInterval)
	positiveDur("sweep interval", c.SweepInterval)
	positiveDur("room idle timeout", c.RoomIdleTimeout)
	positiveDur("user idle timeout", c.UserIdleTimeout)
	positiveDur("token ttl", c.TokenTTL)
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *reader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *reader) millis(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = d
}
