package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/policy"
)

// Config is the full service configuration, loaded from the environment
// (optionally seeded from a .env file).
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	Port         int    `env:"PORT" envDefault:"3000"`

	SoundsDir   string `env:"SOUNDS_DIR" envDefault:"sounds"`
	PendingDir  string `env:"PENDING_DIR" envDefault:"pending"`
	PublicDir   string `env:"PUBLIC_DIR" envDefault:"public"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"soundboard.json"`

	SessionSecret string        `env:"SESSION_SECRET"`
	GuestCooldown time.Duration `env:"GUEST_COOLDOWN" envDefault:"10s"`

	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	LogFile  string `env:"LOG_FILE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SuperadminUsername string `env:"SUPERADMIN_USERNAME" envDefault:"superadmin"`
	SuperadminPassword string `env:"SUPERADMIN_PASSWORD"`
	AdminUsername      string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword      string `env:"ADMIN_PASSWORD"`

	// ExtraUsers holds additional logins as "username:password:role" entries.
	ExtraUsers []string `env:"USERS" envSeparator:","`
}

// New loads configuration from .env and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system environment")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.SessionSecret == "" {
		// Sessions then won't survive a restart, which is fine for the
		// in-memory session table anyway.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		cfg.SessionSecret = hex.EncodeToString(buf)
		log.Warn().Msg("SESSION_SECRET not set, generated a random one")
	}

	return cfg, nil
}

// Credentials builds the static login table. Usernames are lowercased so
// lookups can be case-insensitive.
func (c *Config) Credentials() (policy.Credentials, error) {
	creds := policy.Credentials{}

	add := func(username, password string, role policy.Role) {
		if password == "" {
			return
		}
		creds[strings.ToLower(strings.TrimSpace(username))] = policy.Credential{
			Password: password,
			Role:     role,
		}
	}

	add(c.SuperadminUsername, c.SuperadminPassword, policy.RoleSuperadmin)
	add(c.AdminUsername, c.AdminPassword, policy.RoleAdmin)

	for _, entry := range c.ExtraUsers {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed USERS entry %q, want username:password:role", entry)
		}
		role := policy.Role(strings.ToLower(strings.TrimSpace(parts[2])))
		if !role.Valid() || role == policy.RoleGuest {
			return nil, fmt.Errorf("invalid role %q in USERS entry %q", parts[2], entry)
		}
		add(parts[0], strings.TrimSpace(parts[1]), role)
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials configured, set SUPERADMIN_PASSWORD at least")
	}
	return creds, nil
}
