package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvToken         = "REMINDBOT_TOKEN"
	EnvDiscordToken  = "DISCORD_BOT_TOKEN"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv fills secrets the file left empty.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if strings.TrimSpace(cfg.Transport.Token) != "" {
		return
	}
	keys := []string{EnvToken, EnvDiscordToken}
	if strings.EqualFold(strings.TrimSpace(cfg.Transport.Driver), DriverTelegram) {
		keys = []string{EnvToken, EnvTelegramToken}
	}
	for _, k := range keys {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			cfg.Transport.Token = v
			return
		}
	}
}
