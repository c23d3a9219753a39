package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Endpoints of the carrier deployment the relay was built against.
const (
	DefaultLoginURL  = "https://www.orangecarrier.com/login"
	DefaultSocketURL = "https://hub.orangecarrier.com/socket.io/"
	DefaultCallsURL  = "https://www.orangecarrier.com/live/calls/lives"
	DefaultSoundURL  = "https://www.orangecarrier.com/live/calls/sound"
)

// Config contains runtime configuration required by the service.
type Config struct {
	Email    string
	Password string

	BotToken string
	ChatID   string
	AdminID  string

	DBURL string

	OpenAIKey       string
	TranscribeURL   string
	TranscribeModel string

	LoginURL    string
	SocketURL   string
	CallsURL    string
	SoundURL    string
	Room        string
	InsecureTLS bool

	TelegramAPIURL string
	DownloadDir    string

	ReconnectDelay  time.Duration
	PollInterval    time.Duration
	SettleDelay     time.Duration
	MaxInFlight     int
	CleanupInterval time.Duration
	MaxFileAge      time.Duration

	APIKeys map[string]string // apiKey -> operator name
}

// Load reads configuration from environment variables.
// API_KEYS format: "name1:key1,name2:key2"
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		Email:    env("EMAIL"),
		Password: env("PASSWORD"),
		BotToken: env("BOT_TOKEN"),
		ChatID:   env("CHAT_ID"),
		AdminID:  env("ADMIN_ID"),
		DBURL:    env("DB_URL"),

		OpenAIKey:       env("OPENAI_API_KEY"),
		TranscribeURL:   env("TRANSCRIBE_URL"),
		TranscribeModel: env("TRANSCRIBE_MODEL"),

		LoginURL:  orDefault(env("CARRIER_LOGIN_URL"), DefaultLoginURL),
		SocketURL: orDefault(env("CARRIER_SOCKET_URL"), DefaultSocketURL),
		CallsURL:  orDefault(env("CARRIER_CALLS_URL"), DefaultCallsURL),
		SoundURL:  orDefault(env("CARRIER_SOUND_URL"), DefaultSoundURL),
		Room:      env("CARRIER_ROOM"),

		TelegramAPIURL: env("TELEGRAM_API_URL"),
		DownloadDir:    orDefault(env("DOWNLOAD_DIR"), "downloads"),
	}

	var missing []string
	for _, req := range []struct {
		name  string
		value string
	}{
		{"EMAIL", cfg.Email},
		{"PASSWORD", cfg.Password},
		{"BOT_TOKEN", cfg.BotToken},
		{"CHAT_ID", cfg.ChatID},
		{"ADMIN_ID", cfg.AdminID},
		{"DB_URL", cfg.DBURL},
	} {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%s required", strings.Join(missing, ", "))
	}

	if cfg.Room == "" {
		cfg.Room = "user:" + cfg.Email + ":orange:internal"
	}

	var err error
	if cfg.InsecureTLS, err = parseBool(env("CARRIER_INSECURE_TLS"), "CARRIER_INSECURE_TLS"); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = parseDuration(env("RECONNECT_DELAY"), "RECONNECT_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parseDuration(env("POLL_INTERVAL"), "POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SettleDelay, err = parseDuration(env("SETTLE_DELAY"), "SETTLE_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = parseDuration(env("CLEANUP_INTERVAL"), "CLEANUP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MaxFileAge, err = parseDuration(env("MAX_FILE_AGE"), "MAX_FILE_AGE", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval <= 0 || cfg.MaxFileAge <= 0 {
		return Config{}, errors.New("CLEANUP_INTERVAL and MAX_FILE_AGE must be positive")
	}

	cfg.MaxInFlight = 16
	if raw := env("MAX_INFLIGHT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_INFLIGHT must be a positive integer")
		}
		cfg.MaxInFlight = n
	}

	if cfg.APIKeys, err = parseAPIKeys(env("API_KEYS")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// parseDuration accepts Go durations ("750ms", "1h") or bare seconds ("5").
func parseDuration(raw, name string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%s must not be negative", name)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func parseBool(raw, name string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, err)
	}
	return b, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	if raw == "" {
		return keys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "name:key,name:key"`)
		}
		name := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if name == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "name:key,name:key"`)
		}
		keys[key] = name
	}
	return keys, nil
}
