package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"coinflip/internal/services/gameroom"

	"github.com/joho/godotenv"
)

const (
	defaultServiceName     = "coinflip-coordinator"
	defaultServicePort     = 8080
	defaultShutdownTimeout = 10 * time.Second
)

// Config is everything the coordinator reads at startup. Empty addresses
// switch the matching integration off.
type Config struct {
	ServiceName     string
	ServicePort     int
	AdvertisedHost  string
	ShutdownTimeout time.Duration

	ConsulAddrs string
	NatsURL     string
	RedisAddr   string

	EthRPCURL      string
	EscrowContract string
	EthPrivateKey  string

	LogLevel  string
	LogFormat string

	Game gameroom.Config
}

func (c Config) ListenAddr() string { return fmt.Sprintf(":%d", c.ServicePort) }

// AdvertiseAddr is what other services use to reach this instance.
func (c Config) AdvertiseAddr() string {
	return fmt.Sprintf("%s:%d", c.AdvertisedHost, c.ServicePort)
}

// ChainEnabled reports whether the escrow adapter has enough to connect.
func (c Config) ChainEnabled() bool {
	return c.EthRPCURL != "" && c.EscrowContract != ""
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. Variables already set in
// the environment win over the file.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	r := reader{}
	host := os.Getenv("SERVICE_ADVERTISED_HOSTNAME")
	if host == "" {
		host, _ = os.Hostname()
	}

	cfg := Config{
		ServiceName:     r.str("SERVICE_NAME", defaultServiceName),
		ServicePort:     r.int("SERVICE_PORT", defaultServicePort),
		AdvertisedHost:  host,
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		ConsulAddrs:     os.Getenv("CONSUL_HTTP_ADDR"),
		NatsURL:         os.Getenv("NATS_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		EthRPCURL:       os.Getenv("ETH_RPC_URL"),
		EscrowContract:  os.Getenv("ESCROW_CONTRACT"),
		EthPrivateKey:   os.Getenv("ETH_PRIVATE_KEY"),
		LogLevel:        r.str("LOG_LEVEL", "info"),
		LogFormat:       r.str("LOG_FORMAT", "json"),
	}

	g := gameroom.DefaultConfig()
	g.WinThreshold = r.int("WIN_THRESHOLD", g.WinThreshold)
	g.MaxRounds = r.int("MAX_ROUNDS", g.MaxRounds)
	g.DepositDeadline = r.duration("DEPOSIT_DEADLINE", g.DepositDeadline)
	g.ChallengerDepositWindow = r.duration("CHALLENGER_DEPOSIT_WINDOW", g.ChallengerDepositWindow)
	g.CountdownSeconds = r.int("COUNTDOWN_SECONDS", g.CountdownSeconds)
	g.ChoiceDeadline = r.duration("CHOICE_DEADLINE", g.ChoiceDeadline)
	g.PowerDeadline = r.duration("POWER_DEADLINE", g.PowerDeadline)
	g.ForfeitGrace = r.duration("FORFEIT_GRACE", g.ForfeitGrace)
	g.FlipAnimationDelay = r.duration("FLIP_ANIMATION_DELAY", g.FlipAnimationDelay)
	g.ResultDisplayDelay = r.duration("RESULT_DISPLAY_DELAY", g.ResultDisplayDelay)
	g.TerminalGrace = r.duration("TERMINAL_GRACE", g.TerminalGrace)
	g.AbandonAfter = r.duration("ABANDON_AFTER", g.AbandonAfter)
	cfg.Game = g

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if cfg.ServicePort <= 0 || cfg.ServicePort > 65535 {
		return Config{}, fmt.Errorf("SERVICE_PORT out of range: %d", cfg.ServicePort)
	}
	if (cfg.EthRPCURL == "") != (cfg.EscrowContract == "") {
		return Config{}, errors.New("ETH_RPC_URL and ESCROW_CONTRACT must be set together")
	}
	if err := cfg.Game.Validate(); err != nil {
		return Config{}, fmt.Errorf("game settings: %w", err)
	}
	return cfg, nil
}

// reader collects parse errors so every bad key is reported at once.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return d
}
