package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/TikhonP/heytelepat-speaker/internal/api"
	"github.com/TikhonP/heytelepat-speaker/internal/backend"
	"github.com/TikhonP/heytelepat-speaker/internal/config"
	"github.com/TikhonP/heytelepat-speaker/internal/dialog"
	"github.com/TikhonP/heytelepat-speaker/internal/engine"
	"github.com/TikhonP/heytelepat-speaker/internal/lockfile"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/recovery"
	"github.com/TikhonP/heytelepat-speaker/internal/speech"
	"github.com/TikhonP/heytelepat-speaker/internal/store"
	"github.com/TikhonP/heytelepat-speaker/internal/transport"
	"github.com/TikhonP/heytelepat-speaker/internal/util"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// Default configuration constants
const (
	// DefaultDBFileName is the default SQLite database filename inside the state directory
	DefaultDBFileName = "speaker.db"
	// InputConsole reads answers from stdin and prints prompts
	InputConsole = "console"
	// InputOpenAI speaks and listens through the sound card with OpenAI speech
	InputOpenAI = "openai"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	// Initialize structured logger
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping speaker", "version", version)
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "host", *flags.host, "input", *flags.input, "status_addr", *flags.statusAddr)
	if err := run(ctx, flags); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Speaker failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Speaker exited successfully")
}

// Config holds environment configuration
type Config struct {
	Host          string
	Token         string
	ConfigPath    string
	StateDir      string
	DBDSN         string
	Secure        bool
	ReminderDelay time.Duration
	MaxReminders  int
	StatusAddr    string
	Input         string
	OpenAIKey     string
	CleanCache    bool
	LogLevel      string
}

// Flags holds command line flag values
type Flags struct {
	host          *string
	token         *string
	configPath    *string
	stateDir      *string
	dbDSN         *string
	secure        *bool
	reminderDelay *time.Duration
	maxReminders  *int
	statusAddr    *string
	input         *string
	openaiKey     *string
	cleanCache    *bool
	logLevel      *string
}

// initializeLogger sets up structured logging at the given level, debug when unparsable
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		Host:          os.Getenv("SPEAKER_HOST"),
		Token:         os.Getenv("SPEAKER_TOKEN"),
		ConfigPath:    os.Getenv("SPEAKER_CONFIG"),
		StateDir:      os.Getenv("SPEAKER_STATE_DIR"),
		DBDSN:         os.Getenv("SPEAKER_DB_DSN"),
		Secure:        util.ParseBoolEnv("SPEAKER_SECURE", true),
		ReminderDelay: util.ParseDurationEnv("SPEAKER_REMINDER_DELAY", time.Minute, dialog.DefaultReminderDelay),
		MaxReminders:  util.ParseIntEnv("SPEAKER_MAX_REMINDERS", dialog.DefaultMaxReminders),
		StatusAddr:    os.Getenv("SPEAKER_STATUS_ADDR"),
		Input:         os.Getenv("SPEAKER_INPUT"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		CleanCache:    util.ParseBoolEnv("SPEAKER_CLEAN_CACHE", false),
		LogLevel:      os.Getenv("SPEAKER_LOG_LEVEL"),
	}

	// Device file and state default to ~/.speaker
	if cfg.ConfigPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			slog.Debug("No home directory, using working directory for config", "error", err)
			path = filepath.Join(config.DefaultDir, config.FileName)
		}
		cfg.ConfigPath = path
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Dir(cfg.ConfigPath)
		slog.Debug("No SPEAKER_STATE_DIR set, using config directory", "state_dir", cfg.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DBDSN)
	}
	if cfg.Input == "" {
		cfg.Input = InputOpenAI
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = api.DefaultAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}

	slog.Debug("environment variables loaded",
		"SPEAKER_HOST", cfg.Host,
		"SPEAKER_TOKEN_SET", cfg.Token != "",
		"SPEAKER_CONFIG", cfg.ConfigPath,
		"SPEAKER_STATE_DIR", cfg.StateDir,
		"SPEAKER_DB_DSN_SET", cfg.DBDSN != "",
		"SPEAKER_SECURE", cfg.Secure,
		"SPEAKER_REMINDER_DELAY", cfg.ReminderDelay,
		"SPEAKER_MAX_REMINDERS", cfg.MaxReminders,
		"SPEAKER_INPUT", cfg.Input,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "")

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		host:          fs.String("host", config.Host, "speaker API host (overrides $SPEAKER_HOST and the device file)"),
		token:         fs.String("token", config.Token, "speaker token (overrides $SPEAKER_TOKEN and the device file)"),
		configPath:    fs.String("config", config.ConfigPath, "device config file (overrides $SPEAKER_CONFIG)"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for speaker data (overrides $SPEAKER_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DBDSN, "database DSN, SQLite path or Postgres URL (overrides $SPEAKER_DB_DSN)"),
		secure:        fs.Bool("secure", config.Secure, "use wss and https (overrides $SPEAKER_SECURE)"),
		reminderDelay: fs.Duration("reminder-delay", config.ReminderDelay, "delay before an unanswered reminder repeats (overrides $SPEAKER_REMINDER_DELAY)"),
		maxReminders:  fs.Int("max-reminders", config.MaxReminders, "unanswered reminders before giving up, 0 for unlimited (overrides $SPEAKER_MAX_REMINDERS)"),
		statusAddr:    fs.String("status-addr", config.StatusAddr, "status API address, empty to disable (overrides $SPEAKER_STATUS_ADDR)"),
		input:         fs.String("input", config.Input, "speech input: console or openai (overrides $SPEAKER_INPUT)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		cleanCache:    fs.Bool("clean-cache", config.CleanCache, "drop cached speech before starting (overrides $SPEAKER_CLEAN_CACHE)"),
		logLevel:      fs.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $SPEAKER_LOG_LEVEL)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Debug("flag parsing stopped", "error", err)
	}

	slog.Debug("flags parsed",
		"host", *flags.host,
		"tokenSet", *flags.token != "",
		"configPath", *flags.configPath,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"input", *flags.input,
		"statusAddr", *flags.statusAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DBDSN && config.DBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "state_dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// resolveDevice merges the device file with env and flags, then writes it back
// so the pairing survives restarts.
func resolveDevice(flags Flags) (config.Device, error) {
	device, err := config.Load(*flags.configPath)
	if err != nil {
		return config.Device{}, err
	}
	device = device.Merge(config.Device{Token: *flags.token, Host: *flags.host, Version: version})
	if err := device.Validate(); err != nil {
		return config.Device{}, fmt.Errorf("%w (set -token/-host or edit %s)", err, *flags.configPath)
	}
	if err := config.Save(*flags.configPath, device); err != nil {
		slog.Warn("Failed to save device config", "error", err, "path", *flags.configPath)
	}
	return device, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSpeechOptions constructs OpenAI speech configuration options
func buildSpeechOptions(flags Flags) []speech.Option {
	var speechOpts []speech.Option
	if *flags.openaiKey != "" {
		speechOpts = append(speechOpts, speech.WithAPIKey(*flags.openaiKey))
	}
	return speechOpts
}

// buildAPIOptions constructs status API configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.statusAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.statusAddr))
	}
	return apiOpts
}

// buildSpeech selects the speaker and listener pair for the configured input.
func buildSpeech(ctx context.Context, flags Flags, cache speech.SpeechCache) (speech.Speaker, speech.Listener, error) {
	switch strings.ToLower(*flags.input) {
	case InputConsole:
		console := speech.NewConsoleIO(os.Stdin, os.Stdout)
		return console, console, nil
	case InputOpenAI:
		client, err := speech.NewOpenAIClient(buildSpeechOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		speaker := speech.NewCachedSpeaker(client, speech.DefaultSink(), cache)
		if err := speaker.Precache(ctx, dialog.CacheablePhrases(*flags.reminderDelay)...); err != nil {
			slog.Warn("Speech precache failed", "error", err)
		}
		return speaker, speech.NewTranscribingListener(speech.DefaultSource(), client), nil
	default:
		return nil, nil, fmt.Errorf("invalid input %q, available options: %s, %s", *flags.input, InputConsole, InputOpenAI)
	}
}

// run wires every component and blocks until ctx is cancelled or one of them fails.
func run(ctx context.Context, flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return fmt.Errorf("failed to create required directories: %w", err)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	device, err := resolveDevice(flags)
	if err != nil {
		return err
	}

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	if *flags.cleanCache {
		if err := st.ClearSpeech(); err != nil {
			return fmt.Errorf("failed to clean speech cache: %w", err)
		}
		slog.Info("Speech cache cleaned")
	}

	speaker, listener, err := buildSpeech(ctx, flags, st)
	if err != nil {
		return err
	}

	client := backend.NewClient(backend.BaseURL(device.Host, *flags.secure))
	deps := dialog.Deps{
		Token:         device.Token,
		Submitter:     backend.NewRecorder(client, st, nil),
		ReminderDelay: *flags.reminderDelay,
		MaxReminders:  *flags.maxReminders,
	}

	floor := speech.NewFloor()
	states := dialog.NewStoreBasedStateManager(st)
	channel := transport.New(models.StreamMeasurements,
		transport.URL(device.Host, *flags.secure, models.StreamMeasurements), device.Token)
	measurements := engine.New(models.StreamMeasurements, deps, floor, speaker, listener,
		engine.WithSender(channel), engine.WithStateManager(states))
	// Spoken commands are not persisted; a restart simply drops them.
	local := engine.New(models.StreamLocal, deps, floor, speaker, listener)

	rm := recovery.NewRecoveryManager(st)
	rm.RegisterRecoverable(recovery.NewDialogRecoverable(measurements))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Dialog recovery incomplete", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return measurements.Run(ctx) })
	g.Go(func() error { return engine.Loop(ctx, channel, measurements) })
	g.Go(func() error { return engine.ListenCommands(ctx, floor, listener, local) })
	if *flags.statusAddr != "" {
		server := api.NewServer(version, st,
			[]api.DialogSource{measurements, local},
			[]api.ChannelSource{channel},
			buildAPIOptions(flags)...)
		g.Go(func() error { return server.Run(ctx) })
	}
	slog.Info("Speaker running", "host", device.Host, "stream", models.StreamMeasurements)
	err = g.Wait()
	if errors.Is(err, io.EOF) {
		slog.Info("Input closed, shutting down")
		return nil
	}
	return err
}
