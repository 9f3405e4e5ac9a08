package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/rs/zerolog"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath          string
	addr                string
	store               string
	dsn                 string
	mongoURI            string
	mongoDatabase       string
	redisAddr           string
	allowedOrigins      stringSliceFlag
	announceConnections bool
	rejectInactive      bool
	maxMessageSize      int64
	logLevel            string
	logFormat           string
)

func main() {
	defaults := config.Default()
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", defaults.ServerAddr, "server address")
	flag.StringVar(&store, "store", defaults.Store, "storage backend: memory, postgres or mongo")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string")
	flag.StringVar(&mongoURI, "mongo-uri", "", "mongo connection URI")
	flag.StringVar(&mongoDatabase, "mongo-db", defaults.Mongo.Database, "mongo database name")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for the presence mirror, empty disables it")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.BoolVar(&announceConnections, "announce-connections", defaults.AnnounceConnections, "broadcast the connection count on connect and disconnect")
	flag.BoolVar(&rejectInactive, "reject-inactive", defaults.RejectInactive, "refuse direct messages to inactive accounts")
	flag.Int64Var(&maxMessageSize, "max-message-size", defaults.MaxMessageSize, "largest inbound websocket frame in bytes")
	flag.StringVar(&logLevel, "log-level", defaults.LogLevel, "log level")
	flag.StringVar(&logFormat, "log-format", defaults.LogFormat, "log format: console or json")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if n, err := database.SeedAccounts(ctx, db, seedAccounts(cfg)); err != nil {
		logger.Fatal().Err(err).Msg("seed accounts")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("seeded accounts")
	}

	opts := server.Options{
		AnnounceConnections: cfg.AnnounceConnections,
		RejectInactive:      cfg.RejectInactive,
		MaxMessageSize:      cfg.MaxMessageSize,
	}
	if cfg.Redis.Addr != "" {
		presence, err := database.NewRedisPresence(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis presence")
		}
		defer presence.Close()
		opts.Mirror = presence
	}

	statsUpdater := stats.NewStatsUpdater()
	statsUpdater.Run()

	chatServer := server.NewChatServer(logger, db, db, statsUpdater, opts)
	srv := api.NewGoChatApp(logger, chatServer, db, statsUpdater.Handler(), cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		// connections still draining may update stats, so leave the updater running
		logger.Error().Err(err).Msg("chat server shutdown")
	} else {
		statsUpdater.Stop()
	}

	logger.Info().Msg("shutdown complete")
}

// loadConfig reads the optional config file and applies every flag that was
// set explicitly on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "store":
			cfg.Store = store
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "mongo-uri":
			cfg.Mongo.URI = mongoURI
		case "mongo-db":
			cfg.Mongo.Database = mongoDatabase
		case "redis-addr":
			cfg.Redis.Addr = redisAddr
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		case "announce-connections":
			cfg.AnnounceConnections = announceConnections
		case "reject-inactive":
			cfg.RejectInactive = rejectInactive
		case "max-message-size":
			cfg.MaxMessageSize = maxMessageSize
		case "log-level":
			cfg.LogLevel = logLevel
		case "log-format":
			cfg.LogFormat = logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(out io.Writer, cfg *config.Config) (zerolog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return zerolog.Nop(), err
	}

	if cfg.LogFormat == config.LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "go-chatrelay").Logger(), nil
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := database.NewPgStore(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.StoreMongo:
		mongoStore, err := database.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		return mongoStore, nil
	case config.StoreMemory:
		return database.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func seedAccounts(cfg *config.Config) []database.Account {
	accounts := make([]database.Account, 0, len(cfg.SeedAccounts))
	for _, a := range cfg.SeedAccounts {
		accounts = append(accounts, database.Account{
			Username: a.Username,
			Nickname: a.Nickname,
			Blocked:  a.Blocked,
		})
	}
	return accounts
}
