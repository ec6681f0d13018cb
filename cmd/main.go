package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Vasu1712/otoge-battle-backend/internal/api/live"
	"github.com/Vasu1712/otoge-battle-backend/internal/api/respond"
	"github.com/Vasu1712/otoge-battle-backend/internal/api/rooms"
	"github.com/Vasu1712/otoge-battle-backend/internal/api/users"
	"github.com/Vasu1712/otoge-battle-backend/internal/auth"
	"github.com/Vasu1712/otoge-battle-backend/internal/config"
	"github.com/Vasu1712/otoge-battle-backend/internal/feed"
	"github.com/Vasu1712/otoge-battle-backend/internal/middleware"
	"github.com/Vasu1712/otoge-battle-backend/internal/storage/memory"
	"github.com/Vasu1712/otoge-battle-backend/internal/sweeper"
	"github.com/Vasu1712/otoge-battle-backend/internal/tournament"
	"github.com/Vasu1712/otoge-battle-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "otoge-battle",
	Short: "Realtime score battle rooms for rhythm game sessions",
	RunE:  runServer,
}

var (
	flagEnvFile    string
	flagAddr       string
	flagOrigin     string
	flagMaxRooms   int
	flagMaxPlayers int
	flagDebounce   time.Duration
	flagValkey     string
	flagLogLevel   string
	flagLogPretty  bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagEnvFile, "env-file", "", "dotenv file to load (default .env when present)")
	flags.StringVar(&flagAddr, "addr", "", "listen address (env ADDR)")
	flags.StringVar(&flagOrigin, "cors-origin", "", "allowed frontend origin, * for any (env CORS_ORIGIN)")
	flags.IntVar(&flagMaxRooms, "max-rooms", 0, "maximum live rooms (env MAX_ROOMS)")
	flags.IntVar(&flagMaxPlayers, "max-players", 0, "maximum members per room (env MAX_PLAYERS_PER_ROOM)")
	flags.DurationVar(&flagDebounce, "debounce", 0, "all-zero reset debounce (env DEBOUNCE_MS)")
	flags.StringVar(&flagValkey, "valkey-addr", "", "valkey address for the round feed (env VALKEY_ADDR)")
	flags.StringVar(&flagLogLevel, "log-level", "", "zerolog level (env LOG_LEVEL)")
	flags.BoolVar(&flagLogPretty, "log-pretty", false, "human readable console logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute otoge-battle command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var files []string
	if flagEnvFile != "" {
		files = append(files, flagEnvFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	hub := ws.NewHub()
	go hub.Run(ctx)

	var roundFeed feed.Publisher = feed.Nop{}
	if cfg.ValkeyAddr != "" {
		v, err := feed.NewValkey(cfg.ValkeyAddr, cfg.ValkeyChannel)
		if err != nil {
			return err
		}
		roundFeed = v
		log.Info().Str("addr", cfg.ValkeyAddr).Str("channel", cfg.ValkeyChannel).Msg("[main] round feed enabled")
	}

	secret := cfg.TokenSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Msg("[main] TOKEN_SECRET not set, tokens will not survive a restart")
	}
	tokens, err := auth.NewTokens(secret, cfg.TokenTTL, clk)
	if err != nil {
		return err
	}

	svc := tournament.New(tournament.Options{
		MaxNameLength:     cfg.MaxNameLength,
		MaxPlayersPerRoom: cfg.MaxPlayersPerRoom,
		Debounce:          cfg.DebounceInterval,
		ChatHistory:       cfg.ChatHistory,
	}, tournament.Deps{
		Users:     memory.NewUserStore(clk),
		Rooms:     memory.NewRoomStore(cfg.MaxRooms),
		Publisher: hub,
		Passwords: auth.NewBcrypt(0),
		Feed:      roundFeed,
		Clock:     clk,
	})
	defer svc.Close()

	go sweeper.New(svc, clk, cfg.SweepInterval, cfg.RoomIdleTimeout, cfg.UserIdleTimeout).Run(ctx)

	r := mux.NewRouter()
	users.RegisterUserRoutes(r, &users.UserHandler{Service: svc, Tokens: tokens})
	rooms.RegisterRoomRoutes(r, &rooms.RoomHandler{Service: svc, Tokens: tokens})
	live.RegisterLiveRoutes(r, live.NewLiveHandler(svc, hub, tokens, cfg.AllowedOrigin))
	r.HandleFunc("/healthz", health(svc, hub)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.Logger(middleware.CORS(cfg.AllowedOrigin)(r)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("[main] server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	log.Info().Msg("[main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("[main] http shutdown")
	}
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = flagAddr
	}
	if flags.Changed("cors-origin") {
		cfg.AllowedOrigin = flagOrigin
	}
	if flags.Changed("max-rooms") {
		cfg.MaxRooms = flagMaxRooms
	}
	if flags.Changed("max-players") {
		cfg.MaxPlayersPerRoom = flagMaxPlayers
	}
	if flags.Changed("debounce") {
		cfg.DebounceInterval = flagDebounce
	}
	if flags.Changed("valkey-addr") {
		cfg.ValkeyAddr = flagValkey
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty = flagLogPretty
	}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func health(svc *tournament.Service, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, _ := hub.Connections()
		respond.JSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"rooms":       len(svc.ListRooms()),
			"connections": clients,
		})
	}
}
