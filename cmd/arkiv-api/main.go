package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/aibridge"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/config"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/database"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/server"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/session"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arkiv-api",
		Short: "Shared trip planner backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("default-trip-id", defaults.GetString("trip.default_id"), "Trip opened when no trip id is given")
	cmd.PersistentFlags().String("share-base-url", defaults.GetString("share.base_url"), "Base URL used for share links")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model name")
	cmd.PersistentFlags().String("home-currency", defaults.GetString("receipt.home_currency"), "Receipt home currency")
	cmd.PersistentFlags().Duration("push-timeout", defaults.GetDuration("sync.push_timeout"), "Timeout for one snapshot push")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "trip.default_id", "default-trip-id")
	bindFlag(cmd, "share.base_url", "share-base-url")
	bindFlag(cmd, "gemini.model", "gemini-model")
	bindFlag(cmd, "receipt.home_currency", "home-currency")
	bindFlag(cmd, "sync.push_timeout", "push-timeout")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	homeCurrency, ok := trips.ParseCurrencyCode(appConfig.HomeCurrency)
	if !ok {
		return fmt.Errorf("receipt.home_currency %q is not a supported currency", appConfig.HomeCurrency)
	}
	defaultTripID, err := trips.NewTripID(appConfig.DefaultTripID)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		Store:       documentService,
		IDProvider:  trips.NewUUIDProvider(),
		Logger:      logger,
		PushTimeout: appConfig.PushTimeout,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	generator := aibridge.NewUnavailableGenerator()
	if appConfig.GeminiAPIKey != "" {
		geminiGenerator, err := aibridge.NewGeminiGenerator(ctx, aibridge.GeminiConfig{
			APIKey:            appConfig.GeminiAPIKey,
			Model:             appConfig.GeminiModel,
			RequestsPerSecond: appConfig.GeminiRequestsPerSecond,
			Burst:             appConfig.GeminiBurst,
			Logger:            logger,
		})
		if err != nil {
			return err
		}
		generator = geminiGenerator
	} else {
		logger.Warn("gemini api key not configured, ai features use fallbacks")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:  registry,
		Documents: documentService,
		Bridge: aibridge.New(aibridge.Config{
			Generator:      generator,
			TargetLanguage: appConfig.TargetLanguage,
			Logger:         logger,
		}),
		Rates:         trips.DefaultRates(),
		HomeCurrency:  homeCurrency,
		ShareBaseURL:  appConfig.ShareBaseURL,
		DefaultTripID: defaultTripID,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event streams watch the request context, so tie it to the signal.
	httpServer := &http.Server{
		Addr:        appConfig.HTTPAddress,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
