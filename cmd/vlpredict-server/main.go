package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/vlpredict/internal/config"
	"github.com/ehr/vlpredict/internal/domain/listing"
	"github.com/ehr/vlpredict/internal/domain/syncadmin"
	"github.com/ehr/vlpredict/internal/domain/vlprediction"
	"github.com/ehr/vlpredict/internal/platform/auth"
	"github.com/ehr/vlpredict/internal/platform/db"
	"github.com/ehr/vlpredict/internal/platform/logging"
	"github.com/ehr/vlpredict/internal/platform/middleware"
	"github.com/ehr/vlpredict/internal/platform/openmrs"
	"github.com/ehr/vlpredict/internal/platform/telemetry"
	"github.com/ehr/vlpredict/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "vlpredict-server",
		Short: "Viral load suppression prediction API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(datasetsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction session for a patient and print the final state",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			id, err := uuid.Parse(patient)
			if err != nil {
				return fmt.Errorf("invalid --patient %q: %w", patient, err)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), vlprediction.DefaultSessionTimeout)
			defer cancel()
			state, err := a.predictions.Assess(ctx, id.String())
			if err != nil {
				return fmt.Errorf("assess patient: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
	cmd.Flags().String("patient", "", "patient UUID")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func datasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Administration datasets",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range syncadmin.NewService(nil, zerolog.Nop()).Datasets() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.Name, d.Title)
			}
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Export a dataset as CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			query, _ := cmd.Flags().GetString("query")
			out, _ := cmd.Flags().GetString("out")

			f, err := listing.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}
			return a.datasets.Export(cmd.Context(), w, syncadmin.Dataset(args[0]), query, f)
		},
	}
	exportCmd.Flags().String("format", string(listing.FormatCSV), "export format: csv or json")
	exportCmd.Flags().String("query", "", "only export rows matching this filter")
	exportCmd.Flags().String("out", "", "output file (default stdout)")

	cmd.AddCommand(listCmd, exportCmd)
	return cmd
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.Env, cfg.LogLevel), nil
}

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	pool        *pgxpool.Pool
	hub         *websocket.Hub
	predictions *vlprediction.Service
	datasets    *syncadmin.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	client, err := openmrs.NewClient(openmrs.Options{
		BaseURL:  cfg.OpenMRSBaseURL,
		Username: cfg.OpenMRSUsername,
		Password: cfg.OpenMRSPassword,
		Timeout:  cfg.OpenMRSTimeout,
		MaxPages: cfg.OpenMRSMaxPages,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, hub: websocket.NewHub(logger)}

	var repo syncadmin.Repository
	switch cfg.ListingSource {
	case config.ListingSourcePostgres:
		a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		repo = syncadmin.NewPGRepo(a.pool)
	default:
		repo = syncadmin.NewRESTRepo(client)
	}
	a.datasets = syncadmin.NewService(repo, logger)

	key, err := vlprediction.NewKeyFunc(cfg.PredictionCacheKey, cfg.PredictionURL)
	if err != nil {
		a.close()
		return nil, err
	}
	concepts := vlprediction.Concepts{
		ARTStartDate:   cfg.ConceptARTStartDate,
		LastEncounter:  cfg.ConceptLastEncounter,
		CurrentRegimen: cfg.ConceptCurrentRegimen,
		ARVAdherence:   cfg.ConceptARVAdherence,
		VLIndication:   cfg.ConceptVLIndication,
	}
	fetcher := vlprediction.NewFetcher(vlprediction.NewOpenMRSSource(client), concepts, time.Local, logger)
	predictor := vlprediction.NewHTTPPredictor(cfg.PredictionURL, cfg.PredictionTimeout, logger)
	a.predictions = vlprediction.NewService(fetcher, predictor, key,
		vlprediction.NewHubPublisher(a.hub, logger), logger)

	return a, nil
}

func (a *app) close() {
	if a.predictions != nil {
		a.predictions.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// newServer builds the echo server with every route mounted.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	httpMetrics, err := telemetry.NewHTTPMetrics(nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("http metrics unavailable")
	}
	e.Use(telemetry.Middleware(nil, httpMetrics))
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{
			echo.HeaderContentDisposition, "X-Request-ID", "Retry-After",
		},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/ws"))
	}

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		key, _ := cfg.SigningKey()
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	// a nil Pinger reports the database as disabled
	var pinger db.Pinger
	if a.pool != nil {
		pinger = a.pool
	}
	e.GET("/health/db", db.HealthHandler(pinger))

	apiV1 := e.Group("/api/v1")

	limit := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		limit.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		limit.BurstSize = cfg.RateLimitBurst
	}
	limit.KeyFunc = func(c echo.Context) string {
		return auth.UserIDFromContext(c.Request().Context())
	}

	vlprediction.NewHandler(a.predictions).RegisterRoutes(apiV1, middleware.RateLimit(limit))
	syncadmin.NewHandler(a.datasets).RegisterRoutes(apiV1)
	ws := websocket.NewWebSocketHandler(a.hub, vlprediction.IsTopic)
	ws.SetAllowedOrigins(cfg.CORSOrigins)
	ws.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName:    "vlpredict",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer a.close()

	e := newServer(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
