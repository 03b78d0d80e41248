package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/notes/internal/config"
	"github.com/ehr/notes/internal/domain/notes"
	"github.com/ehr/notes/internal/platform/auth"
	"github.com/ehr/notes/internal/platform/ccda"
	"github.com/ehr/notes/internal/platform/db"
	"github.com/ehr/notes/internal/platform/endpoints"
	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/internal/platform/middleware"
	"github.com/ehr/notes/internal/platform/pdf"
	"github.com/ehr/notes/internal/platform/rendercache"
	"github.com/ehr/notes/internal/platform/telemetry"
)

const version = "0.1.0"

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Logger()
}

// app holds the components shared by the server and the CLI commands.
// Components whose configuration is absent are left nil.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool      *pgxpool.Pool
	client    *fhir.Client
	fetcher   *fhir.Fetcher
	notes     *notes.Service
	cda       *ccda.Renderer
	converter notes.Converter
	pdfLocal  *pdf.Service
	directory *endpoints.Directory
	metrics   *telemetry.Provider
}

type appOptions struct {
	fhir      bool
	database  bool
	endpoints bool
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	if cfg.MetricsEnabled {
		a.metrics = telemetry.NewProvider()
	}

	var err error
	a.cda, err = newCDARenderer(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.PDFServiceURL != "" {
		a.converter = pdf.NewClient(cfg.PDFServiceURL, nil)
	} else {
		a.pdfLocal, err = pdf.NewService(pdf.Config{
			Command:       cfg.PDFCommand,
			OutputSuffix:  cfg.PDFOutputSuffix,
			MaxConcurrent: cfg.PDFMaxConcurrent,
		}, logger.With().Str("component", "pdf").Logger())
		if err != nil {
			return nil, err
		}
		a.converter = a.pdfLocal
	}

	if opts.database && cfg.DatabaseURL != "" {
		a.pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ConnectTimeout:  10 * time.Second,
			ApplicationName: "notes-server",
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		if a.metrics != nil {
			pool := a.pool
			a.metrics.RegisterGauge("db_pool_acquired_connections", "Database connections in use.",
				func() int64 { return int64(pool.Stat().AcquiredConns()) })
			a.metrics.RegisterGauge("db_pool_idle_connections", "Idle database connections.",
				func() int64 { return int64(pool.Stat().IdleConns()) })
		}
	}

	if opts.fhir {
		if err := a.initFHIR(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.endpoints {
		a.directory, err = loadDirectory(ctx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func newCDARenderer(cfg *config.Config, logger zerolog.Logger) (*ccda.Renderer, error) {
	opts := []ccda.RendererOption{
		ccda.WithSrcdocLinks(cfg.CDASrcdocLinks),
		ccda.WithLogger(logger.With().Str("component", "ccda").Logger()),
	}
	if cfg.CDAStylesheet != "" {
		opts = append(opts, ccda.WithLoader(ccda.FileStylesheet(cfg.CDAStylesheet)))
	}
	return ccda.NewRenderer(opts...)
}

func loadDirectory(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*endpoints.Directory, error) {
	var eps []endpoints.Endpoint
	if cfg.EndpointsSource != "" {
		var err error
		eps, err = endpoints.Load(ctx, cfg.EndpointsSource)
		if err != nil {
			return nil, err
		}
		eps = endpoints.SortAndUnique(eps)
	}
	dir := endpoints.NewDirectory(eps, cfg.EndpointsGramLength, logger.With().Str("component", "endpoints").Logger())
	logger.Info().Int("endpoints", dir.Len()).Msg("endpoint directory loaded")
	return dir, nil
}

func (a *app) initFHIR(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.RequireFHIR(); err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.FHIRTimeout}
	tokens, err := auth.NewTokenSource(ctx, auth.Config{
		AccessToken:    cfg.FHIRAccessToken,
		ClientID:       cfg.SMARTClientID,
		TokenURL:       cfg.SMARTTokenURL,
		PrivateKeyFile: cfg.SMARTPrivateKeyFile,
		KeyID:          cfg.SMARTKeyID,
		Scopes:         cfg.Scopes(),
		FHIRBaseURL:    cfg.FHIRBaseURL,
		HTTPClient:     httpClient,
	})
	if err != nil {
		return err
	}

	fhirLogger := a.logger.With().Str("component", "fhir").Logger()
	opts := []fhir.Option{
		fhir.WithHTTPClient(httpClient),
		fhir.WithRateLimit(cfg.FHIRRateLimitRPS, cfg.FHIRRateLimitBurst),
		fhir.WithLogger(fhirLogger),
	}
	if tokens != nil {
		opts = append(opts, fhir.WithTokenSource(tokens))
	}
	a.client, err = fhir.NewClient(cfg.FHIRBaseURL, opts...)
	if err != nil {
		return err
	}

	backend, _ := fhir.ParseBackend(cfg.FHIRBackend)
	if backend == "" {
		tok, err := a.client.AccessToken()
		if err != nil {
			a.logger.Warn().Err(err).Msg("could not obtain access token for backend detection")
		}
		backend = fhir.DetectBackend(tok)
	}
	a.logger.Info().
		Str("base_url", a.client.BaseURL()).
		Str("backend", string(backend)).
		Str("auth", auth.Config{AccessToken: cfg.FHIRAccessToken, ClientID: cfg.SMARTClientID}.Mode()).
		Msg("FHIR client configured")

	a.fetcher = fhir.NewFetcher(a.client, backend, fhirLogger)
	renderer := notes.NewRenderer(a.client, a.cda, a.converter, a.logger.With().Str("component", "renderer").Logger())
	a.notes = notes.NewService(a.fetcher, renderer, a.renderCache(ctx), a.logger.With().Str("component", "notes").Logger())
	if a.metrics != nil {
		a.notes.SetObserver(a.metrics)
	}
	return nil
}

// renderCache layers the in-memory cache over the Postgres one. Either may
// be absent; nil disables caching.
func (a *app) renderCache(ctx context.Context) rendercache.Store {
	var stores []rendercache.Store
	if a.cfg.RenderCacheSize > 0 {
		stores = append(stores, rendercache.NewMemoryStore(a.cfg.RenderCacheSize, a.cfg.RenderCacheTTL))
	}
	if a.pool != nil {
		pg := rendercache.NewPGStore(a.pool, a.cfg.RenderCacheTTL)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("render cache schema unavailable; using memory only")
		} else {
			stores = append(stores, pg)
		}
	}
	switch len(stores) {
	case 0:
		return nil
	case 1:
		return stores[0]
	default:
		return rendercache.Chain(stores...)
	}
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// newServer builds the echo instance with every configured route.
func (a *app) newServer() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{
		FrameAncestors: cfg.CORSOrigins,
		HSTS:           cfg.TLSEnabled,
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/pdf"))
	if a.metrics != nil {
		e.Use(a.metrics.Middleware())
		e.GET("/metrics", a.metrics.Handler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version,
			"fhir":    a.client != nil,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.DocumentBodyLimit))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	if a.notes != nil {
		notes.NewHandler(a.notes).RegisterRoutes(apiV1)
	}
	ccda.NewHandler(a.cda).RegisterRoutes(apiV1)
	if a.directory != nil {
		endpoints.NewHandler(a.directory).RegisterRoutes(apiV1)
	}
	if a.pdfLocal != nil {
		pdf.NewHandler(a.pdfLocal, a.logger).RegisterRoutes(apiV1)
	}

	return e
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(os.Stderr, cfg), nil
}
