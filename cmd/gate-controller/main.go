package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gate-controller/internal/clock"
	"gate-controller/internal/config"
	"gate-controller/internal/db"
	"gate-controller/internal/dispatch"
	"gate-controller/internal/engine"
	"gate-controller/internal/history"
	gatehttp "gate-controller/internal/http"
	"gate-controller/internal/metrics"
	"gate-controller/internal/mirror"
	"gate-controller/internal/notify"
	"gate-controller/internal/recognition"
	"gate-controller/internal/registry"
	"gate-controller/internal/service"
	"gate-controller/internal/storage/s3"
)

func main() {
	configPath := flag.String("config", "/opt/gate-controller/config.yaml", "path to config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("gate controller exited")
	}
}

func run(configPath string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	metrics.MustRegister()
	clk := clock.Real()

	// Authoritative local store. Without it no decision can be made.
	store, err := history.Open(history.Config{
		Path:     cfg.SQLite.Path,
		PoolSize: cfg.SQLite.PoolSize,
		Clock:    clk,
		Log:      log,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// Remote database: mirror sink and, optionally, the registry source.
	var gormDB *gorm.DB
	if cfg.Postgres.DSN != "" {
		gormDB, err = gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
		if err != nil {
			return err
		}
		if err := db.RunMigrations(gormDB); err != nil {
			return err
		}
	}

	staticWindows, err := cfg.ScheduleWindows()
	if err != nil {
		return err
	}

	var vehicleSource registry.VehicleSource
	var scheduleSource registry.ScheduleSource = registry.StaticScheduleSource(staticWindows)
	switch cfg.Registry.Source {
	case "postgres":
		if gormDB == nil {
			return errors.New("registry.source is postgres but postgres.dsn is empty")
		}
		pg := registry.NewPostgresSource(gormDB)
		vehicleSource = pg
		scheduleSource = pg
	default:
		vehicleSource = registry.CSVSource{Path: cfg.Registry.CSVPath}
	}

	regStore := registry.NewStore(vehicleSource, scheduleSource, log)
	if err := regStore.Reload(ctx); err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Threshold:         cfg.Match.Threshold,
		SuppressionWindow: cfg.SuppressionWindow(),
		Location:          loc,
	}, store, clk, log)

	deps := service.Deps{
		Registry: regStore,
		Engine:   eng,
		History:  store,
		Clock:    clk,
		Log:      log,
	}

	if gormDB != nil {
		deps.Mirror = mirror.NewSink(gormDB, log)
	}
	if cfg.S3.Enabled {
		uploader, err := s3.NewUploader(ctx, cfg.S3.Bucket, cfg.S3.Region, log)
		if err != nil {
			return err
		}
		deps.Uploader = uploader
	}
	if cfg.SMTP.Enabled {
		deps.Notifier = notify.NewMailer(notify.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}, log)
	}
	var relay dispatch.Relay = dispatch.NoopRelay{}
	if cfg.Gate.Pin > 0 {
		relay, err = dispatch.NewSysfsRelay(cfg.Gate.Pin)
		if err != nil {
			return err
		}
	}
	deps.Dispatcher = dispatch.New(relay, cfg.HoldDuration(), clk, log)
	if cfg.Recognizer.Token != "" {
		deps.Recognizer = recognition.NewClient(recognition.Config{
			URL:     cfg.Recognizer.URL,
			Token:   cfg.Recognizer.Token,
			Regions: cfg.Recognizer.Regions,
		}, clk, log)
	}

	svc := service.NewGateService(deps)

	// Periodic registry refresh; decisions keep their snapshot.
	if cfg.Registry.ReloadSeconds > 0 {
		interval := time.Duration(cfg.Registry.ReloadSeconds) * time.Second
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := regStore.Reload(ctx); err != nil {
						log.Error().Err(err).Msg("scheduled registry reload failed")
					}
				}
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	handler := gatehttp.NewHandler(svc, cfg, log)
	handler.Register(r, gatehttp.JWTAuth(cfg.Auth.JWTSecret, log))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("gate controller listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
