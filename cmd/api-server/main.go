package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/hackgods/practice-booking/internal/api"
	"github.com/hackgods/practice-booking/internal/booking"
	"github.com/hackgods/practice-booking/internal/clock"
	"github.com/hackgods/practice-booking/internal/config"
	"github.com/hackgods/practice-booking/internal/db"
	"github.com/hackgods/practice-booking/internal/gcal"
	"github.com/hackgods/practice-booking/internal/logging"
	"github.com/hackgods/practice-booking/internal/metrics"
	"github.com/hackgods/practice-booking/internal/notify"
	redisclient "github.com/hackgods/practice-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.TimeZone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("load timezone", zap.Error(err))
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Fatal("build slot catalog", zap.Error(err))
	}
	clk := clock.New(loc)

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Redis only guards the slot with a lock; without it the unique index decides.
	var locker redisclient.Locker
	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	cancelRedis()
	if err != nil {
		logger.Warn("redis unavailable, slot locking disabled", zap.Error(err))
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Username: cfg.RedisUsername, Password: cfg.RedisPassword})
	} else {
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewBookingMetrics(reg)

	var mirror booking.CalendarMirror = booking.NoopCalendar{}
	if cfg.GoogleCalendarID != "" {
		var opts []option.ClientOption
		if cfg.GoogleCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		}
		cal, err := gcal.New(rootCtx, gcal.Config{
			CalendarID:   cfg.GoogleCalendarID,
			Location:     loc,
			SlotDuration: cfg.SlotDuration,
		}, logger.Named("gcal"), opts...)
		if err != nil {
			logger.Fatal("google calendar setup", zap.Error(err))
		}
		mirror = cal
	} else {
		logger.Warn("GOOGLE_CALENDAR_ID not set, calendar mirror disabled")
	}

	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger.Named("sendgrid")); sg != nil {
		sender = sg
	} else {
		logger.Warn("SENDGRID_API_KEY not set, emails are logged only")
		sender = notify.NewStubEmailSender(logger.Named("email"))
	}
	notifier := notify.NewEmailNotifier(sender, notify.Config{
		PractitionerName:  cfg.PractitionerName,
		PractitionerEmail: cfg.PractitionerEmail,
		PublicBaseURL:     cfg.PublicBaseURL,
		Location:          loc,
	}, logger.Named("notify"))

	dispatcher := booking.NewAsyncDispatcher(booking.DispatcherOptions{
		Timeout:  cfg.SideEffectTimeout,
		Attempts: cfg.SideEffectAttempts,
	}, logger.Named("dispatch"), m)

	svc := booking.NewService(booking.Deps{
		Repo:       booking.NewPgRepository(pgPool),
		Catalog:    catalog,
		Clock:      clk,
		Locker:     locker,
		Calendar:   mirror,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     logger.Named("booking"),
		Metrics:    m,
	}, booking.Options{
		MinAdvance:      cfg.MinAdvance,
		CancelCutoff:    cfg.CancelCutoff,
		InitialStatus:   booking.Status(cfg.InitialStatus),
		CalendarTimeout: cfg.CalendarTimeout,
	})

	router := api.NewRouter(api.RouterConfig{
		Service:            svc,
		PgPool:             pgPool,
		Redis:              rdb,
		Logger:             logger.Named("http"),
		Metrics:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		PractitionerAPIKey: cfg.PractitionerAPIKey,
		BookingRateLimit:   rate.Limit(cfg.BookingRateLimit),
		BookingRateBurst:   cfg.BookingRateBurst,
		Env:                cfg.Env,
		Version:            cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}

	// let in-flight calendar and email work finish before the pool closes
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("side effects still running at shutdown")
	}

	logger.Info("api-server stopped")
}
