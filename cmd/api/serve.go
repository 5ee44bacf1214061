package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"Lee_Social/internal/config"
	"Lee_Social/internal/metrics"
	"Lee_Social/internal/pkg"
	"Lee_Social/internal/repository/mysql"
	"Lee_Social/internal/repository/redis"
	"Lee_Social/internal/router"
	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background jobs",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := mysql.Open(cfg.MySQL.DSN, mysql.PoolConfig{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer sqlDB.Close()

	// 连接redis
	rdb, err := redis.NewClient(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
	}
	defer rdb.Close()

	producer := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	defer producer.Close()

	tokens, err := pkg.NewTokenIssuer(pkg.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		return oops.Code(config.CodeConfigInvalid).Wrap(err)
	}

	store := mysql.NewStore(db)
	hasher := pkg.NewBcryptHasher(cfg.Auth.BcryptCost)
	mailer := pkg.NewSMTPMailer(pkg.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	emailSvc := service.NewEmailService(redis.NewEmailCodeRepository(rdb), mailer, cfg.Auth.EmailCodeTTL, logger)
	authSvc := service.NewAuthService(store, hasher, tokens, logger)
	userSvc := service.NewUserService(store, hasher, emailSvc, logger)
	communitySvc := service.NewCommunityService(store, redis.NewDistLock(rdb), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").Wrap(err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := router.InitRouter(router.Deps{
		Auth:      authSvc,
		Users:     userSvc,
		Email:     emailSvc,
		Community: communitySvc,
		Tokens:    tokens,
		Gatherer:  reg,
		Logger:    logger,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine}

	var wg sync.WaitGroup
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	relayer := service.NewOutboxRelayer(store.Outbox(), producer, logger).
		WithSchedule(cfg.Outbox.Interval, cfg.Outbox.BatchSize)
	reconciler := service.NewMemberCountReconciler(store.Communities(), store.Members(), logger).
		WithSchedule(cfg.Reconciler.Interval, cfg.Reconciler.BatchSize)
	wg.Add(2)
	go func() { defer wg.Done(); relayer.Run(jobCtx) }()
	go func() { defer wg.Done(); reconciler.Run(jobCtx) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			cancelJobs()
			wg.Wait()
			return oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	cancelJobs()
	wg.Wait()
	return nil
}
