package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/authkit/credential-session-service/internal/app"
	"github.com/authkit/credential-session-service/internal/config"
	"github.com/authkit/credential-session-service/internal/db"
	"github.com/authkit/credential-session-service/internal/health"
	"github.com/authkit/credential-session-service/internal/http/handler"
	"github.com/authkit/credential-session-service/internal/http/router"
	"github.com/authkit/credential-session-service/internal/notify"
	"github.com/authkit/credential-session-service/internal/observability"
	"github.com/authkit/credential-session-service/internal/repository"
	"github.com/authkit/credential-session-service/internal/security"
	"github.com/authkit/credential-session-service/internal/service"
	"github.com/authkit/credential-session-service/internal/tools/common"
	"github.com/authkit/credential-session-service/internal/tools/loadgen"
)

func main() {
	root := &cobra.Command{
		Use:   "credential-session-service",
		Short: "Credential and session lifecycle service",
	}
	root.AddCommand(newServeCommand(), newMigrateCommand(), newLoadgenCommand())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
			if err != nil {
				return err
			}

			gdb, err := db.Open(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}

			readiness := health.NewProbeRunner(2*time.Second, 5*time.Second)
			readiness.Register(health.NewDatabaseChecker(gdb))

			var abuseGuard service.AuthAbuseGuard = service.NewNoopAuthAbuseGuard()
			var redisClient redis.UniversalClient
			if cfg.RedisEnabled {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
				abuseGuard = service.NewRedisAuthAbuseGuard(redisClient, "authguard", service.DefaultAuthAbusePolicy())
				readiness.Register(health.NewRedisChecker(redisClient))
			}

			var notifier notify.Notifier = notify.NewNoopNotifier()
			if cfg.EmailEnabled {
				notifier = notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
			}
			dispatcher := notify.NewDispatcher(notifier, logger)

			jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
			userRepo := repository.NewUserRepository(gdb)
			tokenRepo := repository.NewRefreshTokenRepository(gdb)
			codeRepo := repository.NewVerificationCodeRepository(gdb)
			tokenService := service.NewTokenService(jwtMgr, tokenRepo, userRepo, cfg.RefreshPepper, cfg.AccessTTL, cfg.RefreshTTL)
			authService := service.NewAuthService(userRepo, codeRepo, tokenService, dispatcher, abuseGuard, service.AuthServiceOptions{
				CodeTTL:         cfg.VerificationCodeTTL,
				CodeDigits:      cfg.VerificationCodeDigits,
				CodeMaxAttempts: cfg.VerificationMaxAttempts,
			})
			userService := service.NewUserService(userRepo, tokenService)

			secureCookies := cfg.AppEnv != "dev"
			h := router.NewRouter(router.Dependencies{
				AuthHandler:                handler.NewAuthHandler(authService, secureCookies),
				UserHandler:                handler.NewUserHandler(userService, authService),
				AdminHandler:               handler.NewAdminHandler(userService),
				JWTManager:                 jwtMgr,
				CORSOrigins:                cfg.CORSOrigins,
				APIRateLimitRPM:            cfg.APIRateLimitRPM,
				AuthRateLimitRPM:           cfg.AuthRateLimitRPM,
				PasswordForgotRateLimitRPM: cfg.PasswordForgotRateLimitRPM,
				Readiness:                  readiness,
				EnableOTelHTTP:             cfg.OTELTracesEnabled,
			})

			server := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           h,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			a := app.New(cfg, logger, server, runtime)
			a.OnShutdown(func() {
				if sqlDB, err := gdb.DB(); err == nil {
					_ = sqlDB.Close()
				}
				if redisClient != nil {
					_ = redisClient.Close()
				}
			})
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			logger, _, err := observability.InitLogging(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}

func newLoadgenCommand() *cobra.Command {
	var (
		baseURL     string
		profile     string
		duration    time.Duration
		rps         int
		concurrency int
		seed        int64
	)
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic auth traffic against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(".env"); err != nil {
				return err
			}
			res, err := loadgen.Run(cmd.Context(), loadgen.Config{
				BaseURL:     baseURL,
				Profile:     profile,
				Duration:    duration,
				RPS:         rps,
				Concurrency: concurrency,
				Seed:        seed,
			})
			if res != nil {
				fmt.Fprint(cmd.OutOrStdout(), loadgen.Report(res))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "target base URL")
	cmd.Flags().StringVar(&profile, "profile", "mixed", "traffic profile: mixed, auth or health")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "run duration")
	cmd.Flags().IntVar(&rps, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "worker count")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}
