package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ProPulseLabs/teamcore/internal/auth"
	"github.com/ProPulseLabs/teamcore/internal/config"
	"github.com/ProPulseLabs/teamcore/internal/database"
	"github.com/ProPulseLabs/teamcore/internal/jobs"
	"github.com/ProPulseLabs/teamcore/internal/logging"
	"github.com/ProPulseLabs/teamcore/internal/payouts"
	"github.com/ProPulseLabs/teamcore/internal/projection"
	"github.com/ProPulseLabs/teamcore/internal/referral"
	"github.com/ProPulseLabs/teamcore/internal/rewards"
	"github.com/ProPulseLabs/teamcore/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "team-api",
		Short: "Binary referral network backend service",
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
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("referral-link-base", defaults.GetString("referral.link_base"), "Public base URL for referral links")
	cmd.PersistentFlags().Float64("payout-minimum", defaults.GetFloat64("payout.minimum"), "Minimum payout amount")
	cmd.PersistentFlags().String("recompute-cron", defaults.GetString("recompute.cron"), "Cron spec for aggregate reconciliation")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "token.signing_secret", "signing-secret")
	bindFlag(cmd, "referral.link_base", "referral-link-base")
	bindFlag(cmd, "payout.minimum", "payout-minimum")
	bindFlag(cmd, "recompute.cron", "recompute-cron")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	referralService, err := referral.NewService(referral.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Codes:    referral.NewUUIDCodeProvider(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rewardsService, err := rewards.NewService(rewards.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()

	payoutsService, err := payouts.NewService(payouts.ServiceConfig{
		Database:       db,
		Earnings:       referralService,
		Processor:      payouts.NewLoggingProcessor(logger),
		Clock:          time.Now,
		Logger:         logger,
		MinimumAmount:  appConfig.PayoutMinimum,
		OnStatusChange: server.PayoutStatusListener(realtime),
	})
	if err != nil {
		return err
	}
	defer payoutsService.WaitForDispatches()

	projectionService, err := projection.NewService(projection.ServiceConfig{
		Database: db,
		LinkBase: appConfig.ReferralBase,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := jobs.NewScheduler(jobs.SchedulerConfig{
		Recomputer: referralService,
		Spec:       appConfig.RecomputeSpec,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Referral:     referralService,
		Rewards:      rewardsService,
		Payouts:      payoutsService,
		Projection:   projectionService,
		Realtime:     realtime,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
