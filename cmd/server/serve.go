package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"codetoflows.com/backend/internal/api"
	"codetoflows.com/backend/internal/auth"
	"codetoflows.com/backend/internal/billing"
	"codetoflows.com/backend/internal/core"
	"codetoflows.com/backend/internal/permission"
	"codetoflows.com/backend/internal/quota"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the API server. It shuts down gracefully on SIGINT or SIGTERM.`,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, dbStore, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer dbStore.Close()

	if cfg.GoogleAPIKey == "" || cfg.MistralAPIKey == "" {
		return errors.New("GOOGLE_API_KEY and MISTRAL_API_KEY environment variables are required")
	}

	gemini, err := core.NewGeminiModel(ctx, cfg.GoogleAPIKey, cfg.AnalysisModel)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis model: %w", err)
	}
	defer gemini.Close()
	httpClient := &http.Client{Timeout: cfg.ModelTimeout}
	mistral := core.NewMistralModel(cfg.MistralBaseURL, cfg.MistralAPIKey, cfg.MarkupModel, httpClient)

	var counter quota.Counter = quota.NewSQLiteCounter(dbStore.DB())
	if cfg.RedisURL != "" {
		client, err := quota.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		counter = quota.NewRedisCounter(client)
		log.Info("daily quota backed by redis")
	}

	pipeline := core.NewPipeline(core.Options{
		Cache:  dbStore,
		Ledger: dbStore,
		Quota:  counter,
		Models: &core.ModelPair{Analysis: gemini, Markup: mistral},
		Factory: &core.ProviderFactory{
			AnalysisModel:  cfg.AnalysisModel,
			MarkupModel:    cfg.MarkupModel,
			MistralBaseURL: cfg.MistralBaseURL,
			HTTPClient:     httpClient,
		},
		DailyLimit:   cfg.DailyLimit,
		ModelTimeout: cfg.ModelTimeout,
		Logger:       log,
	})

	var sessions billing.Sessions
	if cfg.StripeSecretKey != "" {
		sessions = billing.NewStripeSessions(cfg.StripeSecretKey)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, credit purchases are disabled")
	}
	payments := billing.NewService(sessions, dbStore, cfg.StripeWebhookSecret, cfg.PublicBaseURL, log)

	enforcer, err := permission.NewEnforcer(log)
	if err != nil {
		return fmt.Errorf("failed to initialize permissions: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Pipeline:    pipeline,
		Store:       dbStore,
		Quota:       counter,
		Billing:     payments,
		Permissions: enforcer,
		Tokens:      auth.NewTokens(cfg.JWTSecret),
		Config:      cfg,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.ModelTimeout + 15*time.Second, // two sequential model calls
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "flowchart_policy", cfg.FlowchartPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	case sig := <-quit:
		log.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited gracefully")
	return nil
}
