package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fxreversal/config"
	"fxreversal/internal/api"
	"fxreversal/internal/auth"
	"fxreversal/internal/cache"
	"fxreversal/internal/experiment"
	"fxreversal/internal/logging"
	"fxreversal/internal/model/predictor"
	"fxreversal/internal/registry"
	"fxreversal/internal/store"
	"fxreversal/internal/vault"
)

// knownVersions is the fixed, hard-coded set of model versions the
// registry starts with (§4.9): v3.0 trained on Swing labels, v3.1 on
// Profitable labels, v3.2 the current real-data release. Artefact
// paths are resolved under cfg.Serving.ModelsRoot at startup.
func knownVersions(cfg *config.Config) []*registry.Version {
	root := cfg.Serving.ModelsRoot
	mk := func(id, name, desc string, threshold float64) *registry.Version {
		return &registry.Version{
			VersionID:       id,
			DisplayName:     name,
			Description:     desc,
			Stage1Path:      fmt.Sprintf("%s/%s_stage1.json", root, id),
			Stage2Path:      fmt.Sprintf("%s/%s_stage2.json", root, id),
			ScalerPath:      fmt.Sprintf("%s/%s_scaler.json", root, id),
			FeaturesPath:    fmt.Sprintf("%s/%s_features.json", root, id),
			MetadataPath:    fmt.Sprintf("%s/%s_metadata.json", root, id),
			Stage1Threshold: threshold,
		}
	}
	return []*registry.Version{
		mk("v3.0", "Swing v3.0", "Swing-labeled reversal cascade", 0.5),
		mk("v3.1", "Profitable v3.1", "Profitable-labeled reversal cascade", 0.5),
		mk("v3.2", "Real-data v3.2", "Latest real-data release", 0.5),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("starting fxreversal serving process")

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.WithError(err).Warn("vault client unavailable, falling back to config-supplied credentials")
	} else {
		vaultClient.ApplyToConfig(context.Background(), cfg)
	}

	reg := registry.New()
	for _, v := range knownVersions(cfg) {
		reg.Register(v)
	}
	active, statuses := reg.AutoLoadStartup()
	for _, s := range statuses {
		logger.WithField("status", s.String()).Info("model version load attempt")
	}
	if active == "" {
		logger.Warn("no model version could be loaded at startup; serving will return NotReady until a version is switched in")
	} else {
		logger.WithField("version", active).Info("active model version selected")
	}

	pred := predictor.New(reg)
	experiments := experiment.NewManager(cfg.Serving.ExperimentsRoot, cfg.Serving.ExperimentSnapshotN)

	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("redis cache unavailable, continuing without it")
			cacheService = nil
		}
	}

	var repo *store.Repository
	if cfg.Postgres.Enabled {
		db, err := store.NewDB(cfg.Postgres)
		if err != nil {
			logger.WithError(err).Warn("postgres unavailable, continuing without the prediction log and operator accounts")
		} else {
			if err := db.RunMigrations(context.Background()); err != nil {
				logger.WithError(err).Warn("postgres migrations failed")
			}
			repo = store.NewRepository(db)
		}
	}

	if repo != nil && cfg.Auth.Enabled {
		if err := auth.SeedAdminOperator(context.Background(), repo, cfg.Auth.AdminPassword); err != nil {
			logger.WithError(err).Warn("failed to seed admin operator")
		}
	}

	server := api.NewServer(cfg.Server, cfg.Sequence, api.Deps{
		Registry:    reg,
		Predictor:   pred,
		Experiments: experiments,
		Cache:       cacheService,
		Repo:        repo,
		Auth:        cfg.Auth,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("server failed")
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("fxreversal serving process stopped")
}
