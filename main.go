package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"debridhub/pkg/api"
	"debridhub/pkg/auth"
	"debridhub/pkg/config"
	"debridhub/pkg/debrid"
	"debridhub/pkg/env"
	"debridhub/pkg/logger"
	"debridhub/pkg/repair"
	"debridhub/pkg/server"
	"debridhub/pkg/store"
	"debridhub/pkg/torrents"
)

func main() {
	if err := env.LoadEnv(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	logger.Init()
	defer logger.Close()

	configMgr := config.NewManager(env.GetString("CONFIG_PATH", "config/debrid.yml"))
	cfg := configMgr.GetConfig()

	if errs := configMgr.ValidateConfig(); len(errs) > 0 {
		for _, e := range errs {
			logger.Warn("[Config] %s", e)
		}
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Fatal("Failed to open store at %s: %v", cfg.StorePath, err)
	}
	defer db.Close()

	client := debrid.NewClient(cfg.APIKey, cfg.BaseURL, cfg.RateLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := torrents.NewManager(client, configMgr, db)
	engine := repair.NewEngine(client, configMgr, db, manager)
	manager.SetOnBroken(engine.OnBrokenLink)

	if cfg.Enabled {
		if !client.IsValidAPIKey(ctx) {
			logger.Warn("[Debrid] Provider API key rejected, running with cached data only")
		}
		manager.StartRefreshLoop(ctx)
		manager.StartJanitors(ctx)
		engine.Run(ctx)
	} else {
		logger.Info("[Debrid] Provider disabled, serving cached data only")
	}

	handler := api.NewHandler(manager, engine, db, configMgr, client)
	authenticator := auth.NewAuthenticator()

	addr := fmt.Sprintf(":%d", env.GetInt("PORT", 8282))
	go func() {
		if err := server.ListenAndServe(addr, server.New(handler, authenticator)); err != nil {
			logger.Fatal("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")
	cancel()
	engine.Stop()
}
