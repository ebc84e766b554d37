package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowgrid/flowplane/internal/alertingest"
	"github.com/flowgrid/flowplane/internal/api"
	"github.com/flowgrid/flowplane/internal/broker"
	"github.com/flowgrid/flowplane/internal/config"
	"github.com/flowgrid/flowplane/internal/hub"
	"github.com/flowgrid/flowplane/internal/reconcile"
	"github.com/flowgrid/flowplane/internal/runtime"
	"github.com/flowgrid/flowplane/internal/settingsmgr"
	"github.com/flowgrid/flowplane/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Info().Msg("starting flowplane control plane")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var baseDriver runtime.Driver
	switch cfg.Runtime.Driver {
	case "kubernetes":
		baseDriver = runtime.NewKubernetesDriver(cfg.Runtime.KubeAPIServer, cfg.Runtime.KubeNamespace, os.Getenv("KUBE_BEARER_TOKEN"))
	default:
		d, err := runtime.NewDockerDriver(cfg.Redis.Addr, "http://"+cfg.Server.BindAddr+"/metrics", cfg.Database.GetDSN(), "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init docker runtime driver")
		}
		baseDriver = d
	}
	driver := runtime.WithDeadline{
		Driver: baseDriver,
		D: runtime.Deadlines{
			Start:   cfg.Runtime.StartDeadline,
			Stop:    cfg.Runtime.StopDeadline,
			Inspect: cfg.Runtime.InspectDeadline,
		},
	}

	h := hub.New(cfg.Hub.QueueDepth, cfg.Hub.DropCloseThreshold)

	settingsMgr := settingsmgr.New(st, nil, cfg.Database.GetDSN())
	if err := settingsMgr.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load initial settings")
	}
	go settingsMgr.Run(ctx)

	recon := reconcile.New(st, driver, cfg.Runtime, settingsMgr, cfg.Redis.Addr, "http://"+cfg.Server.BindAddr+"/metrics", cfg.Database.GetDSN())
	settingsMgr.SetReconciler(recon)
	go recon.Run(ctx)

	frameBroker := broker.New(rdb, h, settingsMgr, cfg.Broker.BackoffInitial, cfg.Broker.BackoffMax)
	recon.SetFrameActivity(frameBroker)
	go frameBroker.Run(ctx)

	ingester := alertingest.New(st)

	srv := api.NewServer(st, recon, driver, settingsMgr, ingester, h, api.WSConfig{
		PongWait:     cfg.WebSocket.PongWait,
		PingInterval: cfg.WebSocket.PingInterval,
	})

	go func() {
		log.Info().Str("addr", cfg.Server.BindAddr).Msg("flowplane: control API listening")
		if err := srv.Engine().Run(cfg.Server.BindAddr); err != nil {
			log.Fatal().Err(err).Msg("control API server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("flowplane: shutdown signal received")
	cancel()
}
