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

	"coinflip/internal/config"
	"coinflip/internal/logging"
	"coinflip/internal/network"
	"coinflip/internal/services/blockchain"
	"coinflip/internal/services/cluster"
	"coinflip/internal/services/events"
	"coinflip/internal/services/gameroom"
	"coinflip/internal/services/results"
	"coinflip/internal/session"

	"github.com/benbjohnson/clock"
	consul "github.com/hashicorp/consul/api"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coinflip:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		health       = cluster.NewHealthAggregator()
		registry     = session.NewRegistry()
		gateway      = session.NewGateway(registry, log)
		sinks        = gameroom.MultiSink{gateway}
		recorders    gameroom.MultiRecorder
		participants gameroom.ParticipantChain
		escrow       gameroom.EscrowVerifier
		saver        events.ParticipantSaver
	)

	// Consul first: the other integrations may be addressed through it.
	var consulMgr *cluster.Manager
	if cfg.ConsulAddrs != "" {
		if consulMgr, err = cluster.NewManager(cfg.ConsulAddrs, log); err != nil {
			return fmt.Errorf("consul: %w", err)
		}
		health.AddCheck("consul", consulMgr.Check)
	}
	resolve := func(target string) (string, error) {
		var client *consul.Client
		if consulMgr != nil {
			client = consulMgr.Client()
		}
		return cluster.Resolve(client, target)
	}

	if cfg.RedisAddr != "" {
		addr, err := resolve(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rdb, err := results.Connect(ctx, addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		store := results.NewStore(rdb, log)
		participants = append(participants, store)
		recorders = append(recorders, store)
		saver = store
		health.AddCheck("redis", store.Ping)
		log.Info("result store enabled", zap.String("redis", addr))
	}

	if cfg.ChainEnabled() {
		chain, err := blockchain.Dial(ctx, blockchain.Config{
			RPCURL:     cfg.EthRPCURL,
			Contract:   cfg.EscrowContract,
			PrivateKey: cfg.EthPrivateKey,
		}, log)
		if err != nil {
			return fmt.Errorf("escrow: %w", err)
		}
		defer chain.Close()
		participants = append(participants, chain)
		escrow = chain
		if cfg.EthPrivateKey != "" {
			recorders = append(recorders, chain)
		}
	}

	var nc *nats.Conn
	if cfg.NatsURL != "" {
		url, err := resolve(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		if nc, err = events.Connect(url, cfg.ServiceName, log); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Close()
		pub := events.NewPublisher(nc, log)
		sinks = append(sinks, pub)
		recorders = append(recorders, pub)
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
	}

	opts := gameroom.Options{
		Config:  cfg.Game,
		Sink:    sinks,
		Members: gateway,
		Escrow:  escrow,
		Clock:   clock.New(),
		Logger:  log,
	}
	if len(participants) > 0 {
		opts.Participants = participants
	}
	if len(recorders) > 0 {
		opts.Recorder = recorders
	}
	dir, err := gameroom.NewDirectory(opts)
	if err != nil {
		return err
	}
	gateway.OnDead(dir.ConnLost)

	handler := session.NewHandler(dir, registry, clock.New(), log)
	ws := network.NewServer(handler, log)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /health", health.Handler())
	gameroom.RegisterHandlers(mux, dir, cfg.AdvertiseAddr())
	if store, ok := saver.(*results.Store); ok {
		results.RegisterHandlers(mux, store)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var listener *events.OfferListener
	if nc != nil {
		listener = events.NewOfferListener(nc, dir, saver, log)
		if err := listener.Start(nc); err != nil {
			return fmt.Errorf("subscribe offers: %w", err)
		}
	}

	reg := cluster.Registration{Name: cfg.ServiceName, Host: cfg.AdvertisedHost, Port: cfg.ServicePort}
	if consulMgr != nil {
		if err := cluster.Register(consulMgr.Client(), reg, log); err != nil {
			return err
		}
		consulMgr.OnReconnect(func(c *consul.Client) {
			if err := cluster.Register(c, reg, log); err != nil {
				log.Error("re-registration failed", zap.Error(err))
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ws.Run(gctx) })
	g.Go(func() error { return dir.Run(gctx) })
	if consulMgr != nil {
		g.Go(func() error { return consulMgr.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", httpSrv.Addr), zap.String("advertise", cfg.AdvertiseAddr()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		if listener != nil {
			listener.Stop()
		}
		if consulMgr != nil {
			if err := cluster.Deregister(consulMgr.Client(), reg); err != nil {
				log.Warn("deregistration failed", zap.Error(err))
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if nc != nil {
		if derr := nc.Drain(); derr != nil {
			log.Warn("nats drain failed", zap.Error(derr))
		}
	}
	log.Info("stopped", zap.Int("rooms", dir.Len()))
	return err
}
