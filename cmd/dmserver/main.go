package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"DirectIM/api"
	"DirectIM/global"
	"DirectIM/logger"
	"DirectIM/module/dm/delivery"
	"DirectIM/module/dm/session"
	"DirectIM/module/dm/store"
	"DirectIM/module/dm/user"
	"DirectIM/service/dispatcher/kafka"
	"DirectIM/service/gateway"
	"DirectIM/service/mgo"
	"DirectIM/service/natsx"
	"DirectIM/service/storage"
	"DirectIM/tools/ids"
	sec "DirectIM/tools/security"
)

func main() {
	cfgPath := flag.String("config", "", "yaml config path (env overrides)")
	flag.Parse()

	cfg, err := global.Load(*cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		return
	}
	ids.SetNodeID(cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgo.Init(ctx, mgo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}); err != nil {
		logger.Errorf("mongo init: %v", err)
		return
	}
	defer func() { _ = mgo.Close(context.Background()) }()

	if err := storage.InitRedis(storage.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}); err != nil {
		logger.Errorf("redis init: %v", err)
		return
	}

	nc, err := natsx.NewClient(natsx.Config{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
	if err != nil {
		logger.Errorf("nats init: %v", err)
		return
	}
	defer func() { _ = nc.Close() }()

	var audit store.AuditFunc
	if cfg.Kafka.Enabled {
		ap, err := kafka.NewAuditProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			logger.Errorf("kafka init: %v", err)
			return
		}
		defer func() { _ = ap.Close() }()
		audit = ap.MessageStored
	}

	st := store.NewMongoStore(mgo.GetDB(), audit)
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Warnf("ensure indexes: %v", err)
	}

	idem := natsx.NewRedisIdem(storage.Client(), 2*time.Minute)
	tr := delivery.NewNatsTransport(nc, idem, 2*time.Minute)
	users := user.NewCachedDirectory(user.NewMongoDirectory(mgo.GetDB()))

	reg := session.NewRegistry(st, tr, users, session.Config{
		PollInterval:   cfg.PollInterval,
		PresenceTTL:    cfg.PresenceTTL,
		PresenceLookup: storage.PresenceLookup,
	})
	defer reg.CloseAll()

	jwtOpts := sec.DefaultOptions([]byte(cfg.JWTSecret))
	hub := gateway.NewHub(reg)
	router := api.NewRouter(api.NewServer(reg), jwtOpts, hub.Handler)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		logger.Infof("dm server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http serve: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	logger.Sync()
}
