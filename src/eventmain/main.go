package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/config"
	"github.com/quantlabhq/tradeplane/src/eventconsumers"
	"github.com/quantlabhq/tradeplane/src/eventproducers/statusapi"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
	"github.com/quantlabhq/tradeplane/src/gateway"
	"github.com/quantlabhq/tradeplane/src/supervisor"
	"github.com/quantlabhq/tradeplane/src/utils"
)

const defaultAddr = ":8080"

func main() {
	log.SetLevel(log.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(log.DebugLevel)
	}

	if err := utils.InitEnvironmentVariables(); err != nil {
		log.Fatalf("main: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := &config.Config{}
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		cfg = loaded
	} else {
		log.Warnf("main: no config file at %s, using defaults", configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busCfg := cfg.BusSettings()

	var eventLog *eventpubsub.FileEventLog
	if cfg.EventLog.Path != "" {
		var err error
		eventLog, err = eventpubsub.OpenFileEventLog(cfg.EventLog.Path)
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		busCfg.Log = eventLog
	}

	bus := eventpubsub.NewBus(busCfg)
	gw := gateway.NewSim(cfg.SimSettings())

	var wg sync.WaitGroup
	marketData := eventconsumers.NewMarketDataWorker(bus, gw)
	account := eventconsumers.NewAccountWorker(&wg, bus, gw, cfg.AccountSettings())
	risk := eventconsumers.NewRiskWorker(bus, account, cfg.RiskSettings())
	execution := eventconsumers.NewExecutionWorker(bus, gw, risk, marketData)

	sup := supervisor.New(bus, gw, cfg.ConnectionSettings())
	for _, svc := range []supervisor.Service{marketData, account, risk, execution} {
		if err := sup.Register(svc); err != nil {
			log.Fatalf("main: %v", err)
		}
	}

	if err := bus.Start(); err != nil {
		log.Fatalf("main: %v", err)
	}

	sup.StartAll(ctx)
	log.Infof("main: runtime mode is %s", sup.Mode())

	addr := cfg.Server.Addr
	if addr == "" {
		addr = defaultAddr
	}

	router := mux.NewRouter()
	statusapi.NewHandler(sup, account, risk, execution).SetupHandler(router)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("main: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main: http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)
	<-stop

	log.Info("main: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("main: http shutdown: %v", err)
	}

	sup.StopAll()
	cancel()
	wg.Wait()
	bus.Stop()

	if eventLog != nil {
		if err := eventLog.Close(); err != nil {
			log.Errorf("main: closing event log: %v", err)
		}
	}

	log.Info("main: goodbye")
}
