// Command constraint-enforcer runs the Constraint Enforcer tool service
// standalone (spec.md §4.3, §4.7).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/httpapi"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/tools/constraintenforcer"
)

func main() {
	port := flag.Int("port", 0, "override STORYFORGE_PORT")
	flag.Parse()

	var opts []platform.Option
	opts = append(opts, platform.WithServiceName("constraint-enforcer"))
	if *port != 0 {
		opts = append(opts, platform.WithPort(*port))
	}

	cfg, err := platform.NewConfig(opts...)
	if err != nil {
		log.Fatalf("constraint-enforcer: config: %v", err)
	}
	logger := platform.Component(cfg.Logger(), "tool/constraint-enforcer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, shutdownTelem, err := platform.NewOTelProvider(ctx, cfg.Telemetry, "constraint-enforcer")
	if err != nil {
		log.Fatalf("constraint-enforcer: telemetry: %v", err)
	}
	defer shutdownTelem(context.Background())

	b, err := bus.NewNATSBus(cfg.Bus.URL, logger)
	if err != nil {
		log.Fatalf("constraint-enforcer: bus connect: %v", err)
	}
	defer b.Close()

	svc, err := constraintenforcer.Build(b, logger, telem)
	if err != nil {
		log.Fatalf("constraint-enforcer: build service: %v", err)
	}
	if err := svc.Start(); err != nil {
		log.Fatalf("constraint-enforcer: start: %v", err)
	}
	defer svc.Stop()

	server := httpapi.NewServer("constraint-enforcer", svc, logger)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: server.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("constraint-enforcer: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("constraint-enforcer: ready", map[string]interface{}{"port": cfg.Port, "bus_url": cfg.Bus.URL})
	<-ctx.Done()
	logger.Info("constraint-enforcer: shutting down", nil)
	_ = httpSrv.Shutdown(context.Background())
}
