// Command quality-control runs the Quality Control tool service standalone
// (spec.md §4.3, §4.7).
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
	"github.com/storyforge/pipeline/tools/qualitycontrol"
)

func main() {
	port := flag.Int("port", 0, "override STORYFORGE_PORT")
	flag.Parse()

	var opts []platform.Option
	opts = append(opts, platform.WithServiceName("quality-control"))
	if *port != 0 {
		opts = append(opts, platform.WithPort(*port))
	}

	cfg, err := platform.NewConfig(opts...)
	if err != nil {
		log.Fatalf("quality-control: config: %v", err)
	}
	logger := platform.Component(cfg.Logger(), "tool/quality-control")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, shutdownTelem, err := platform.NewOTelProvider(ctx, cfg.Telemetry, "quality-control")
	if err != nil {
		log.Fatalf("quality-control: telemetry: %v", err)
	}
	defer shutdownTelem(context.Background())

	b, err := bus.NewNATSBus(cfg.Bus.URL, logger)
	if err != nil {
		log.Fatalf("quality-control: bus connect: %v", err)
	}
	defer b.Close()

	svc, err := qualitycontrol.Build(b, logger, telem)
	if err != nil {
		log.Fatalf("quality-control: build service: %v", err)
	}
	if err := svc.Start(); err != nil {
		log.Fatalf("quality-control: start: %v", err)
	}
	defer svc.Stop()

	server := httpapi.NewServer("quality-control", svc, logger)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: server.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("quality-control: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("quality-control: ready", map[string]interface{}{"port": cfg.Port, "bus_url": cfg.Bus.URL})
	<-ctx.Done()
	logger.Info("quality-control: shutting down", nil)
	_ = httpSrv.Shutdown(context.Background())
}
