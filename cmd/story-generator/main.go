// Command story-generator runs the Story Generator tool service standalone
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

	"github.com/storyforge/pipeline/ai"
	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/httpapi"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/tools/storygenerator"
)

func main() {
	port := flag.Int("port", 0, "override STORYFORGE_PORT")
	flag.Parse()

	var opts []platform.Option
	opts = append(opts, platform.WithServiceName("story-generator"))
	if *port != 0 {
		opts = append(opts, platform.WithPort(*port))
	}

	cfg, err := platform.NewConfig(opts...)
	if err != nil {
		log.Fatalf("story-generator: config: %v", err)
	}
	logger := platform.Component(cfg.Logger(), "tool/story-generator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, shutdownTelem, err := platform.NewOTelProvider(ctx, cfg.Telemetry, "story-generator")
	if err != nil {
		log.Fatalf("story-generator: telemetry: %v", err)
	}
	defer shutdownTelem(context.Background())

	b, err := bus.NewNATSBus(cfg.Bus.URL, logger)
	if err != nil {
		log.Fatalf("story-generator: bus connect: %v", err)
	}
	defer b.Close()

	client, err := ai.NewClient(ctx, cfg.AI, cfg.Resilience, logger)
	if err != nil {
		log.Fatalf("story-generator: ai client: %v", err)
	}

	svc, err := storygenerator.Build(b, logger, telem, client)
	if err != nil {
		log.Fatalf("story-generator: build service: %v", err)
	}
	if err := svc.Start(); err != nil {
		log.Fatalf("story-generator: start: %v", err)
	}
	defer svc.Stop()

	server := httpapi.NewServer("story-generator", svc, logger)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: server.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("story-generator: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("story-generator: ready", map[string]interface{}{"port": cfg.Port, "bus_url": cfg.Bus.URL})
	<-ctx.Done()
	logger.Info("story-generator: shutting down", nil)
	_ = httpSrv.Shutdown(context.Background())
}
