// Command prompt-helper runs the Prompt Helper tool service standalone:
// one bus subscription, one queue group, one HTTP health surface
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
	"github.com/storyforge/pipeline/tools/prompthelper"
)

func main() {
	namespace := flag.String("namespace", "", "override STORYFORGE_NAMESPACE")
	port := flag.Int("port", 0, "override STORYFORGE_PORT")
	flag.Parse()

	var opts []platform.Option
	opts = append(opts, platform.WithServiceName("prompt-helper"))
	if *namespace != "" {
		opts = append(opts, func(c *platform.Config) error { c.Namespace = *namespace; return nil })
	}
	if *port != 0 {
		opts = append(opts, platform.WithPort(*port))
	}

	cfg, err := platform.NewConfig(opts...)
	if err != nil {
		log.Fatalf("prompt-helper: config: %v", err)
	}
	logger := platform.Component(cfg.Logger(), "tool/prompt-helper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, shutdownTelem, err := platform.NewOTelProvider(ctx, cfg.Telemetry, "prompt-helper")
	if err != nil {
		log.Fatalf("prompt-helper: telemetry: %v", err)
	}
	defer shutdownTelem(context.Background())

	b, err := bus.NewNATSBus(cfg.Bus.URL, logger)
	if err != nil {
		log.Fatalf("prompt-helper: bus connect: %v", err)
	}
	defer b.Close()

	client, err := ai.NewClient(ctx, cfg.AI, cfg.Resilience, logger)
	if err != nil {
		log.Fatalf("prompt-helper: ai client: %v", err)
	}

	svc, err := prompthelper.Build(b, logger, telem, client)
	if err != nil {
		log.Fatalf("prompt-helper: build service: %v", err)
	}
	if err := svc.Start(); err != nil {
		log.Fatalf("prompt-helper: start: %v", err)
	}
	defer svc.Stop()

	server := httpapi.NewServer("prompt-helper", svc, logger)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: server.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("prompt-helper: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("prompt-helper: ready", map[string]interface{}{"port": cfg.Port, "bus_url": cfg.Bus.URL})
	<-ctx.Done()
	logger.Info("prompt-helper: shutting down", nil)
	_ = httpSrv.Shutdown(context.Background())
}
