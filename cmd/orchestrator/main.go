// Command orchestrator runs the Orchestrator: the discovery pre-flight,
// the bus-facing "generate" endpoint, and the HTTP health surface
// (spec.md §4.2, §4.4, §4.7).
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
	"time"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/discovery"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/httpapi"
	"github.com/storyforge/pipeline/orchestrator"
	"github.com/storyforge/pipeline/platform"
)

// readinessAdapter lets the Orchestrator answer /readyz with the same
// shape a tool service's toolsvc.Service does. It always reports healthy
// with the process uptime and lists no tools; it does not consult the
// preflight's discovery results.
type readinessAdapter struct {
	started time.Time
}

func (r readinessAdapter) DiscoveryInfo() domain.DiscoveryInfo {
	return domain.DiscoveryInfo{ServiceHealth: domain.HealthHealthy, UptimeSeconds: time.Since(r.started).Seconds()}
}

func main() {
	port := flag.Int("port", 0, "override STORYFORGE_PORT")
	subjectPrefix := flag.String("subject-prefix", "storyforge", "tool-invocation subject prefix")
	flag.Parse()

	var opts []platform.Option
	opts = append(opts, platform.WithServiceName("orchestrator"))
	if *port != 0 {
		opts = append(opts, platform.WithPort(*port))
	}

	cfg, err := platform.NewConfig(opts...)
	if err != nil {
		log.Fatalf("orchestrator: config: %v", err)
	}
	logger := platform.Component(cfg.Logger(), "orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, shutdownTelem, err := platform.NewOTelProvider(ctx, cfg.Telemetry, "orchestrator")
	if err != nil {
		log.Fatalf("orchestrator: telemetry: %v", err)
	}
	defer shutdownTelem(context.Background())

	b, err := bus.NewNATSBus(cfg.Bus.URL, logger)
	if err != nil {
		log.Fatalf("orchestrator: bus connect: %v", err)
	}
	defer b.Close()

	cache, err := discovery.NewRedisCache(cfg.Discovery.RedisURL, cfg.Namespace, cfg.Discovery.CacheTTL)
	if err != nil {
		log.Fatalf("orchestrator: discovery cache: %v", err)
	}
	preflight := discovery.NewPreflight(b, cache, logger, cfg.Discovery.PreflightTimeout, cfg.Discovery.CacheTTL)

	orch := orchestrator.New(b, preflight, *subjectPrefix, cfg.Orchestration, cfg.Resilience, logger, telem)

	hub := httpapi.NewProgressHub(logger)
	orch.OnPhase(func(requestID string, phase domain.GenerationPhase) {
		hub.Publish(httpapi.ProgressEvent{RequestID: requestID, Phase: phase})
	})

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("orchestrator: discovery pre-flight failed: %v", err)
	}

	genSubject := *subjectPrefix + ".orchestrator"
	sub, err := orch.ServeBus(b, genSubject, "orchestrator-workers")
	if err != nil {
		log.Fatalf("orchestrator: serve bus: %v", err)
	}
	defer sub.Unsubscribe()

	mux := http.NewServeMux()
	server := httpapi.NewServer("orchestrator", readinessAdapter{started: time.Now()}, logger)
	mux.Handle("/", server.Handler())
	mux.HandleFunc("/progress", hub.ServeHTTP)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("orchestrator: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("orchestrator: ready", map[string]interface{}{"subject": genSubject, "port": cfg.Port})
	<-ctx.Done()
	logger.Info("orchestrator: shutting down", nil)
	_ = httpSrv.Shutdown(context.Background())
}
