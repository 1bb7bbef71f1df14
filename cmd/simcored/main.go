// simcored is the process entrypoint: it wires the Universe Map, Scheduler,
// and Simulation Orchestrator together and serves /healthz + /metrics. The
// predictive-simulation operations themselves (CreateRun, ForkNode, ...) are
// plain Go methods on pkg/orchestrator/pkg/universe — there is no HTTP
// business API in this binary, §1.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/scenariograph/predictive-sim/pkg/config"
	"github.com/scenariograph/predictive-sim/pkg/database"
	"github.com/scenariograph/predictive-sim/pkg/evidence"
	"github.com/scenariograph/predictive-sim/pkg/gateway"
	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/orchestrator"
	"github.com/scenariograph/predictive-sim/pkg/scheduler"
	"github.com/scenariograph/predictive-sim/pkg/universe"
	"github.com/scenariograph/predictive-sim/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	config.LoadDotEnv(filepath.Join(*configDir, ".env"))

	httpPort := getEnv("HTTP_PORT", "9090")

	log.Printf("starting %s", version.Full())
	log.Printf("config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("connected to PostgreSQL")

	redisClient := redisNewClient(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	log.Println("connected to redis")

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("connecting to temporal: %v", err)
	}
	defer temporalClient.Close()
	log.Println("connected to temporal")

	nodeStore := database.NewNodeStore(dbClient)
	runStore := database.NewRunStore(dbClient)
	manifestStore := database.NewManifestStore(dbClient)
	reliabilityStore := database.NewReliabilityStore(dbClient)
	dataGateway := gateway.New([]gateway.SourceConfig{
		{Name: "census_acs5", EarliestAvailableAt: time.Unix(0, 0).UTC(), HasTemporalMetadata: true, RateLimit: 5, Burst: 5},
	}, manifestStore)
	scorer := evidence.NewAdjuster(reliabilityStore)

	universeSvc := universe.New(nodeStore, scorer, nil)
	cancels := orchestrator.NewCancelRegistry()
	executor := orchestrator.NewExecutor(runStore, universeSvc, cancels).
		WithGateway(dataGateway).
		WithReliabilityScorer(scorer)
	activities := &orchestrator.Activities{Executor: executor}

	queue := scheduler.NewPriorityQueue(redisClient, "simcore:runs")
	runStarter := &orchestrator.TemporalRunStarter{Client: temporalClient, TaskQueue: cfg.Temporal.TaskQueue}
	orch := orchestrator.New(runStore, universeSvc, queue, cancels).
		WithRemoteCanceler(&orchestrator.TemporalCanceler{Client: temporalClient})

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(orchestrator.RunWorkflow)
	w.RegisterActivity(activities)
	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			log.Fatalf("temporal worker stopped: %v", err)
		}
	}()
	log.Printf("temporal worker registered on task queue %q", cfg.Temporal.TaskQueue)

	pool := scheduler.NewWorkerPool(
		cfg.WorkerCount,
		queue,
		runStore, // ActiveRunCount satisfies scheduler.CapacityChecker
		cfg.WorkerCount,
		runStarter,
		cfg.PollInterval,
		cfg.PollInterval/4,
		nodeStore, // ListStaleNodes satisfies scheduler.NodeScanner
		staleNodeRefresher{orch: orch, universe: universeSvc, defaults: cfg.Defaults},
		nil, // project IDs to scan are supplied by deployment-specific config
		"@every 5m",
	)
	if err := pool.Start(ctx, cfg.WorkerCount); err != nil {
		log.Fatalf("starting scheduler worker pool: %v", err)
	}
	defer pool.Stop()
	log.Printf("scheduler worker pool started with %d workers", cfg.WorkerCount)

	registry := prometheus.NewRegistry()
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "simcore_scheduler_queue_depth",
		Help: "Number of runs currently staged on the scheduler priority queue.",
	}, func() float64 {
		depth, err := queue.Depth(context.Background())
		if err != nil {
			return -1
		}
		return float64(depth)
	})
	registry.MustRegister(queueDepth)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		health := pool.Health(reqCtx)
		if !health.IsHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"` + healthStatus(health.IsHealthy) + `","version":"` + version.Full() + `"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: ":" + httpPort, Handler: mux}
	go func() {
		log.Printf("serving /healthz and /metrics on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health/metrics server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func redisNewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func healthStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// staleNodeRefresher adapts universe.Service.QueueNodeRefresh to the
// scheduler's RunRefresher seam: it builds a default-config Run for the
// stale node and queues it through the Orchestrator.
type staleNodeRefresher struct {
	orch     *orchestrator.Orchestrator
	universe *universe.Service
	defaults config.Defaults
}

func (r staleNodeRefresher) RefreshNode(ctx context.Context, node *model.Node) error {
	return r.universe.QueueNodeRefresh(ctx, node, func(ctx context.Context, node *model.Node) error {
		cfg := model.RunConfig{
			SeedConfig:       model.SeedConfig{Strategy: r.defaults.SeedStrategy, PrimarySeed: time.Now().UnixNano()},
			Horizon:          100,
			TickRate:         1.0,
			KeyframeInterval: r.defaults.KeyframeInterval,
			MaxAgents:        100,
			LeakageGuard:     model.LeakageGuardConfig{IsolationLevel: r.defaults.IsolationLevel, TemporalMode: model.TemporalLive},
		}
		run, err := r.orch.CreateRun(ctx, node.ProjectID, node.ID, cfg)
		if err != nil {
			return err
		}
		return r.orch.QueueRun(ctx, run.ID, float64(node.Depth))
	})
}
