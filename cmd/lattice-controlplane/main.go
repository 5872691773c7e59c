// Lattice Control Plane — the supervising process for a sprite fleet.
//
// Owns: fleet discovery and per-sprite reconciliation, the intent
// lifecycle store and its propose/classify/gate pipeline, the
// governance-issue and run-executor bridges, the exec session
// registry, and the shutdown drain sequence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-run/lattice/internal/audit"
	"github.com/lattice-run/lattice/internal/capability"
	"github.com/lattice-run/lattice/internal/config"
	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/exec"
	"github.com/lattice-run/lattice/internal/fleet"
	"github.com/lattice-run/lattice/internal/governance"
	"github.com/lattice-run/lattice/internal/intent"
	"github.com/lattice-run/lattice/internal/runbridge"
	"github.com/lattice-run/lattice/internal/safety"
	"github.com/lattice-run/lattice/internal/shutdown"
	"github.com/lattice-run/lattice/internal/signing"
	"github.com/lattice-run/lattice/internal/sprite"
	"github.com/lattice-run/lattice/internal/telemetry"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("LATTICE_CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, meter, telemetryShutdown, err := telemetry.Init(ctx, os.Getenv("LATTICE_OTLP_ENDPOINT"), version)
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer telemetryShutdown(context.Background())

	bus := events.New(logger, meter, tracer, 256)

	secretMaster := os.Getenv("LATTICE_SECRET_MASTER")
	var secretStore capability.SecretStore = capability.StubSecretStore{}
	if secretMaster != "" {
		secretStore = capability.NewDerivedSecretStore([]byte(secretMaster))
	}

	// Raw env tokens take priority; absent those, derive per-service
	// credentials from the master secret so a single LATTICE_SECRET_MASTER
	// is enough to bring every live capability up.
	workerAPIToken := firstNonEmpty(os.Getenv("LATTICE_WORKER_API_TOKEN"), derivedSecret(ctx, secretStore, "worker_api_token"))
	issueTrackerToken := firstNonEmpty(os.Getenv("LATTICE_ISSUE_TRACKER_TOKEN"), derivedSecret(ctx, secretStore, "issue_tracker_token"))

	// No live HTTP worker-API client ships in this tree yet; the
	// in-memory implementation stands in for it so a configured token
	// still exercises the "live" selection path end to end.
	var liveWorkerAPI capability.WorkerAPI
	if workerAPIToken != "" {
		liveWorkerAPI = capability.NewInMemoryWorkerAPI()
	}
	workerAPI := capability.SelectWorkerAPI(workerAPIToken != "", liveWorkerAPI)
	var issueTracker capability.IssueTracker = capability.StubIssueTracker{}
	if issueTrackerToken != "" {
		issueTracker = capability.NewInMemoryIssueTracker()
	}
	logger.Info("capability selection",
		zap.Bool("worker_api_live", workerAPIToken != ""),
		zap.Bool("issue_tracker_live", issueTrackerToken != ""),
		zap.Bool("secret_store_live", secretMaster != ""),
	)

	auditLog := audit.NewLog(bus, logger, 1000)
	if signingKey := firstNonEmpty(os.Getenv("LATTICE_SIGNING_KEY"), derivedSecret(ctx, secretStore, "audit_signing_key")); signingKey != "" {
		auditLog.SetSigner(signing.NewSigner([]byte(signingKey)))
	}
	intentStore := intent.NewStore(bus, auditLog)
	kindRegistry := intent.NewRegistry()
	classifier := safety.NewClassifier()
	guardrails := safety.Guardrails{
		AllowControlled:              cfg.Guardrails.AllowControlled,
		AllowDangerous:                cfg.Guardrails.AllowDangerous,
		RequireApprovalForControlled: cfg.Guardrails.RequireApprovalForControlled,
		AutoApproveRepos:             cfg.TaskAllowlist.AutoApproveRepos,
	}
	pipeline := intent.NewPipeline(intentStore, kindRegistry, classifier, guardrails, false)

	fleetManager := fleet.NewManager(
		workerAPI,
		bus,
		fleet.NewInMemoryMetadataStore(),
		logger,
		fleet.Options{
			ProcessOptions: sprite.ProcessOptions{
				State: sprite.Options{
					BaseBackoffMs: int64(cfg.Sprite.BaseBackoffMs),
					MaxBackoffMs:  int64(cfg.Sprite.MaxBackoffMs),
					MaxRetries:    cfg.Sprite.MaxRetries,
				},
				ReconcileEvery: time.Duration(cfg.Sprite.ReconcileIntervalMs) * time.Millisecond,
			},
			FastInterval: time.Duration(cfg.Fleet.ReconcileFastMs) * time.Millisecond,
			SlowInterval: time.Duration(cfg.Fleet.ReconcileSlowMs) * time.Millisecond,
		},
	)

	governanceBridge := governance.NewBridge(intentStore, pipeline, issueTracker, bus, logger,
		governance.Options{SyncInterval: time.Minute})
	runBridge := runbridge.NewBridge(intentStore, bus, logger)

	cronSource := intent.NewCronSource(pipeline, logger)
	if err := cronSource.Add(intent.CronEntry{
		ID:       "fleet-audit-sweep",
		Schedule: "@every 6h",
		Build: func() (*intent.Intent, error) {
			return intent.NewMaintenance(intent.Source{}, "scheduled fleet audit sweep", nil)
		},
	}); err != nil {
		logger.Error("failed to register cron intent source", zap.Error(err))
	}

	execRegistry := exec.NewRegistry()
	reapStop := make(chan struct{})
	execRegistry.ReapClosed(30*time.Second, reapStop)
	defer close(reapStop)

	fleetManager.Start(ctx)
	if err := governanceBridge.Start(ctx); err != nil {
		logger.Error("governance bridge failed to start", zap.Error(err))
	}
	runBridge.Start(ctx)
	cronSource.Start(ctx)

	logger.Info("lattice control plane started",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining exec sessions")

	drainCtx, drainCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Shutdown.DrainTimeoutMs)*time.Millisecond)
	defer drainCancel()
	shutdown.Drain(drainCtx, execRegistry, logger, shutdown.Options{
		DrainWindow: time.Duration(cfg.Shutdown.DrainTimeoutMs) * time.Millisecond,
	})

	fleetManager.Wait()
	logger.Info("lattice control plane stopped")
}

// derivedSecret fetches name from store, returning "" on any error
// (missing master secret, stub store) so callers can chain it through
// firstNonEmpty without special-casing failure.
func derivedSecret(ctx context.Context, store capability.SecretStore, name string) string {
	v, err := store.GetSecret(ctx, name)
	if err != nil {
		return ""
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
