// Command nchat-core wires the end-to-end crypto primitives, workflow
// automation engine, and integration registry/health monitor into one
// process and demonstrates them end to end. It is a bootstrap/demo
// binary, not a network service — spec.md's Non-goals exclude
// transport, so there is no listener here, only construction order,
// a sample workflow run, and graceful shutdown, grounded on
// cmd/api/main.go's dependency wiring and signal-handling shape.
package main

import (
	"crypto/rand"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nchat/core/internal/approval"
	"github.com/nchat/core/internal/audit"
	"github.com/nchat/core/internal/config"
	"github.com/nchat/core/internal/connector"
	"github.com/nchat/core/internal/cron"
	"github.com/nchat/core/internal/cryptocore"
	"github.com/nchat/core/internal/execution"
	"github.com/nchat/core/internal/registry"
	"github.com/nchat/core/internal/secstore"
	"github.com/nchat/core/internal/vault"
	"github.com/nchat/core/internal/workflow"
)

func main() {
	cfg := config.Get()
	configureLogging(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("nchat-core starting", "env", cfg.Server.Env)

	// --- End-to-End Cryptographic Primitives -------------------------------
	kemKeys, err := cryptocore.GenerateKEMKeyPair()
	if err != nil {
		slog.Error("generating KEM keypair", "error", err)
		os.Exit(1)
	}
	defer kemKeys.Zeroize()
	fp := cryptocore.ComputeFingerprint(kemKeys.PublicKey)
	slog.Info("identity key material ready", "fingerprint", fp.Format())

	// --- Credential Vault ---------------------------------------------------
	masterKey := loadOrGenerateMasterKey(cfg.Vault.MasterKeyEnv)
	store := secstore.NewMemoryStore(masterKey)
	if res := store.Init(); !res.Success {
		slog.Error("secure storage init failed", "error", res.Error)
		os.Exit(1)
	}
	credVault := vault.New(store)
	if err := credVault.SetEncryptionKey(masterKey); err != nil {
		slog.Error("setting vault encryption key", "error", err)
		os.Exit(1)
	}

	// --- Integration Registry & Health Monitor ------------------------------
	connRegistry := registry.New(credVault, cfg.Health.UnhealthyAfterFails, int64(cfg.Health.CheckIntervalSec)*1000)
	connRegistry.RegisterConnector(sampleCatalogEntry(), func() connector.Connector {
		return connector.NewHTTPConnector(connector.DefaultRetryPolicy(), connector.NewRateLimiter(
			int(cfg.Connector.DefaultRateBurst), 60_000,
		))
	})
	defer connRegistry.Shutdown()
	slog.Info("integration registry ready", "catalog_size", len(connRegistry.ListCatalog()))

	// --- Workflow Automation Engine ------------------------------------------
	auditLog := audit.NewLog()
	unsub := auditLog.Subscribe(audit.RunStarted, audit.RunCompleted, audit.RunFailed)
	go func() {
		for evt := range unsub {
			slog.Info("audit event", "type", evt.Type, "subject", evt.Subject, "data", evt.Data)
		}
	}()

	approvalMgr := approval.NewManager(auditLog, func(requestID string, approverIDs []string) {
		slog.Info("approval requested", "request_id", requestID, "approvers", approverIDs)
	}, nil, func(req approval.Request) {
		slog.Info("approval escalated", "request_id", req.ID)
	})

	engine := execution.NewEngine(auditLog, approvalMgr)

	scheduler := cron.NewScheduler()

	def := sampleWorkflowDefinition()
	if def.Trigger.Kind == workflow.TriggerSchedule {
		if _, err := scheduler.CreateSchedule(def.ID, def.Trigger.ToCronTrigger()); err != nil {
			slog.Warn("could not register schedule", "error", err)
		}
	}

	run, err := engine.StartRun(def, map[string]interface{}{"source": "bootstrap"}, nil)
	if err != nil {
		slog.Error("starting sample workflow run failed", "error", err)
	} else {
		slog.Info("sample workflow run started", "run_id", run.ID, "workflow_id", run.WorkflowID)
	}

	// --- Background schedule tick + approval expiry sweep -------------------
	shutdown := make(chan struct{})
	ticker := time.NewTicker(time.Duration(cfg.Trigger.CronResolutionSec) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				for _, fired := range scheduler.Tick(now) {
					slog.Info("schedule fired", "schedule_id", fired.ID, "workflow_id", fired.WorkflowID)
				}
				approvalMgr.ProcessExpired(now)
			case <-shutdown:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("received shutdown signal, shutting down gracefully")
	close(shutdown)
	slog.Info("nchat-core stopped")
}

func configureLogging(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadOrGenerateMasterKey(envVar string) []byte {
	if v := os.Getenv(envVar); len(v) >= 32 {
		return []byte(v)[:32]
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		slog.Warn("master key generation fell back to zero key", "error", err)
	}
	return key
}

func sampleCatalogEntry() connector.CatalogEntry {
	return connector.CatalogEntry{
		ID:          "generic-http",
		Name:        "Generic HTTP",
		Description: "Example connector demonstrating retry/rate-limit policy wiring.",
		Category:    connector.CategoryCustom,
		Capabilities: []string{"http.get", "http.post"},
		Version:      "1.0.0",
	}
}

func sampleWorkflowDefinition() workflow.Definition {
	return workflow.Definition{
		ID:      "bootstrap-demo",
		Name:    "Bootstrap demo workflow",
		Enabled: true,
		Trigger: workflow.Trigger{Kind: workflow.TriggerManual, Manual: &workflow.ManualTrigger{}},
		Steps: []workflow.Step{
			{
				ID:        "greet",
				Name:      "set greeting",
				Type:      workflow.StepAction,
				OutputKey: "greeting",
				Action: workflow.Action{
					Kind:        workflow.ActionSetVariable,
					SetVariable: &workflow.SetVariableAction{Name: "greeting", Value: "nchat-core is running"},
				},
			},
		},
	}
}
