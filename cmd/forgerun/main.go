// Command forgerun is a sample harness demonstrating the execution core
// end to end: it builds a small workflow, wires a persistence-backed
// Foundry, and runs it to completion or compensation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/middleware/retry"
	"github.com/workflowforge/forge/middleware/timing"
	"github.com/workflowforge/forge/observability"
	"github.com/workflowforge/forge/persistence"
	"github.com/workflowforge/forge/persistence/memstore"
	"github.com/workflowforge/forge/smith"
	"github.com/workflowforge/forge/workflow"
)

func main() {
	var (
		name           = flag.String("name", "sample-order", "Workflow name")
		instanceID     = flag.String("instance-id", "cli-run", "Stable instance id used to key persisted snapshots")
		failShip       = flag.Bool("fail-ship", false, "Force the Ship step to fail, demonstrating compensation")
		enablePersist  = flag.Bool("persist", false, "Checkpoint progress after each step via an in-memory provider")
		continueOnFail = flag.Bool("continue-on-error", false, "Record per-step errors instead of aborting and compensating")
		verbose        = flag.Bool("verbose", false, "Enable debug logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := observability.NewSlogLogger(slogger)

	wf, err := buildSampleWorkflow(*name, *failShip)
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	foundryOpts := forgeconfig.DefaultFoundryOptions()
	fdy, err := foundry.CreateFoundry(*name, "", logger, nil, foundryOpts)
	if err != nil {
		log.Fatalf("create foundry: %v", err)
	}

	if err := fdy.AddMiddleware(timing.New()); err != nil {
		log.Fatalf("add timing middleware: %v", err)
	}
	if err := fdy.AddMiddleware(retry.New(2, 0)); err != nil {
		log.Fatalf("add retry middleware: %v", err)
	}
	var pmw *persistence.Middleware
	if *enablePersist {
		store := memstore.New(1)
		persistOpts := forgeconfig.DefaultPersistenceOptions()
		persistOpts.InstanceID = *instanceID
		pmw = persistence.NewMiddleware(store, persistOpts).WithObserver(observability.NewSlogObserver(slogger))
		if err := fdy.AddMiddleware(pmw); err != nil {
			log.Fatalf("add persistence middleware: %v", err)
		}
	}

	smithOpts := forgeconfig.DefaultSmithOptions()
	if *continueOnFail {
		t := true
		smithOpts.ContinueOnErrorNil = &t
	}
	sm, err := smith.CreateSmith(logger, nil, smithOpts)
	if err != nil {
		log.Fatalf("create smith: %v", err)
	}
	sm.OnWorkflowEvent(func(ctx context.Context, ev observability.Event) {
		fmt.Printf("[%s] %s\n", ev.Type, ev.Level)
	})
	if pmw != nil {
		sm.AddCompensationHook(pmw)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	output, err := sm.ForgeAsync(ctx, wf, fdy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workflow failed: %v\n", err)
		if err := fdy.Dispose(); err != nil {
			log.Fatalf("dispose: %v", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Output: %v\n", output)
	if err := fdy.Dispose(); err != nil {
		log.Fatalf("dispose: %v", err)
	}
}

// buildSampleWorkflow constructs Reserve -> Charge -> Ship. If failShip is
// set, Ship always fails, triggering compensation of Charge then Reserve.
func buildSampleWorkflow(name string, failShip bool) (*workflow.Workflow, error) {
	reserve := foundry.NewOperation("reserve", "Reserve", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return "reserved", nil
	}).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
		fdy.Logger.Information(ctx, "releasing reservation")
		return nil
	})

	charge := foundry.NewOperation("charge", "Charge", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return "charged", nil
	}).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
		fdy.Logger.Information(ctx, "refunding charge")
		return nil
	})

	ship := foundry.NewOperation("ship", "Ship", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		if failShip {
			return nil, fmt.Errorf("carrier rejected shipment")
		}
		return "shipped", nil
	})

	return workflow.Sequential(name, reserve, charge, ship)
}
