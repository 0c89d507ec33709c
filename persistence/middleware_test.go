package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/persistence"
	"github.com/workflowforge/forge/persistence/memstore"
	"github.com/workflowforge/forge/smith"
	"github.com/workflowforge/forge/workflow"
)

var errCrash = errors.New("simulated crash")

func buildFiveStepWorkflow(t *testing.T, ran *[]string, crashAt int) *workflow.Workflow {
	t.Helper()
	b := workflow.CreateWorkflow("five-step")
	for i := 0; i < 5; i++ {
		idx := i
		name := string(rune('A' + idx))
		b = b.AddOperation(foundry.NewOperation(name, name, func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
			*ran = append(*ran, name)
			if idx == crashAt {
				return nil, errCrash
			}
			return name + "-out", nil
		}))
	}
	wf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

// runWithPersistence runs wf once through a fresh Foundry carrying the
// persistence middleware. With registerHook set, the middleware is also
// registered as the Smith's compensation hook, so a failed run deletes its
// snapshot; without it, a failed run leaves its snapshot behind, as a killed
// process would.
func runWithPersistence(t *testing.T, store *memstore.Store, opts forgeconfig.PersistenceOptions, wf *workflow.Workflow, registerHook bool) (any, error) {
	t.Helper()
	fdy, err := foundry.CreateFoundry(wf.Name(), "", nil, nil, forgeconfig.DefaultFoundryOptions())
	if err != nil {
		t.Fatal(err)
	}
	pmw := persistence.NewMiddleware(store, opts)
	if err := fdy.AddMiddleware(pmw); err != nil {
		t.Fatal(err)
	}
	sm, err := smith.CreateSmith(nil, nil, forgeconfig.DefaultSmithOptions())
	if err != nil {
		t.Fatal(err)
	}
	if registerHook {
		sm.AddCompensationHook(pmw)
	}
	return sm.ForgeAsync(context.Background(), wf, fdy)
}

func TestPersistenceMiddlewareRestoresAndSkipsCompletedSteps(t *testing.T) {
	store := memstore.New(1)
	opts := forgeconfig.DefaultPersistenceOptions()
	opts.InstanceID = "run-1"
	opts.WorkflowKey = "five-step"

	// First run crashes at step index 2 (operation "C"); steps A and B must
	// have persisted a snapshot before the crash. The crash stands in for a
	// killed process, so no compensation hook runs to delete that snapshot.
	var firstRan []string
	crashingWF := buildFiveStepWorkflow(t, &firstRan, 2)
	if _, err := runWithPersistence(t, store, opts, crashingWF, false); err == nil {
		t.Fatal("expected the simulated crash at step 2 to fail the run")
	}
	if len(firstRan) != 3 {
		t.Fatalf("firstRan = %v, want 3 steps to have executed before the crash", firstRan)
	}

	// Second run, same keys and store, no crash: A and B must be skipped via
	// the restored snapshot; only C, D, E should execute.
	var secondRan []string
	cleanWF := buildFiveStepWorkflow(t, &secondRan, -1)
	out, err := runWithPersistence(t, store, opts, cleanWF, true)
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if out != "E-out" {
		t.Fatalf("output = %v, want E-out", out)
	}

	want := []string{"C", "D", "E"}
	if len(secondRan) != len(want) {
		t.Fatalf("secondRan = %v, want %v (A and B must be skipped via the restored snapshot)", secondRan, want)
	}
	for i := range want {
		if secondRan[i] != want[i] {
			t.Fatalf("secondRan = %v, want %v", secondRan, want)
		}
	}
}

func TestPersistenceMiddlewareDeletesSnapshotOnCompletion(t *testing.T) {
	store := memstore.New(1)
	opts := forgeconfig.DefaultPersistenceOptions()
	opts.InstanceID = "run-done"
	opts.WorkflowKey = "tiny"

	wf, err := workflow.CreateWorkflow("tiny").AddOperation(foundry.NewOperation("a", "A", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return "ok", nil
	})).Build()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := runWithPersistence(t, store, opts, wf, true); err != nil {
		t.Fatal(err)
	}

	foundryKey := persistence.DeriveKey(opts.InstanceID)
	workflowKey := persistence.DeriveKey(opts.WorkflowKey)
	_, found, err := store.TryLoad(context.Background(), foundryKey, workflowKey)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected the snapshot to be purged once the workflow fully completes")
	}
}

func TestPersistenceMiddlewareDeletesSnapshotOnCompensation(t *testing.T) {
	store := memstore.New(1)
	opts := forgeconfig.DefaultPersistenceOptions()
	opts.InstanceID = "run-compensated"
	opts.WorkflowKey = "reserve-charge-ship"

	buildWorkflow := func(t *testing.T, ran *[]string, compensated *[]string, shipFails bool) *workflow.Workflow {
		t.Helper()
		reserve := foundry.NewOperation("reserve", "Reserve", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
			*ran = append(*ran, "Reserve")
			return "reserved", nil
		}).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
			*compensated = append(*compensated, "Reserve")
			return nil
		})
		charge := foundry.NewOperation("charge", "Charge", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
			*ran = append(*ran, "Charge")
			return "charged", nil
		}).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
			*compensated = append(*compensated, "Charge")
			return nil
		})
		ship := foundry.NewOperation("ship", "Ship", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
			*ran = append(*ran, "Ship")
			if shipFails {
				return nil, errCrash
			}
			return "shipped", nil
		})
		wf, err := workflow.Sequential("reserve-charge-ship", reserve, charge, ship)
		if err != nil {
			t.Fatal(err)
		}
		return wf
	}

	// First run: Reserve and Charge succeed and checkpoint, Ship fails and
	// the Smith compensates Charge then Reserve.
	var firstRan, firstCompensated []string
	failingWF := buildWorkflow(t, &firstRan, &firstCompensated, true)
	if _, err := runWithPersistence(t, store, opts, failingWF, true); err == nil {
		t.Fatal("expected Ship to fail the run")
	}
	if len(firstCompensated) != 2 || firstCompensated[0] != "Charge" || firstCompensated[1] != "Reserve" {
		t.Fatalf("firstCompensated = %v, want [Charge Reserve]", firstCompensated)
	}

	foundryKey := persistence.DeriveKey(opts.InstanceID)
	workflowKey := persistence.DeriveKey(opts.WorkflowKey)
	if _, found, err := store.TryLoad(context.Background(), foundryKey, workflowKey); err != nil {
		t.Fatal(err)
	} else if found {
		t.Fatal("expected the snapshot to be deleted once compensation completes; a compensated run has nothing resumable")
	}

	// Second run, same keys and store, Ship now succeeds: since the
	// snapshot was deleted, every operation must re-run from the start
	// rather than skipping Reserve and Charge via a stale snapshot that
	// points past operations whose effects were already rolled back.
	var secondRan, secondCompensated []string
	cleanWF := buildWorkflow(t, &secondRan, &secondCompensated, false)
	if _, err := runWithPersistence(t, store, opts, cleanWF, true); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	want := []string{"Reserve", "Charge", "Ship"}
	if len(secondRan) != len(want) {
		t.Fatalf("secondRan = %v, want %v (nothing should be skipped after a compensated run)", secondRan, want)
	}
	for i := range want {
		if secondRan[i] != want[i] {
			t.Fatalf("secondRan = %v, want %v", secondRan, want)
		}
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a := persistence.DeriveKey("same-seed")
	b := persistence.DeriveKey("same-seed")
	if a != b {
		t.Fatalf("DeriveKey is not deterministic: %v != %v", a, b)
	}
	c := persistence.DeriveKey("different-seed")
	if a == c {
		t.Fatal("DeriveKey produced identical keys for different seeds")
	}
}
