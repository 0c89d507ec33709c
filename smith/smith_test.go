package smith

import (
	"context"
	"errors"
	"testing"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/forgeerrors"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/observability"
	"github.com/workflowforge/forge/workflow"
)

func newTestSmith(t *testing.T, opts forgeconfig.SmithOptions) *Smith {
	t.Helper()
	sm, err := CreateSmith(nil, nil, opts)
	if err != nil {
		t.Fatalf("CreateSmith: %v", err)
	}
	return sm
}

func recordOp(id string, forward foundry.ForwardFunc) foundry.Operation {
	return foundry.NewOperation(id, id, forward)
}

func TestForgeAsyncHappyPathWithOutputChaining(t *testing.T) {
	var seen []any
	a := recordOp("a", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		seen = append(seen, input)
		return "a-out", nil
	})
	b := recordOp("b", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		seen = append(seen, input)
		return "b-out", nil
	})
	c := recordOp("c", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		seen = append(seen, input)
		return "c-out", nil
	})
	wf, err := workflow.Sequential("chain", a, b, c)
	if err != nil {
		t.Fatal(err)
	}

	opts := forgeconfig.DefaultSmithOptions()
	chaining := true
	opts.EnableOutputChainingNil = &chaining
	sm := newTestSmith(t, opts)

	out, err := sm.ForgeAsync(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "c-out" {
		t.Fatalf("output = %v, want c-out", out)
	}
	want := []any{nil, "a-out", "b-out"}
	if len(seen) != 3 || seen[0] != want[0] || seen[1] != want[1] || seen[2] != want[2] {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

func TestForgeAsyncWithoutChainingPassesNilInput(t *testing.T) {
	var seen []any
	a := recordOp("a", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		seen = append(seen, input)
		return "a-out", nil
	})
	b := recordOp("b", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		seen = append(seen, input)
		return "b-out", nil
	})
	wf, err := workflow.Sequential("no-chain", a, b)
	if err != nil {
		t.Fatal(err)
	}

	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())
	if _, err := sm.ForgeAsync(context.Background(), wf, nil); err != nil {
		t.Fatal(err)
	}
	if seen[0] != nil || seen[1] != nil {
		t.Fatalf("seen = %v, want [nil nil] without output chaining", seen)
	}
}

func TestForgeAsyncCompensatesLIFOOnFailure(t *testing.T) {
	var compensated []string
	reserve := recordOp("reserve", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return "reserved", nil
	})
	reserve = reserve.(*foundry.InlineOperation).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
		compensated = append(compensated, "reserve")
		return nil
	})

	charge := recordOp("charge", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return "charged", nil
	})
	charge = charge.(*foundry.InlineOperation).WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error {
		compensated = append(compensated, "charge")
		return nil
	})

	shipErr := errors.New("carrier rejected")
	ship := recordOp("ship", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return nil, shipErr
	})

	wf, err := workflow.Sequential("order", reserve, charge, ship)
	if err != nil {
		t.Fatal(err)
	}

	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())
	_, err = sm.ForgeAsync(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected ship's failure to surface")
	}
	if !errors.Is(err, shipErr) {
		t.Fatalf("expected wrapped ship error, got %v", err)
	}

	want := []string{"charge", "reserve"}
	if len(compensated) != 2 || compensated[0] != want[0] || compensated[1] != want[1] {
		t.Fatalf("compensated = %v, want %v (LIFO order)", compensated, want)
	}
}

func TestForgeAsyncContinueOnErrorAggregatesStepErrors(t *testing.T) {
	failing := errors.New("step b failed")
	a := recordOp("a", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return "a-out", nil })
	b := recordOp("b", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return nil, failing })
	c := recordOp("c", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return "c-out", nil })
	wf, err := workflow.Sequential("continue", a, b, c)
	if err != nil {
		t.Fatal(err)
	}

	opts := forgeconfig.DefaultSmithOptions()
	cont := true
	opts.ContinueOnErrorNil = &cont
	sm := newTestSmith(t, opts)

	out, err := sm.ForgeAsync(context.Background(), wf, nil)
	if out != "c-out" {
		t.Fatalf("output = %v, want c-out (c must still run)", out)
	}
	var agg *forgeerrors.AggregateRunFailure
	if !errors.As(err, &agg) {
		t.Fatalf("expected *forgeerrors.AggregateRunFailure, got %T: %v", err, err)
	}
	if len(agg.Errors) != 1 || agg.Errors[0].StepIndex != 1 {
		t.Fatalf("agg.Errors = %+v, want one entry at index 1", agg.Errors)
	}
}

func TestForgeAsyncEmptyWorkflowEmitsStartedAndCompletedOnly(t *testing.T) {
	wf, err := workflow.Sequential("empty")
	if err != nil {
		t.Fatal(err)
	}
	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())

	var types []observability.EventType
	sm.OnWorkflowEvent(func(ctx context.Context, ev observability.Event) {
		types = append(types, ev.Type)
	})

	out, err := sm.ForgeAsync(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("output = %v, want nil", out)
	}
	want := []observability.EventType{observability.EventWorkflowStarted, observability.EventWorkflowCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestForgeAsyncThrowOnCompensationErrorSurfacesCompensationFailure(t *testing.T) {
	compErr := errors.New("refund failed")
	reserve := recordOp("reserve", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return "r", nil }).(*foundry.InlineOperation).
		WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error { return compErr })
	fail := recordOp("fail", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		return nil, errors.New("boom")
	})
	wf, err := workflow.Sequential("throwy", reserve, fail)
	if err != nil {
		t.Fatal(err)
	}

	opts := forgeconfig.DefaultSmithOptions()
	throwOn := true
	opts.ThrowOnCompensationErrorNil = &throwOn
	sm := newTestSmith(t, opts)

	_, err = sm.ForgeAsync(context.Background(), wf, nil)
	var cf *forgeerrors.CompensationFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected *forgeerrors.CompensationFailure, got %T: %v", err, err)
	}
}

func TestForgeAsyncSwallowsCompensationErrorsByDefault(t *testing.T) {
	reserve := recordOp("reserve", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return "r", nil }).(*foundry.InlineOperation).
		WithCompensate(func(ctx context.Context, output any, fdy *foundry.Foundry) error { return errors.New("refund failed") })
	originalErr := errors.New("boom")
	fail := recordOp("fail", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return nil, originalErr })
	wf, err := workflow.Sequential("swallow", reserve, fail)
	if err != nil {
		t.Fatal(err)
	}

	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())
	_, err = sm.ForgeAsync(context.Background(), wf, nil)
	if !errors.Is(err, originalErr) {
		t.Fatalf("expected the original operation failure to surface, got %v", err)
	}
}

func TestForgeAsyncFreezesFoundryDuringExecutionAndUnfreezesAfter(t *testing.T) {
	fdy, err := foundry.CreateFoundry("f", "", nil, nil, forgeconfig.DefaultFoundryOptions())
	if err != nil {
		t.Fatal(err)
	}
	var frozenDuringRun bool
	op := recordOp("a", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) {
		frozenDuringRun = fdy.IsFrozen()
		return nil, nil
	})
	wf, err := workflow.Sequential("freeze", op)
	if err != nil {
		t.Fatal(err)
	}
	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())

	if _, err := sm.ForgeAsync(context.Background(), wf, fdy); err != nil {
		t.Fatal(err)
	}
	if !frozenDuringRun {
		t.Fatal("expected the foundry to be frozen while ForgeAsync is running")
	}
	if fdy.IsFrozen() {
		t.Fatal("expected the foundry to be unfrozen after ForgeAsync returns")
	}
}

func TestCreateSmithRejectsNegativeMaxConcurrentWorkflows(t *testing.T) {
	opts := forgeconfig.DefaultSmithOptions()
	opts.MaxConcurrentWorkflows = -1
	if _, err := CreateSmith(nil, nil, opts); err == nil {
		t.Fatal("expected a configuration error")
	}
}

func TestForgeAsyncCancellationSurfacesAsDistinctKind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := recordOp("a", func(ctx context.Context, input any, fdy *foundry.Foundry) (any, error) { return nil, nil })
	wf, err := workflow.Sequential("cancelled", op)
	if err != nil {
		t.Fatal(err)
	}
	sm := newTestSmith(t, forgeconfig.DefaultSmithOptions())

	_, err = sm.ForgeAsync(ctx, wf, nil)
	if !errors.Is(err, forgeerrors.ErrCancelled) {
		t.Fatalf("expected errors.Is(err, forgeerrors.ErrCancelled), got %v", err)
	}
}
