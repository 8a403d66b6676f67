package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/engine"
	"github.com/shaiso/flowruns/internal/repo"
)

// fakeSource — in-memory хранилище определений.
type fakeSource struct {
	defs  map[string]domain.FlowDefinition
	err   error
	calls int
}

func (f *fakeSource) GetDefinition(_ context.Context, flowID string) (domain.FlowDefinition, error) {
	f.calls++
	if f.err != nil {
		return domain.FlowDefinition{}, f.err
	}
	def, ok := f.defs[flowID]
	if !ok {
		return domain.FlowDefinition{}, repo.ErrNotFound
	}
	return def, nil
}

func linear() domain.FlowDefinition {
	return domain.FlowDefinition{
		ID:               "flow-1",
		Admin:            "alice",
		Team:             "data",
		AllowParallelRun: true,
		Stages: []domain.StageDef{
			{ID: "extract"},
			{ID: "load", DependsOn: []domain.StageID{"extract"}},
		},
	}
}

func TestGetFlow(t *testing.T) {
	source := &fakeSource{defs: map[string]domain.FlowDefinition{"flow-1": linear()}}
	svc := NewService(Config{Source: source})

	flow, ok, err := svc.GetFlow(context.Background(), "flow-1")
	if err != nil || !ok {
		t.Fatalf("expected flow, got ok=%v err=%v", ok, err)
	}
	if flow.Admin != "alice" || flow.Team != "data" || !flow.AllowParallelRun {
		t.Errorf("unexpected flow: %+v", flow)
	}
	if !flow.Graph.Roots().Has("extract") || flow.Graph.Roots().Len() != 1 {
		t.Errorf("unexpected roots: %v", domain.Sorted(flow.Graph.Roots()))
	}
	if !flow.Graph.Children("extract").Has("load") {
		t.Error("expected load to be a child of extract")
	}
}

func TestGetFlow_Cached(t *testing.T) {
	source := &fakeSource{defs: map[string]domain.FlowDefinition{"flow-1": linear()}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(Config{
		Source: source,
		TTL:    time.Minute,
		Clock:  func() time.Time { return now },
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.GetFlow(ctx, "flow-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if source.calls != 1 {
		t.Errorf("expected 1 load, got %d", source.calls)
	}

	// Определение поменялось в БД: после TTL flow перечитывается
	changed := linear()
	changed.AllowParallelRun = false
	source.defs["flow-1"] = changed

	now = now.Add(30 * time.Second)
	flow, _, _ := svc.GetFlow(ctx, "flow-1")
	if source.calls != 1 || !flow.AllowParallelRun {
		t.Errorf("entry must be served from cache within TTL, got %d loads", source.calls)
	}

	now = now.Add(time.Minute)
	flow, _, err := svc.GetFlow(ctx, "flow-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls != 2 || flow.AllowParallelRun {
		t.Errorf("expected reload after TTL, got %d loads, parallel=%v", source.calls, flow.AllowParallelRun)
	}
}

func TestGetFlow_DeletedFlowIsForgotten(t *testing.T) {
	source := &fakeSource{defs: map[string]domain.FlowDefinition{"flow-1": linear()}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(Config{Source: source, Clock: func() time.Time { return now }})
	ctx := context.Background()

	if _, ok, _ := svc.GetFlow(ctx, "flow-1"); !ok {
		t.Fatal("expected flow")
	}

	delete(source.defs, "flow-1")
	now = now.Add(2 * DefaultTTL)

	if _, ok, err := svc.GetFlow(ctx, "flow-1"); ok || err != nil {
		t.Errorf("deleted flow must disappear after TTL, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := svc.GetFlow(ctx, "flow-1"); ok {
		t.Error("deleted flow must not come back from cache")
	}
}

func TestGetFlow_NotFound(t *testing.T) {
	svc := NewService(Config{Source: &fakeSource{}})

	_, ok, err := svc.GetFlow(context.Background(), "missing")
	if err != nil {
		t.Fatalf("absence is not an error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false")
	}
}

func TestGetFlow_Errors(t *testing.T) {
	dbErr := errors.New("connection refused")
	svc := NewService(Config{Source: &fakeSource{err: dbErr}})

	if _, _, err := svc.GetFlow(context.Background(), "flow-1"); !errors.Is(err, dbErr) {
		t.Errorf("expected db error, got %v", err)
	}

	cyclic := domain.FlowDefinition{
		ID: "cyclic",
		Stages: []domain.StageDef{
			{ID: "a", DependsOn: []domain.StageID{"b"}},
			{ID: "b", DependsOn: []domain.StageID{"a"}},
		},
	}
	svc = NewService(Config{Source: &fakeSource{defs: map[string]domain.FlowDefinition{"cyclic": cyclic}}})

	if _, _, err := svc.GetFlow(context.Background(), "cyclic"); !errors.Is(err, engine.ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}
