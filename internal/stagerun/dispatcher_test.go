package stagerun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/engine"
	"github.com/shaiso/flowruns/internal/flowrun"
	"github.com/shaiso/flowruns/internal/mq"
)

// fakePublisher запоминает команды executor'ам.
type fakePublisher struct {
	mu        sync.Mutex
	starts    []mq.StageStartPayload
	cancels   []mq.StageCancelPayload
	startErr  error
	cancelErr error
}

func (p *fakePublisher) PublishStageStart(_ context.Context, payload mq.StageStartPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts = append(p.starts, payload)
	return nil
}

func (p *fakePublisher) PublishStageCancel(_ context.Context, payload mq.StageCancelPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancels = append(p.cancels, payload)
	return nil
}

func (p *fakePublisher) startedStages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.starts))
	for i, s := range p.starts {
		out[i] = s.StageID
	}
	return out
}

// staticFlows — FlowProvider с одним flow.
type staticFlows struct {
	flow domain.Flow
}

func (s staticFlows) GetFlow(_ context.Context, flowID string) (domain.Flow, bool, error) {
	if flowID != s.flow.ID {
		return domain.Flow{}, false, nil
	}
	return s.flow, true, nil
}

type fixture struct {
	publisher  *fakePublisher
	stageRuns  *Service
	flowRuns   *flowrun.Service
	dispatcher *Dispatcher
}

// newFixture собирает реальные сервисы над графом A → C, B → C, C → D.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	flow, err := engine.BuildFlow(domain.FlowDefinition{
		ID: "flow-1",
		Stages: []domain.StageDef{
			{ID: "A"},
			{ID: "B"},
			{ID: "C", DependsOn: []domain.StageID{"A", "B"}},
			{ID: "D", DependsOn: []domain.StageID{"C"}},
		},
	})
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	clock := func() time.Time { return t0 }

	n := 0
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("sr-%d", n)
	}

	f := &fixture{publisher: &fakePublisher{}}
	f.stageRuns = NewService(Config{Publisher: f.publisher, NewID: newID, Clock: clock})
	f.flowRuns = flowrun.NewService(flowrun.Config{
		Cache:     flowrun.NewMemoryCache(flowrun.MemoryCacheConfig{}),
		Flows:     staticFlows{flow: flow},
		StageRuns: f.stageRuns,
		Clock:     clock,
	})
	f.dispatcher = NewDispatcher(DispatcherConfig{
		Computer:  f.flowRuns,
		Canceller: f.stageRuns,
		Launcher:  f.flowRuns,
	})
	return f
}

// stageRunOf возвращает ID единственного stage run для stageID.
func stageRunOf(t *testing.T, run domain.FlowRun, stageID domain.StageID) domain.StageRunID {
	t.Helper()
	views := run.StageRunsOf(stageID)
	if len(views) != 1 {
		t.Fatalf("expected 1 stage run for %s, got %d", stageID, len(views))
	}
	return views[0].ID
}

func (f *fixture) dispatch(t *testing.T, runID domain.FlowRunID, ev Event) domain.FlowRun {
	t.Helper()
	run, err := f.dispatcher.Dispatch(context.Background(), runID, ev)
	if err != nil {
		t.Fatalf("dispatch %s: %v", ev.Type(), err)
	}
	return run
}

func base(id domain.StageRunID) Base {
	return Base{StageRunID: id, At: t0}
}

func TestDispatch_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.flowRuns.StartRun(ctx, "flow-1", nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	run = f.dispatch(t, run.ID, AcknowledgeRequest{Base: base(a), ExecutorID: "exec-1"})
	if run.Status != domain.FlowRunStatusPendingStart {
		t.Errorf("after ack: expected PENDING_START, got %s", run.Status)
	}
	if view, _ := run.StageRun(a); view.ExecutorID != "exec-1" || view.Status != domain.StageRunStatusAcknowledged {
		t.Errorf("unexpected view after ack: %+v", view)
	}

	run = f.dispatch(t, run.ID, StartRun{base(a)})
	if run.Status != domain.FlowRunStatusRunning {
		t.Errorf("after start: expected RUNNING, got %s", run.Status)
	}

	// A успешен, B ещё не начинался: C ждёт
	run = f.dispatch(t, run.ID, RunSuccessful{base(a)})
	if run.Status != domain.FlowRunStatusRunning {
		t.Errorf("after A success: expected RUNNING, got %s", run.Status)
	}
	if len(run.StageRunsOf("C")) != 0 {
		t.Error("C must wait for B")
	}

	// B успешен: C запускается в том же обновлении, run не становится SUCCESS
	run = f.dispatch(t, run.ID, RunSuccessful{base(b)})
	if run.Status != domain.FlowRunStatusRunning {
		t.Errorf("after B success: expected RUNNING, got %s", run.Status)
	}
	c := stageRunOf(t, run, "C")

	run = f.dispatch(t, run.ID, RunSuccessful{base(c)})
	d := stageRunOf(t, run, "D")

	run = f.dispatch(t, run.ID, RunSuccessful{base(d)})
	if run.Status != domain.FlowRunStatusSuccess {
		t.Errorf("after D success: expected SUCCESS, got %s", run.Status)
	}

	started := f.publisher.startedStages()
	want := []string{"A", "B", "C", "D"}
	if fmt.Sprint(started) != fmt.Sprint(want) {
		t.Errorf("expected start commands %v, got %v", want, started)
	}
	if len(f.publisher.cancels) != 0 {
		t.Errorf("no cancellations expected, got %v", f.publisher.cancels)
	}
}

func TestDispatch_CascadingCancel_Targeted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	f.dispatch(t, run.ID, AcknowledgeRequest{Base: base(a), ExecutorID: "exec-1"})

	run = f.dispatch(t, run.ID, RunFailed{base(b)})
	if run.Status != domain.FlowRunStatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}

	// A стартует в уже упавшем run
	run = f.dispatch(t, run.ID, StartRun{base(a)})

	if len(f.publisher.cancels) != 1 {
		t.Fatalf("expected exactly 1 cancellation, got %d", len(f.publisher.cancels))
	}
	got := f.publisher.cancels[0]
	if got.StageRunID != string(a) || got.ExecutorID != "exec-1" {
		t.Errorf("expected targeted cancel of %s on exec-1, got %+v", a, got)
	}

	// Переход в RUNNING всё равно выполнен, статус run остаётся FAILED
	if view, _ := run.StageRun(a); view.Status != domain.StageRunStatusRunning {
		t.Errorf("expected A RUNNING, got %s", view.Status)
	}
	if run.Status != domain.FlowRunStatusFailed {
		t.Errorf("expected FAILED to stay, got %s", run.Status)
	}
}

func TestDispatch_CascadingCancel_Untargeted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	f.dispatch(t, run.ID, RunCancelled{base(b)})
	run = f.dispatch(t, run.ID, StartRun{base(a)})

	if run.Status != domain.FlowRunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", run.Status)
	}
	if len(f.publisher.cancels) != 1 {
		t.Fatalf("expected exactly 1 cancellation, got %d", len(f.publisher.cancels))
	}
	if got := f.publisher.cancels[0]; got.StageRunID != string(a) || got.ExecutorID != "" {
		t.Errorf("expected untargeted cancel of %s, got %+v", a, got)
	}
}

func TestDispatch_NoCancelForHealthyOrTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	// Run здоров: отмены нет
	f.dispatch(t, run.ID, StartRun{base(a)})

	// Run упал из-за B; повторный START_RUN для самого B (он уже финальный)
	f.dispatch(t, run.ID, RunFailed{base(b)})
	f.dispatch(t, run.ID, StartRun{base(b)})

	if len(f.publisher.cancels) != 0 {
		t.Errorf("expected no cancellations, got %v", f.publisher.cancels)
	}
}

func TestDispatch_CancelPublishFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	f.dispatch(t, run.ID, RunFailed{base(b)})

	f.publisher.cancelErr = errors.New("broker down")
	run = f.dispatch(t, run.ID, StartRun{base(a)})

	if view, _ := run.StageRun(a); view.Status != domain.StageRunStatusRunning {
		t.Errorf("expected A RUNNING despite failed cancel, got %s", view.Status)
	}
}

func TestDispatch_NoChildrenAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	f.dispatch(t, run.ID, RunSuccessful{base(a)})
	f.dispatch(t, run.ID, RunFailed{base(b)})

	// B упал: даже повторный успех A не запускает C
	run = f.dispatch(t, run.ID, RunSuccessful{base(a)})
	if len(run.StageRunsOf("C")) != 0 {
		t.Error("C must not be launched in a failed run")
	}
}

func TestDispatch_UnknownStageRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	before, _ := json.Marshal(run)

	events := []Event{
		AcknowledgeRequest{Base: base("ghost"), ExecutorID: "exec-1"},
		StartRun{base("ghost")},
		RunSuccessful{base("ghost")},
		RunFailed{base("ghost")},
		RunCancelled{base("ghost")},
	}

	for _, ev := range events {
		_, err := f.dispatcher.Dispatch(ctx, run.ID, ev)
		if !errors.Is(err, ErrUnknownStageRun) {
			t.Errorf("%s: expected ErrUnknownStageRun, got %v", ev.Type(), err)
		}

		var unknown *UnknownStageRunError
		if errors.As(err, &unknown) && unknown.FlowRunID != run.ID {
			t.Errorf("%s: expected flow run %s in error, got %s", ev.Type(), run.ID, unknown.FlowRunID)
		}
	}

	stored, _ := f.flowRuns.GetByID(ctx, run.ID)
	after, _ := json.Marshal(stored)
	if string(before) != string(after) {
		t.Errorf("flow run changed:\nbefore %s\nafter  %s", before, after)
	}
}

// customEvent — тип события без обработчика.
type customEvent struct{ Base }

func (customEvent) Type() EventType { return "CUSTOM" }

func TestDispatch_UnknownEventType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)

	_, err := f.dispatcher.Dispatch(ctx, run.ID, customEvent{base("sr-1")})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Error("unknown event type is a protocol error")
	}
}

func TestDispatch_UnknownFlowRun(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "missing", StartRun{base("sr-1")})
	if !errors.Is(err, flowrun.ErrNotFound) {
		t.Errorf("expected flowrun.ErrNotFound, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Error("unknown flow run is a protocol error")
	}
}

func TestDispatchEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", []domain.StageID{"A"})
	a := stageRunOf(t, run, "A")

	updated, err := f.dispatcher.DispatchEnvelope(ctx, Envelope{
		EventType:  EventRunFailed,
		FlowRunID:  run.ID,
		StageRunID: a,
		Instant:    t0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.FlowRunStatusFailed {
		t.Errorf("expected FAILED, got %s", updated.Status)
	}

	_, err = f.dispatcher.DispatchEnvelope(ctx, Envelope{EventType: EventRunFailed, StageRunID: a, Instant: t0})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent without flowRunId, got %v", err)
	}
}

func TestDispatch_ConcurrentEventsSameRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "flow-1", nil)
	a := stageRunOf(t, run, "A")
	b := stageRunOf(t, run, "B")

	var wg sync.WaitGroup
	for i, id := range []domain.StageRunID{a, b} {
		wg.Add(1)
		go func(i int, id domain.StageRunID) {
			defer wg.Done()
			ev := AcknowledgeRequest{Base: base(id), ExecutorID: fmt.Sprintf("exec-%d", i)}
			if _, err := f.dispatcher.Dispatch(ctx, run.ID, ev); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}(i, id)
	}
	wg.Wait()

	stored, _ := f.flowRuns.GetByID(ctx, run.ID)
	for _, id := range []domain.StageRunID{a, b} {
		if view, _ := stored.StageRun(id); view.Status != domain.StageRunStatusAcknowledged {
			t.Errorf("%s: expected ACKNOWLEDGED, got %s", id, view.Status)
		}
	}
}

// togglePersister — Persister, который можно временно сломать.
type togglePersister struct {
	mu   sync.Mutex
	fail bool
}

func (p *togglePersister) Save(context.Context, domain.FlowRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("db down")
	}
	return nil
}

func (p *togglePersister) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

type chainFixture struct {
	persister  *togglePersister
	publisher  *fakePublisher
	flowRuns   *flowrun.Service
	dispatcher *Dispatcher
}

// newChainFixture собирает сервисы над графом A → B с write-through кэшем.
func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()

	flow, err := engine.BuildFlow(domain.FlowDefinition{
		ID: "chain",
		Stages: []domain.StageDef{
			{ID: "A"},
			{ID: "B", DependsOn: []domain.StageID{"A"}},
		},
	})
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	clock := func() time.Time { return t0 }
	f := &chainFixture{persister: &togglePersister{}, publisher: &fakePublisher{}}

	stageRuns := NewService(Config{Publisher: f.publisher, Clock: clock})
	f.flowRuns = flowrun.NewService(flowrun.Config{
		Cache:     flowrun.NewMemoryCache(flowrun.MemoryCacheConfig{Persister: f.persister}),
		Flows:     staticFlows{flow: flow},
		StageRuns: stageRuns,
		Clock:     clock,
	})
	f.dispatcher = NewDispatcher(DispatcherConfig{
		Computer:  f.flowRuns,
		Canceller: stageRuns,
		Launcher:  f.flowRuns,
	})
	return f
}

func (f *chainFixture) startedRuns() []string {
	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	out := make([]string, len(f.publisher.starts))
	for i, s := range f.publisher.starts {
		out[i] = s.StageID + ":" + s.StageRunID
	}
	return out
}

func TestDispatch_ChildStartWaitsForCommit(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()

	run, err := f.flowRuns.StartRun(ctx, "chain", nil)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	a := stageRunOf(t, run, "A")

	// Запись снимка падает: событие не применено, B не отправлен
	f.persister.setFail(true)
	_, err = f.dispatcher.Dispatch(ctx, run.ID, RunSuccessful{base(a)})
	if err == nil || IsProtocolError(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if got := f.publisher.startedStages(); fmt.Sprint(got) != "[A]" {
		t.Fatalf("B must not be published before commit, got %v", got)
	}

	// Повторная доставка после восстановления
	f.persister.setFail(false)
	run = f.dispatchChain(t, run.ID, RunSuccessful{base(a)})
	b := stageRunOf(t, run, "B")

	want := []string{"A:" + string(a), "B:" + string(b)}
	if got := f.startedRuns(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected starts %v, got %v", want, got)
	}

	// Ещё одна доставка того же события не создаёт второй stage run B
	run = f.dispatchChain(t, run.ID, RunSuccessful{base(a)})
	if len(run.StageRunsOf("B")) != 1 {
		t.Errorf("expected 1 stage run for B, got %d", len(run.StageRunsOf("B")))
	}
	for _, start := range f.startedRuns()[1:] {
		if start != "B:"+string(b) {
			t.Errorf("redelivery must resend %s, got %s", b, start)
		}
	}
}

func TestDispatch_ChildStartRetriedAfterPublishFailure(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()

	run, _ := f.flowRuns.StartRun(ctx, "chain", nil)
	a := stageRunOf(t, run, "A")

	f.publisher.mu.Lock()
	f.publisher.startErr = errors.New("broker down")
	f.publisher.mu.Unlock()

	if _, err := f.dispatcher.Dispatch(ctx, run.ID, RunSuccessful{base(a)}); err == nil || IsProtocolError(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}

	// Снимок записан: B создан, но ещё не отправлен
	stored, _ := f.flowRuns.GetByID(ctx, run.ID)
	b := stageRunOf(t, stored, "B")
	if view, _ := stored.StageRun(b); view.Status != domain.StageRunStatusRequested {
		t.Errorf("expected B REQUESTED, got %s", view.Status)
	}

	f.publisher.mu.Lock()
	f.publisher.startErr = nil
	f.publisher.mu.Unlock()

	run = f.dispatchChain(t, run.ID, RunSuccessful{base(a)})
	if got := stageRunOf(t, run, "B"); got != b {
		t.Errorf("redelivery must keep stage run %s, got %s", b, got)
	}
	want := []string{"A:" + string(a), "B:" + string(b)}
	if got := f.startedRuns(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected starts %v, got %v", want, got)
	}
}

func (f *chainFixture) dispatchChain(t *testing.T, runID domain.FlowRunID, ev Event) domain.FlowRun {
	t.Helper()
	run, err := f.dispatcher.Dispatch(context.Background(), runID, ev)
	if err != nil {
		t.Fatalf("dispatch %s: %v", ev.Type(), err)
	}
	return run
}
