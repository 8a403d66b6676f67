package stagerun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
)

// fakeRepo запоминает созданные stage runs.
type fakeRepo struct {
	created []domain.StageRunView
	err     error
}

func (r *fakeRepo) Create(_ context.Context, view domain.StageRunView) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, view)
	return nil
}

func TestService_StartRuns(t *testing.T) {
	publisher := &fakePublisher{}
	repo := &fakeRepo{}
	svc := NewService(Config{
		Publisher: publisher,
		Repo:      repo,
		Clock:     func() time.Time { return t0 },
	})

	views, err := svc.StartRuns(context.Background(), "fr-1", []domain.StageID{"A", "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	for id, view := range views {
		if id != view.ID || id == "" {
			t.Errorf("view keyed by %q has id %q", id, view.ID)
		}
		if view.Status != domain.StageRunStatusRequested || view.FlowRunID != "fr-1" {
			t.Errorf("unexpected view: %+v", view)
		}
		if !view.CreatedAt.Equal(t0) {
			t.Errorf("expected created_at %v, got %v", t0, view.CreatedAt)
		}
	}

	if len(repo.created) != 2 {
		t.Errorf("expected 2 stored stage runs, got %d", len(repo.created))
	}
	if len(publisher.starts) != 2 || publisher.starts[0].StageID != "A" || publisher.starts[0].FlowRunID != "fr-1" {
		t.Errorf("unexpected start commands: %+v", publisher.starts)
	}
}

func TestService_StartRuns_Errors(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	svc := NewService(Config{Publisher: &fakePublisher{}, Repo: repo})

	if _, err := svc.StartRuns(context.Background(), "fr-1", []domain.StageID{"A"}); err == nil {
		t.Error("expected repo error")
	}

	publisher := &fakePublisher{startErr: errors.New("broker down")}
	svc = NewService(Config{Publisher: publisher})

	if _, err := svc.StartRuns(context.Background(), "fr-1", []domain.StageID{"A"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestService_StartRuns_WithoutPublisher(t *testing.T) {
	svc := NewService(Config{})

	views, err := svc.StartRuns(context.Background(), "fr-1", []domain.StageID{"A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 {
		t.Errorf("expected 1 view, got %d", len(views))
	}

	// Отмена без publisher не паникует
	svc.RequestCancel(context.Background(), "sr-1")
}

func TestService_RequestCancel(t *testing.T) {
	publisher := &fakePublisher{}
	svc := NewService(Config{Publisher: publisher})

	svc.RequestCancel(context.Background(), "sr-1")
	svc.RequestCancelOn(context.Background(), "sr-2", "exec-9")

	if len(publisher.cancels) != 2 {
		t.Fatalf("expected 2 cancels, got %d", len(publisher.cancels))
	}
	if publisher.cancels[0].ExecutorID != "" {
		t.Errorf("first cancel should be untargeted: %+v", publisher.cancels[0])
	}
	if publisher.cancels[1].StageRunID != "sr-2" || publisher.cancels[1].ExecutorID != "exec-9" {
		t.Errorf("second cancel should target exec-9: %+v", publisher.cancels[1])
	}

	// Ошибка отправки не возвращается вызывающему
	publisher.cancelErr = errors.New("broker down")
	svc.RequestCancelOn(context.Background(), "sr-3", "exec-9")
}

func TestService_CreateRunsThenPublish(t *testing.T) {
	publisher := &fakePublisher{}
	repo := &fakeRepo{}
	svc := NewService(Config{Publisher: publisher, Repo: repo, Clock: func() time.Time { return t0 }})

	views, err := svc.CreateRuns(context.Background(), "fr-1", []domain.StageID{"C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 || len(repo.created) != 1 {
		t.Fatalf("expected 1 created stage run, got %d views / %d stored", len(views), len(repo.created))
	}
	if len(publisher.starts) != 0 {
		t.Fatalf("CreateRuns must not publish, got %+v", publisher.starts)
	}

	view := repo.created[0]
	for i := 0; i < 2; i++ {
		if err := svc.PublishStarts(context.Background(), []domain.StageRunView{view}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(publisher.starts) != 2 {
		t.Fatalf("expected 2 start commands, got %d", len(publisher.starts))
	}
	for _, start := range publisher.starts {
		if start.StageRunID != string(view.ID) || start.StageID != "C" || start.FlowRunID != "fr-1" {
			t.Errorf("unexpected start command: %+v", start)
		}
	}

	publisher.startErr = errors.New("broker down")
	if err := svc.PublishStarts(context.Background(), []domain.StageRunView{view}); err == nil {
		t.Error("expected publish error")
	}

	if err := NewService(Config{}).PublishStarts(context.Background(), []domain.StageRunView{view}); err != nil {
		t.Errorf("without publisher PublishStarts is a no-op, got %v", err)
	}
}
