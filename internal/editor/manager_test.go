package editor

import (
	"context"
	"errors"
	"testing"
	"time"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"
)

func newTestManager() *Manager {
	return NewManager(Deps{
		Loader: &fakeLoader{drafts: map[string]content.Draft{
			"a": {ID: "a", Content: "alpha [1]", Citations: cites(1)},
			"b": {ID: "b", Content: "beta"},
		}},
		Persister: &fakePersister{},
	}, Options{DebounceWindow: time.Hour, AutosaveInterval: time.Hour})
}

func TestManagerOpenIsIdempotent(t *testing.T) {
	m := newTestManager()
	defer m.CloseAll(context.Background())

	first, err := m.Open(context.Background(), "a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := m.Open(context.Background(), "a")
	if err != nil {
		t.Fatalf("open again: %v", err)
	}
	if first != second {
		t.Fatal("expected the same session")
	}
	got, err := m.Get("a")
	if err != nil || got != first {
		t.Fatalf("get = %v err=%v", got, err)
	}
}

func TestManagerGetAndCloseMissing(t *testing.T) {
	m := newTestManager()
	if _, err := m.Get("zzz"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := m.Close("zzz"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.Open(context.Background(), "zzz"); err == nil {
		t.Fatal("expected load error for unknown draft")
	}
}

func TestManagerCloseAndCloseAll(t *testing.T) {
	m := newTestManager()
	a, _ := m.Open(context.Background(), "a")
	if _, err := m.Open(context.Background(), "b"); err != nil {
		t.Fatalf("open b: %v", err)
	}
	if ids := m.DraftIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids = %v", ids)
	}

	if err := m.Close("a"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := a.SetContent("x"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("closed session still accepts edits: %v", err)
	}
	if err := m.CloseAll(context.Background()); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if len(m.DraftIDs()) != 0 {
		t.Fatal("sessions remain after CloseAll")
	}
}

func TestManagerSaveAllFlushesEditsMadeDuringSave(t *testing.T) {
	gated := newGatedPersister()
	m := NewManager(Deps{
		Loader: &fakeLoader{drafts: map[string]content.Draft{
			"a": {ID: "a", Content: "alpha [1]", Citations: cites(1)},
		}},
		Persister: gated,
	}, Options{DebounceWindow: time.Hour, AutosaveInterval: time.Hour})
	defer m.CloseAll(context.Background())

	s, err := m.Open(context.Background(), "a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.SetContent("alpha [1] one"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	go func() { _, _ = s.Save(context.Background()) }()
	<-gated.entered
	if _, err := s.SetContent("alpha [1] two"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	close(gated.release)

	if err := m.SaveAll(context.Background()); err != nil {
		t.Fatalf("save all: %v", err)
	}
	payload, calls := gated.last()
	if calls != 2 || payload.Content != "alpha [1] two" {
		t.Fatalf("payload = %+v (calls %d)", payload, calls)
	}
	if s.SaveStatus().State != autosave.StateClean {
		t.Fatalf("state = %s", s.SaveStatus().State)
	}
}
