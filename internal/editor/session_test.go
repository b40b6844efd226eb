package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"
	"scribe/api/internal/surface"
	"scribe/api/internal/validate"
)

type fakeLoader struct {
	drafts map[string]content.Draft
	err    error
}

func (f *fakeLoader) Load(_ context.Context, draftID string) (content.Draft, error) {
	if f.err != nil {
		return content.Draft{}, f.err
	}
	draft, ok := f.drafts[draftID]
	if !ok {
		return content.Draft{}, errors.New("not found")
	}
	return draft, nil
}

type fakePersister struct {
	mu    sync.Mutex
	saves []autosave.Payload
	err   error
}

func (f *fakePersister) Save(_ context.Context, _ string, payload autosave.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, payload)
	return f.err
}

func (f *fakePersister) last() (autosave.Payload, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return autosave.Payload{}, 0
	}
	return f.saves[len(f.saves)-1], len(f.saves)
}

type fakeStash struct {
	mu      sync.Mutex
	copies  map[string]autosave.Payload
	cleared int
}

func newFakeStash() *fakeStash {
	return &fakeStash{copies: make(map[string]autosave.Payload)}
}

func (f *fakeStash) StashWorkingCopy(_ context.Context, draftID string, payload autosave.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies[draftID] = payload
	return nil
}

func (f *fakeStash) LookupWorkingCopy(_ context.Context, draftID string) (autosave.Payload, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.copies[draftID]
	return payload, ok, nil
}

func (f *fakeStash) ClearWorkingCopy(_ context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.copies, draftID)
	f.cleared++
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func cites(numbers ...int) []content.Citation {
	out := make([]content.Citation, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, content.Citation{Number: n, DocumentID: "doc-" + content.Marker(n), DocumentName: "Doc"})
	}
	return out
}

type harness struct {
	session   *Session
	persister *fakePersister
	stash     *fakeStash
	events    *recordingPublisher
}

func openSession(t *testing.T, text string, citations []content.Citation, mutate func(*Deps)) harness {
	t.Helper()
	h := harness{
		persister: &fakePersister{},
		stash:     newFakeStash(),
		events:    &recordingPublisher{},
	}
	deps := Deps{
		Loader: &fakeLoader{drafts: map[string]content.Draft{
			"d1": {ID: "d1", Title: "Draft", Content: text, Citations: citations, Status: content.StatusDraft},
		}},
		Persister: h.persister,
		Stash:     h.stash,
		Publisher: h.events,
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := Open(context.Background(), "d1", deps, Options{
		DebounceWindow:   time.Hour,
		AutosaveInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	h.session = s
	return h
}

func TestOpenRunsInitialValidation(t *testing.T) {
	h := openSession(t, "a [1] b [3]", cites(1, 2), nil)
	state := h.session.State()

	if len(state.Warnings) != 2 {
		t.Fatalf("warnings = %+v", state.Warnings)
	}
	if w, ok := validate.Find(state.Warnings, validate.OrphanedCitation); !ok || w.CitationNumbers[0] != 3 {
		t.Fatalf("orphan warning = %+v", w)
	}
	if state.CanUndo || state.CanRedo {
		t.Fatal("history should start empty")
	}
	if state.Save.State != autosave.StateClean {
		t.Fatalf("save state = %s", state.Save.State)
	}
	if state.CitationCount != 2 || state.DocumentCount != 2 {
		t.Fatalf("counts = %d/%d", state.CitationCount, state.DocumentCount)
	}
}

func TestOpenLoadError(t *testing.T) {
	_, err := Open(context.Background(), "d1", Deps{
		Loader:    &fakeLoader{err: errors.New("db down")},
		Persister: &fakePersister{},
	}, Options{})
	if err == nil {
		t.Fatal("expected load error")
	}
}

func TestApplySurfaceKeepsMarkers(t *testing.T) {
	h := openSession(t, "claim [1] here", cites(1), nil)

	root := h.session.State().Surface
	// Replace the leading text node; the marker node is untouched.
	root.Children[0].Children[0].Text = "new claim "
	state, err := h.session.ApplySurface(root)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state.Content != "new claim [1] here" {
		t.Fatalf("content = %q", state.Content)
	}
	if !state.CanUndo {
		t.Fatal("edit should be undoable")
	}
	if state.Save.State != autosave.StateDirty {
		t.Fatalf("save state = %s", state.Save.State)
	}
}

func TestApplySurfaceNoOpDoesNotRecord(t *testing.T) {
	h := openSession(t, "claim [1]", cites(1), nil)
	state, err := h.session.ApplySurface(h.session.State().Surface)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state.CanUndo || state.Save.State != autosave.StateClean {
		t.Fatalf("unchanged surface should not record or dirty: %+v", state)
	}
}

func TestApplyHTML(t *testing.T) {
	h := openSession(t, "x", cites(1), nil)
	state, err := h.session.ApplyHTML(`<p>see <span class="citation" data-citation="1" contenteditable="false">[1]</span><script>alert(1)</script></p>`)
	if err != nil {
		t.Fatalf("apply html: %v", err)
	}
	if state.Content != "see [1]" {
		t.Fatalf("content = %q", state.Content)
	}
}

func TestUndoRedoKeepsSurfaceInStep(t *testing.T) {
	h := openSession(t, "one [1]", cites(1), nil)
	before := h.session.State()

	if _, err := h.session.SetContent("one [1] two"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	after := h.session.State()

	undone, err := h.session.Undo()
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.Content != before.Content || undone.HTML != before.HTML {
		t.Fatalf("undo state = %q / %q", undone.Content, undone.HTML)
	}
	if surface.Extract(undone.Surface) != undone.Content {
		t.Fatal("surface out of step with model after undo")
	}

	redone, err := h.session.Redo()
	if err != nil {
		t.Fatalf("redo: %v", err)
	}
	if redone.Content != after.Content || redone.HTML != after.HTML {
		t.Fatalf("redo state = %q", redone.Content)
	}

	// Exhausted redo is a no-op.
	again, _ := h.session.Redo()
	if again.Content != after.Content {
		t.Fatalf("content = %q", again.Content)
	}
}

func TestDeleteMarkerKeepsRecord(t *testing.T) {
	h := openSession(t, "a [1] b [2]", cites(1, 2), nil)

	state, err := h.session.DeleteMarker(2, 0)
	if err != nil {
		t.Fatalf("delete marker: %v", err)
	}
	if state.Content != "a [1] b" {
		t.Fatalf("content = %q", state.Content)
	}
	if len(state.Citations) != 2 {
		t.Fatalf("citation record should survive, got %d", len(state.Citations))
	}
	warnings, err := h.session.ValidateNow()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	w, ok := validate.Find(warnings, validate.UnusedCitation)
	if !ok || len(w.CitationNumbers) != 1 || w.CitationNumbers[0] != 2 {
		t.Fatalf("warnings = %+v", warnings)
	}

	if _, err := h.session.DeleteMarker(9, 0); !errors.Is(err, ErrMarkerNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRemoveCitationsIsOneUndoStep(t *testing.T) {
	h := openSession(t, "[1] [2] [3]", cites(1, 2, 3), nil)

	state, err := h.session.RemoveCitations([]int{2})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if state.Content != "[1] [2]" || len(state.Citations) != 2 {
		t.Fatalf("state = %q %+v", state.Content, state.Citations)
	}
	if state.Citations[1].DocumentID != "doc-[3]" {
		t.Fatalf("new [2] should be the old [3] record: %+v", state.Citations[1])
	}

	undone, _ := h.session.Undo()
	if undone.Content != "[1] [2] [3]" || len(undone.Citations) != 3 {
		t.Fatalf("undo did not restore: %q", undone.Content)
	}
	if undone.CanUndo {
		t.Fatal("renumber should be a single history entry")
	}
}

func TestFixUnused(t *testing.T) {
	h := openSession(t, "[1] then [3]", cites(1, 2, 3), nil)

	state, err := h.session.FixUnused()
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if state.Content != "[1] then [2]" {
		t.Fatalf("content = %q", state.Content)
	}
	if len(state.Warnings) != 0 {
		t.Fatalf("warnings = %+v", state.Warnings)
	}
}

func TestDebouncedValidation(t *testing.T) {
	persister := &fakePersister{}
	events := &recordingPublisher{}
	s, err := Open(context.Background(), "d1", Deps{
		Loader: &fakeLoader{drafts: map[string]content.Draft{
			"d1": {ID: "d1", Content: "a [1]", Citations: cites(1)},
		}},
		Persister: persister,
		Publisher: events,
	}, Options{DebounceWindow: 20 * time.Millisecond, AutosaveInterval: time.Hour})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.SetContent("a [1] [5]"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	if len(s.Warnings()) != 0 {
		t.Fatal("validation ran synchronously")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := validate.Find(s.Warnings(), validate.OrphanedCitation); ok {
			if events.count(EventWarnings) == 0 {
				t.Fatal("warnings event not published")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debounced validation never ran")
}

func TestDismissWarning(t *testing.T) {
	h := openSession(t, "[1]", cites(1, 2), nil)

	state, err := h.session.DismissWarning(validate.UnusedCitation)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if len(state.Warnings) != 0 {
		t.Fatalf("warning still visible: %+v", state.Warnings)
	}

	// A different unused set brings the warning back.
	if _, err := h.session.SetContent("text"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	warnings, _ := h.session.ValidateNow()
	if _, ok := validate.Find(warnings, validate.UnusedCitation); !ok {
		t.Fatalf("warnings = %+v", warnings)
	}

	if _, err := h.session.DismissWarning(validate.OrphanedCitation); !errors.Is(err, ErrWarningNotActive) {
		t.Fatalf("err = %v", err)
	}
}

func TestManualSave(t *testing.T) {
	h := openSession(t, "a [1]", cites(1), nil)

	if _, err := h.session.SetContent("b [1]"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	started, err := h.session.Save(context.Background())
	if !started || err != nil {
		t.Fatalf("save started=%v err=%v", started, err)
	}
	payload, calls := h.persister.last()
	if calls != 1 || payload.Content != "b [1]" || len(payload.Citations) != 1 {
		t.Fatalf("payload = %+v (calls %d)", payload, calls)
	}
	if h.session.SaveStatus().State != autosave.StateClean {
		t.Fatalf("state = %s", h.session.SaveStatus().State)
	}
	if h.events.count(EventSaved) != 1 {
		t.Fatal("saved event not published")
	}
	if h.stash.cleared != 1 {
		t.Fatalf("stash cleared %d times", h.stash.cleared)
	}
}

func TestSaveFailureStashesWorkingCopy(t *testing.T) {
	h := openSession(t, "a [1]", cites(1), nil)
	h.persister.err = errors.New("db down")

	if _, err := h.session.SetContent("edited [1]"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	if _, err := h.session.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if h.session.SaveStatus().State != autosave.StateDirty {
		t.Fatalf("state = %s", h.session.SaveStatus().State)
	}
	if got := h.stash.copies["d1"].Content; got != "edited [1]" {
		t.Fatalf("stashed content = %q", got)
	}
	if h.events.count(EventSaveFailed) != 1 {
		t.Fatal("save_failed event not published")
	}
}

func TestOpenRecoversStashedWorkingCopy(t *testing.T) {
	stash := newFakeStash()
	stash.copies["d1"] = autosave.Payload{Content: "unsaved [1]", Citations: cites(1)}

	h := openSession(t, "saved [1]", cites(1), func(d *Deps) { d.Stash = stash })
	state := h.session.State()
	if state.Content != "unsaved [1]" || !state.Recovered {
		t.Fatalf("state = %q recovered=%v", state.Content, state.Recovered)
	}
	if state.Save.State != autosave.StateDirty {
		t.Fatalf("recovered copy should be dirty, got %s", state.Save.State)
	}
}

type gatedExporter struct {
	entered chan ExportRequest
	release chan struct{}
}

func (g *gatedExporter) Export(_ context.Context, req ExportRequest) (ExportResult, error) {
	g.entered <- req
	<-g.release
	return ExportResult{Filename: req.DraftID + "." + req.Format}, nil
}

func TestExportIsSingleFlight(t *testing.T) {
	exporter := &gatedExporter{entered: make(chan ExportRequest, 1), release: make(chan struct{})}
	h := openSession(t, "[1] [2]", []content.Citation{
		{Number: 1, DocumentID: "a"},
		{Number: 2, DocumentID: "a"},
	}, func(d *Deps) { d.Exporter = exporter })

	done := make(chan error, 1)
	go func() {
		_, err := h.session.Export(context.Background(), "pdf")
		done <- err
	}()
	req := <-exporter.entered
	if req.CitationCount != 2 || req.DocumentCount != 1 {
		t.Fatalf("counts = %d/%d", req.CitationCount, req.DocumentCount)
	}
	if !h.session.State().Exporting {
		t.Fatal("state should report export in flight")
	}

	if _, err := h.session.Export(context.Background(), "docx"); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("err = %v", err)
	}

	close(exporter.release)
	if err := <-done; err != nil {
		t.Fatalf("export: %v", err)
	}
	if h.session.State().Exporting {
		t.Fatal("export flag not cleared")
	}
}

func TestExportUnavailable(t *testing.T) {
	h := openSession(t, "x", nil, nil)
	if _, err := h.session.Export(context.Background(), "pdf"); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

type fakeFeedback struct {
	got Feedback
}

func (f *fakeFeedback) Alternatives(_ context.Context, _ string, feedback Feedback) ([]Alternative, error) {
	f.got = feedback
	return []Alternative{
		{Type: "rephrase", Description: "Shorter wording", Action: "regenerate"},
		{Type: "sources", Description: "Use newer sources", Action: "research"},
	}, nil
}

func TestFeedbackAlternatives(t *testing.T) {
	provider := &fakeFeedback{}
	h := openSession(t, "x", nil, func(d *Deps) { d.Feedback = provider })

	alternatives, err := h.session.RequestAlternatives(context.Background(), Feedback{Reason: "too_long", Comment: "trim it"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(alternatives) != 2 || provider.got.Reason != "too_long" {
		t.Fatalf("alternatives = %+v", alternatives)
	}
	if len(h.session.State().Alternatives) != 2 {
		t.Fatal("alternatives not stored")
	}

	chosen, err := h.session.SelectAlternative(1)
	if err != nil || chosen.Type != "sources" {
		t.Fatalf("chosen = %+v err=%v", chosen, err)
	}
	if len(h.session.Alternatives()) != 0 {
		t.Fatal("selection should clear the list")
	}
	if _, err := h.session.SelectAlternative(0); !errors.Is(err, ErrAlternativeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestFeedbackUnavailable(t *testing.T) {
	h := openSession(t, "x", nil, nil)
	if _, err := h.session.RequestAlternatives(context.Background(), Feedback{}); !errors.Is(err, ErrFeedbackUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestClosedSessionRejectsEdits(t *testing.T) {
	h := openSession(t, "x [1]", cites(1), nil)
	h.session.Close()
	h.session.Close()

	if _, err := h.session.SetContent("y"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.session.Undo(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.session.Save(context.Background()); !errors.Is(err, autosave.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	if h.events.count(EventClosed) != 1 {
		t.Fatal("closed event should be published once")
	}
}

type gatedPersister struct {
	fakePersister
	entered chan struct{}
	release chan struct{}
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedPersister) Save(ctx context.Context, draftID string, payload autosave.Payload) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakePersister.Save(ctx, draftID, payload)
}

func TestCloseStashesUnsavedEdits(t *testing.T) {
	h := openSession(t, "a [1]", cites(1), nil)
	if _, err := h.session.SetContent("a [1] typed"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	h.session.Close()

	if _, calls := h.persister.last(); calls != 0 {
		t.Fatalf("close with a stash should not save, got %d saves", calls)
	}
	h.stash.mu.Lock()
	stashed, ok := h.stash.copies["d1"]
	h.stash.mu.Unlock()
	if !ok || stashed.Content != "a [1] typed" {
		t.Fatalf("stashed = %+v ok=%v", stashed, ok)
	}
	if _, err := h.session.Save(context.Background()); !errors.Is(err, autosave.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestCloseSavesUnsavedEditsWithoutStash(t *testing.T) {
	h := openSession(t, "a [1]", cites(1), func(d *Deps) { d.Stash = nil })
	if _, err := h.session.SetContent("a [1] typed"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	h.session.Close()

	payload, calls := h.persister.last()
	if calls != 1 || payload.Content != "a [1] typed" {
		t.Fatalf("payload = %+v (calls %d)", payload, calls)
	}
}

func TestCloseCleanSessionLeavesNothingBehind(t *testing.T) {
	h := openSession(t, "a [1]", cites(1), nil)
	h.session.Close()

	if _, calls := h.persister.last(); calls != 0 {
		t.Fatalf("unexpected save on clean close")
	}
	if len(h.stash.copies) != 0 {
		t.Fatalf("unexpected stash %+v", h.stash.copies)
	}
}

func TestCloseDuringSaveKeepsLaterEditStashed(t *testing.T) {
	gated := newGatedPersister()
	h := openSession(t, "a [1]", cites(1), func(d *Deps) { d.Persister = gated })

	if _, err := h.session.SetContent("a [1] one"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	go func() { _, _ = h.session.Save(context.Background()) }()
	<-gated.entered

	if _, err := h.session.SetContent("a [1] two"); err != nil {
		t.Fatalf("set content: %v", err)
	}
	h.session.Close()
	close(gated.release)
	if err := h.session.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	h.stash.mu.Lock()
	defer h.stash.mu.Unlock()
	if h.stash.copies["d1"].Content != "a [1] two" || h.stash.cleared != 0 {
		t.Fatalf("stash = %+v cleared=%d", h.stash.copies, h.stash.cleared)
	}
}
