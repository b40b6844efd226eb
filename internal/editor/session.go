// Package editor composes the content model, surface, history, validator,
// renumbering and autosave into one session per open draft.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"
	"scribe/api/internal/history"
	"scribe/api/internal/logger"
	"scribe/api/internal/metrics"
	"scribe/api/internal/renumber"
	"scribe/api/internal/surface"
	"scribe/api/internal/validate"
)

var (
	ErrSessionNotFound     = errors.New("editor session not found")
	ErrSessionClosed       = errors.New("editor session closed")
	ErrExportInProgress    = errors.New("export already in progress")
	ErrExportUnavailable   = errors.New("export is not configured")
	ErrFeedbackUnavailable = errors.New("feedback is not configured")
	ErrAlternativeNotFound = errors.New("alternative not found")
	ErrWarningNotActive    = errors.New("warning not active")
	ErrMarkerNotFound      = errors.New("citation marker not found")
)

type Deps struct {
	Loader    Loader
	Persister autosave.Persister
	Stash     WorkingCopyStash
	Feedback  FeedbackProvider
	Exporter  Exporter
	Publisher Publisher
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

type Options struct {
	HistoryDepth     int
	CoalesceWindow   time.Duration
	DebounceWindow   time.Duration
	AutosaveInterval time.Duration
	Now              func() time.Time
}

// State is what callers render. Everything in it is a copy.
type State struct {
	DraftID       string             `json:"draftId"`
	Title         string             `json:"title"`
	Status        content.Status     `json:"status"`
	Content       string             `json:"content"`
	Citations     []content.Citation `json:"citations"`
	Surface       *surface.Node      `json:"surface"`
	HTML          string             `json:"html"`
	Warnings      []validate.Warning `json:"warnings"`
	CanUndo       bool               `json:"canUndo"`
	CanRedo       bool               `json:"canRedo"`
	WordCount     int                `json:"wordCount"`
	CitationCount int                `json:"citationCount"`
	DocumentCount int                `json:"documentCount"`
	Save          autosave.Status    `json:"save"`
	Alternatives  []Alternative      `json:"alternatives"`
	Exporting     bool               `json:"exporting"`
	Recovered     bool               `json:"recovered"`
}

// Session is one open draft. All operations are serialized by mu; the
// debounce and autosave timers fire on their own goroutines and enter
// through the same lock.
type Session struct {
	draftID string
	deps    Deps
	opts    Options
	log     *logger.Logger
	saver   *autosave.Coordinator

	mu           sync.Mutex
	title        string
	status       content.Status
	model        *content.Model
	surface      *surface.Node
	history      *history.Manager
	debouncer    *validate.Debouncer
	dismissals   *validate.Dismissals
	warnings     []validate.Warning
	alternatives []Alternative
	exporting    bool
	recovered    bool
	closed       bool
}

// Open loads a draft and returns a session with an empty history, an initial
// validation already applied and autosave running.
func Open(ctx context.Context, draftID string, deps Deps, opts Options) (*Session, error) {
	if deps.Loader == nil || deps.Persister == nil {
		return nil, errors.New("editor: loader and persister are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	draft, err := deps.Loader.Load(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	s := &Session{
		draftID:    draftID,
		deps:       deps,
		opts:       opts,
		log:        deps.Logger.Component("editor").Draft(draftID),
		title:      draft.Title,
		status:     draft.Status,
		dismissals: validate.NewDismissals(),
	}
	if err := content.CheckNumbers(draft.Citations); err != nil {
		// Numbers come from the generator; duplicates are kept as loaded.
		s.log.Warn().Err(err).Msg("draft has duplicate citation numbers")
	}

	text, citations := draft.Content, draft.Citations
	if deps.Stash != nil {
		stashed, ok, err := deps.Stash.LookupWorkingCopy(ctx, draftID)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("working copy lookup failed")
		case ok && !content.NewSnapshot(stashed.Content, stashed.Citations).Equal(content.NewSnapshot(text, citations)):
			text, citations = stashed.Content, stashed.Citations
			s.recovered = true
			s.log.Info().Msg("recovered unsaved working copy")
		}
	}

	s.model = content.NewModel(text, citations)
	s.surface = surface.Render(text, citations)
	s.history = history.New(s.model.Snapshot(), history.Options{
		MaxDepth:       opts.HistoryDepth,
		CoalesceWindow: opts.CoalesceWindow,
		Now:            opts.Now,
	})
	s.debouncer = validate.NewDebouncer(opts.DebounceWindow, func(string, []content.Citation) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.validateLocked()
		}
	})
	s.saver = autosave.New(draftID, deps.Persister, s.payload, autosave.Options{
		Interval:  opts.AutosaveInterval,
		OnSuccess: s.saved,
		OnFailure: s.saveFailed,
		Now:       opts.Now,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})

	s.validateLocked()
	if s.recovered {
		s.saver.MarkDirty()
	}
	s.saver.Start()
	deps.Metrics.SessionOpened()
	s.log.Info().Int("citations", len(citations)).Msg("session opened")
	return s, nil
}

func (s *Session) DraftID() string { return s.draftID }

func (s *Session) payload() autosave.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return autosave.Payload{Content: s.model.Serialize(), Citations: s.model.Citations()}
}

func (s *Session) saved(status autosave.Status) {
	// A save that finished with edits still pending must not clear their stash.
	if s.deps.Stash != nil && status.State == autosave.StateClean {
		if err := s.deps.Stash.ClearWorkingCopy(context.Background(), s.draftID); err != nil {
			s.log.Warn().Err(err).Msg("clear working copy failed")
		}
	}
	s.deps.Publisher.Publish(Event{Type: EventSaved, DraftID: s.draftID, At: s.opts.Now(), Save: &status})
}

func (s *Session) saveFailed(saveErr error) {
	if s.deps.Stash != nil {
		if err := s.deps.Stash.StashWorkingCopy(context.Background(), s.draftID, s.payload()); err != nil {
			s.log.Warn().Err(err).Msg("stash working copy failed")
		}
	}
	status := s.saver.Status()
	s.deps.Publisher.Publish(Event{Type: EventSaveFailed, DraftID: s.draftID, At: s.opts.Now(), Save: &status, Error: saveErr.Error()})
}

// State returns a copy of everything the surface needs.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	citations := s.model.Citations()
	surfaceCopy := s.surface.Clone()
	return State{
		DraftID:       s.draftID,
		Title:         s.title,
		Status:        s.status,
		Content:       s.model.Serialize(),
		Citations:     citations,
		Surface:       surfaceCopy,
		HTML:          surface.RenderHTML(surfaceCopy),
		Warnings:      s.dismissals.Visible(s.warnings),
		CanUndo:       s.history.CanUndo(),
		CanRedo:       s.history.CanRedo(),
		WordCount:     s.model.WordCount(),
		CitationCount: len(citations),
		DocumentCount: content.DocumentCount(citations),
		Save:          s.saver.Status(),
		Alternatives:  append([]Alternative(nil), s.alternatives...),
		Exporting:     s.exporting,
		Recovered:     s.recovered,
	}
}

// ApplySurface takes an edited surface tree, extracts canonical content from
// it and commits the result as one history entry.
func (s *Session) ApplySurface(root *surface.Node) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	if root == nil {
		root = surface.NewRoot()
	}
	root = root.Clone()
	next := content.NewSnapshot(surface.Extract(root), s.model.Citations())
	s.commitLocked(next, root, true)
	return s.stateLocked(), nil
}

// ApplyHTML sanitizes and parses surface markup, then behaves as ApplySurface.
func (s *Session) ApplyHTML(markup string) (State, error) {
	root, err := surface.ParseHTML(markup)
	if err != nil {
		return State{}, fmt.Errorf("parse surface html: %w", err)
	}
	return s.ApplySurface(root)
}

// SetContent replaces the canonical content directly, e.g. for a paste of
// text that already carries markers.
func (s *Session) SetContent(text string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	s.commitLocked(content.NewSnapshot(text, s.model.Citations()), nil, true)
	return s.stateLocked(), nil
}

// DeleteMarker removes one occurrence of a marker from the text. The citation
// record is kept, so the validator will report it as unused.
func (s *Session) DeleteMarker(number, occurrence int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	root := s.surface.Clone()
	if !surface.RemoveMarker(root, number, occurrence) {
		return State{}, ErrMarkerNotFound
	}
	next := content.NewSnapshot(surface.Extract(root), s.model.Citations())
	// A marker delete is its own undo step even inside a typing burst.
	s.history.Break()
	s.commitLocked(next, root, true)
	return s.stateLocked(), nil
}

// commitLocked applies next to the model and keeps every derived piece in
// step. root is the surface the edit came from; nil means re-render.
func (s *Session) commitLocked(next content.Snapshot, root *surface.Node, record bool) bool {
	if !s.model.Apply(next) {
		if root != nil {
			surface.Resolve(root, content.Numbers(next.Citations))
			s.surface = root
		}
		return false
	}
	if root == nil {
		root = surface.Render(next.Content, next.Citations)
	} else {
		surface.Resolve(root, content.Numbers(next.Citations))
	}
	s.surface = root
	if record {
		s.history.Record(next)
	}
	s.debouncer.Trigger(next.Content, next.Citations)
	s.saver.MarkDirty()
	s.deps.Publisher.Publish(Event{Type: EventState, DraftID: s.draftID, At: s.opts.Now()})
	return true
}

func (s *Session) Undo() (State, error) {
	return s.step("undo", func() (content.Snapshot, bool) { return s.history.Undo() })
}

func (s *Session) Redo() (State, error) {
	return s.step("redo", func() (content.Snapshot, bool) { return s.history.Redo() })
}

// step moves through history. The model and surface change together under
// the lock, so no edit can land between them.
func (s *Session) step(op string, move func() (content.Snapshot, bool)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	if snap, ok := move(); ok {
		s.commitLocked(snap, nil, false)
		s.deps.Metrics.RecordHistory(op)
	}
	return s.stateLocked(), nil
}

// RemoveCitations drops the given records and their markers and renumbers the
// rest, as one undoable step.
func (s *Session) RemoveCitations(numbers []int) (State, error) {
	return s.renumber("remove", func(text string, citations []content.Citation) renumber.Result {
		return renumber.Citations(text, citations, numbers)
	})
}

// DeleteCitation is the explicit delete of a single record.
func (s *Session) DeleteCitation(number int) (State, error) {
	return s.RemoveCitations([]int{number})
}

// FixUnused removes every citation that is never referenced in the text.
func (s *Session) FixUnused() (State, error) {
	return s.renumber("fix_unused", renumber.FixUnused)
}

func (s *Session) renumber(kind string, fn func(string, []content.Citation) renumber.Result) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	result := fn(s.model.Serialize(), s.model.Citations())
	if s.commitLocked(result.Snapshot(), nil, true) {
		// Renumbering is an explicit fix; its effect on warnings shows at once.
		s.validateLocked()
		s.deps.Metrics.RecordRenumber(kind)
		s.log.Info().Str("kind", kind).Int("citations", len(result.Citations)).Msg("citations renumbered")
	}
	return s.stateLocked(), nil
}

// ValidateNow runs validation immediately instead of waiting for the debounce.
func (s *Session) ValidateNow() ([]validate.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.validateLocked()
	return s.dismissals.Visible(s.warnings), nil
}

func (s *Session) validateLocked() {
	previous := s.dismissals.Visible(s.warnings)
	latest := validate.Validate(s.model.Serialize(), s.model.Citations())
	s.trackWarningsLocked(s.warnings, latest)
	s.warnings = latest
	s.dismissals.Update(latest)
	s.deps.Metrics.RecordValidation()

	visible := s.dismissals.Visible(latest)
	if !warningsEqual(previous, visible) {
		s.deps.Publisher.Publish(Event{Type: EventWarnings, DraftID: s.draftID, At: s.opts.Now(), Warnings: visible})
	}
}

func (s *Session) trackWarningsLocked(before, after []validate.Warning) {
	for _, t := range []validate.WarningType{validate.OrphanedCitation, validate.UnusedCitation} {
		_, was := validate.Find(before, t)
		_, is := validate.Find(after, t)
		switch {
		case is && !was:
			s.deps.Metrics.AdjustWarning(string(t), 1)
		case was && !is:
			s.deps.Metrics.AdjustWarning(string(t), -1)
		}
	}
}

func warningsEqual(a, b []validate.Warning) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Message != b[i].Message || len(a[i].CitationNumbers) != len(b[i].CitationNumbers) {
			return false
		}
		for j := range a[i].CitationNumbers {
			if a[i].CitationNumbers[j] != b[i].CitationNumbers[j] {
				return false
			}
		}
	}
	return true
}

// Warnings returns the warnings not hidden by a dismissal.
func (s *Session) Warnings() []validate.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dismissals.Visible(s.warnings)
}

// DismissWarning hides the current warning of type t until its set of
// numbers changes.
func (s *Session) DismissWarning(t validate.WarningType) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	if !s.dismissals.Dismiss(t, s.warnings) {
		return State{}, ErrWarningNotActive
	}
	return s.stateLocked(), nil
}

// Save is the manual save. It reports false when a save was already in
// flight and nothing new was started.
func (s *Session) Save(ctx context.Context) (bool, error) {
	return s.saver.SaveNow(ctx)
}

func (s *Session) SaveStatus() autosave.Status {
	return s.saver.Status()
}

// RequestAlternatives sends feedback and stores whatever comes back,
// replacing any previous list.
func (s *Session) RequestAlternatives(ctx context.Context, feedback Feedback) ([]Alternative, error) {
	if s.deps.Feedback == nil {
		return nil, ErrFeedbackUnavailable
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	alternatives, err := s.deps.Feedback.Alternatives(ctx, s.draftID, feedback)
	if err != nil {
		return nil, fmt.Errorf("request alternatives: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alternatives = append([]Alternative(nil), alternatives...)
	return append([]Alternative(nil), s.alternatives...), nil
}

func (s *Session) Alternatives() []Alternative {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alternative(nil), s.alternatives...)
}

// SelectAlternative returns the chosen suggestion and clears the list.
func (s *Session) SelectAlternative(index int) (Alternative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.alternatives) {
		return Alternative{}, ErrAlternativeNotFound
	}
	chosen := s.alternatives[index]
	s.alternatives = nil
	return chosen, nil
}

// Export hands the current content to the exporter. Only one export runs per
// session; a second call while one is running fails fast.
func (s *Session) Export(ctx context.Context, format string) (ExportResult, error) {
	if s.deps.Exporter == nil {
		return ExportResult{}, ErrExportUnavailable
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ExportResult{}, ErrSessionClosed
	}
	if s.exporting {
		s.mu.Unlock()
		return ExportResult{}, ErrExportInProgress
	}
	s.exporting = true
	citations := s.model.Citations()
	req := ExportRequest{
		DraftID:       s.draftID,
		Title:         s.title,
		Format:        format,
		Content:       s.model.Serialize(),
		Citations:     citations,
		CitationCount: len(citations),
		DocumentCount: content.DocumentCount(citations),
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.exporting = false
		s.mu.Unlock()
	}()

	result, err := s.deps.Exporter.Export(ctx, req)
	s.deps.Metrics.RecordExport(format, err)
	if err != nil {
		return ExportResult{}, fmt.Errorf("export %s: %w", format, err)
	}
	return result, nil
}

// Close cancels pending validation and autosave timers and discards history.
// A save already in flight is left to finish. Unsaved edits go to the stash,
// or are saved once more when no stash is configured.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.debouncer.Stop()
	pending := s.saver.Pending()
	unsaved := autosave.Payload{Content: s.model.Serialize(), Citations: s.model.Citations()}
	s.history.Reset(s.model.Snapshot())
	s.trackWarningsLocked(s.warnings, nil)
	s.alternatives = nil
	s.mu.Unlock()

	if pending {
		s.keepUnsaved(unsaved)
	}
	s.saver.Close()

	s.deps.Metrics.SessionClosed()
	s.deps.Publisher.Publish(Event{Type: EventClosed, DraftID: s.draftID, At: s.opts.Now()})
	s.log.Info().Msg("session closed")
}

func (s *Session) keepUnsaved(payload autosave.Payload) {
	ctx := context.Background()
	if s.deps.Stash != nil {
		if err := s.deps.Stash.StashWorkingCopy(ctx, s.draftID, payload); err != nil {
			s.log.Error().Err(err).Msg("stash working copy on close failed")
			return
		}
		s.log.Info().Msg("unsaved edits stashed on close")
		return
	}
	for {
		if err := s.saver.Wait(ctx); err != nil {
			return
		}
		started, err := s.saver.SaveNow(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("final save on close failed")
			return
		}
		if started {
			return
		}
	}
}

// Wait blocks until an in-flight save finishes.
func (s *Session) Wait(ctx context.Context) error {
	return s.saver.Wait(ctx)
}
