// Package drafts is the persistence side of the editor: Postgres holds the
// current row, a git repository per draft keeps every saved revision, and the
// search index is refreshed after each save.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"
	"scribe/api/internal/gitrepo"
	"scribe/api/internal/logger"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
	"scribe/api/internal/util"
)

const (
	autosaveAuthor  = "scribe-autosave"
	autosaveMessage = "Save draft"
)

var ErrInvalidDraft = errors.New("invalid draft")

type dataStore interface {
	GetDraft(ctx context.Context, draftID string) (store.Draft, error)
	InsertDraft(ctx context.Context, item store.Draft) error
	SaveDraftContent(ctx context.Context, draftID, text string, citations []content.Citation) error
	UpdateDraftStatus(ctx context.Context, draftID string, status content.Status) error
	ListDrafts(ctx context.Context, limit int) ([]store.DraftSummary, error)
	ListExports(ctx context.Context, draftID string) ([]store.ExportRecord, error)
}

type gitService interface {
	EnsureDraftRepo(draftID string, initial gitrepo.DraftFile, author string) error
	CommitDraft(draftID string, file gitrepo.DraftFile, author, message string) (gitrepo.Revision, bool, error)
	History(draftID string, limit int) ([]gitrepo.Revision, error)
	GetDraftByHash(draftID, hash string) (gitrepo.DraftFile, error)
	Head(draftID string) (gitrepo.DraftFile, gitrepo.Revision, error)
}

type indexer interface {
	IndexDraft(rec search.DraftRecord)
	DeleteDraft(id string)
}

type Repository struct {
	store dataStore
	git   gitService
	index indexer
	log   *logger.Logger
}

// New wires the repository. index may be nil when search is not configured.
func New(dataStore dataStore, git gitService, index indexer, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	return &Repository{store: dataStore, git: git, index: index, log: log.Component("drafts")}
}

// Load reads the current row and makes sure the draft has a revision
// repository to commit saves into.
func (r *Repository) Load(ctx context.Context, draftID string) (content.Draft, error) {
	row, err := r.store.GetDraft(ctx, draftID)
	if err != nil {
		return content.Draft{}, err
	}
	draft := row.Domain()
	if err := r.git.EnsureDraftRepo(draftID, fileOf(draft), firstNonBlank(row.CreatedBy, autosaveAuthor)); err != nil {
		return content.Draft{}, fmt.Errorf("ensure draft repo: %w", err)
	}
	return draft, nil
}

// Save writes the payload to Postgres and commits it as a revision. Both
// steps are idempotent, so a retried save after a partial failure is safe.
func (r *Repository) Save(ctx context.Context, draftID string, payload autosave.Payload) error {
	if err := r.store.SaveDraftContent(ctx, draftID, payload.Content, payload.Citations); err != nil {
		return err
	}
	row, err := r.store.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	draft := row.Domain()
	rev, committed, err := r.git.CommitDraft(draftID, fileOf(draft), autosaveAuthor, autosaveMessage)
	if err != nil {
		return fmt.Errorf("commit draft revision: %w", err)
	}
	if committed {
		r.log.Debug().Str("draft_id", draftID).Str("revision", rev.Hash).Msg("committed revision")
	}
	if r.index != nil {
		r.index.IndexDraft(search.NewDraftRecord(draft))
	}
	return nil
}

type CreateInput struct {
	Title     string             `json:"title"`
	Content   string             `json:"content"`
	Citations []content.Citation `json:"citations"`
}

// Create inserts a new draft produced by the generation step. Citation
// numbers must be unique and positive.
func (r *Repository) Create(ctx context.Context, input CreateInput, author string) (content.Draft, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return content.Draft{}, fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	if err := content.CheckNumbers(input.Citations); err != nil {
		return content.Draft{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	item := store.Draft{
		ID:        util.NewID(""),
		Title:     title,
		Content:   input.Content,
		Citations: content.CloneCitations(input.Citations),
		WordCount: content.WordCount(input.Content),
		Status:    content.StatusDraft,
		CreatedBy: author,
	}
	if err := r.store.InsertDraft(ctx, item); err != nil {
		return content.Draft{}, err
	}
	draft := item.Domain()
	if err := r.git.EnsureDraftRepo(item.ID, fileOf(draft), firstNonBlank(author, autosaveAuthor)); err != nil {
		return content.Draft{}, fmt.Errorf("ensure draft repo: %w", err)
	}
	if r.index != nil {
		r.index.IndexDraft(search.NewDraftRecord(draft))
	}
	return draft, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]store.DraftSummary, error) {
	return r.store.ListDrafts(ctx, limit)
}

// SetStatus moves a draft through its lifecycle. Archived drafts leave the
// search index.
func (r *Repository) SetStatus(ctx context.Context, draftID string, status content.Status) error {
	switch status {
	case content.StatusDraft, content.StatusEditing, content.StatusComplete, content.StatusArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDraft, status)
	}
	if err := r.store.UpdateDraftStatus(ctx, draftID, status); err != nil {
		return err
	}
	if r.index == nil {
		return nil
	}
	if status == content.StatusArchived {
		r.index.DeleteDraft(draftID)
		return nil
	}
	row, err := r.store.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	r.index.IndexDraft(search.NewDraftRecord(row.Domain()))
	return nil
}

func (r *Repository) History(_ context.Context, draftID string, limit int) ([]gitrepo.Revision, error) {
	return r.git.History(draftID, limit)
}

func (r *Repository) Revision(_ context.Context, draftID, hash string) (gitrepo.DraftFile, error) {
	return r.git.GetDraftByHash(draftID, hash)
}

// Compare reports what changed between the revision at hash and the latest
// saved one.
func (r *Repository) Compare(_ context.Context, draftID, hash string) (gitrepo.Change, error) {
	from, err := r.git.GetDraftByHash(draftID, hash)
	if err != nil {
		return gitrepo.Change{}, err
	}
	head, _, err := r.git.Head(draftID)
	if err != nil {
		return gitrepo.Change{}, fmt.Errorf("read head revision: %w", err)
	}
	return gitrepo.Diff(from, head), nil
}

func (r *Repository) Exports(ctx context.Context, draftID string) ([]store.ExportRecord, error) {
	return r.store.ListExports(ctx, draftID)
}

func fileOf(draft content.Draft) gitrepo.DraftFile {
	return gitrepo.DraftFile{
		Title:     draft.Title,
		Content:   draft.Content,
		Citations: content.CloneCitations(draft.Citations),
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
