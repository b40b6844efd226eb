package app

import (
	"context"
	"strings"
	"time"

	"scribe/api/internal/auth"
	"scribe/api/internal/config"
	"scribe/api/internal/content"
	"scribe/api/internal/drafts"
	"scribe/api/internal/editor"
	"scribe/api/internal/gitrepo"
	"scribe/api/internal/rbac"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type UserStore interface {
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

type DraftRepository interface {
	Create(ctx context.Context, input drafts.CreateInput, author string) (content.Draft, error)
	List(ctx context.Context, limit int) ([]store.DraftSummary, error)
	SetStatus(ctx context.Context, draftID string, status content.Status) error
	History(ctx context.Context, draftID string, limit int) ([]gitrepo.Revision, error)
	Revision(ctx context.Context, draftID, hash string) (gitrepo.DraftFile, error)
	Compare(ctx context.Context, draftID, hash string) (gitrepo.Change, error)
	Exports(ctx context.Context, draftID string) ([]store.ExportRecord, error)
}

// TokenRevoker remembers logged out tokens until they expire.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type DraftSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// ReadinessCheck is one dependency reported by /api/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Users       UserStore
	Drafts      DraftRepository
	Editor      *editor.Manager
	Revocations TokenRevoker
	Search      DraftSearcher
	Checks      []ReadinessCheck
}

type Service struct {
	cfg         config.Config
	users       UserStore
	drafts      DraftRepository
	editor      *editor.Manager
	revocations TokenRevoker
	search      DraftSearcher
	checks      []ReadinessCheck
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:         cfg,
		users:       deps.Users,
		drafts:      deps.Drafts,
		editor:      deps.Editor,
		revocations: deps.Revocations,
		search:      deps.Search,
		checks:      deps.Checks,
		now:         time.Now,
	}
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.users.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, s.cfg.AccessTTL, s.now())
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

// SessionFromToken verifies the token, checks it has not been revoked and
// reloads the user so role changes apply immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsTokenRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.revocations == nil || session.JTI == "" {
		return nil
	}
	return s.revocations.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ready runs every readiness check and returns the failures by name.
func (s *Service) Ready(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for _, c := range s.checks {
		results[c.Name] = c.Check(ctx)
	}
	return results
}

func (s *Service) Editor() *editor.Manager {
	return s.editor
}

func (s *Service) CreateDraft(ctx context.Context, input drafts.CreateInput, userName string) (content.Draft, error) {
	return s.drafts.Create(ctx, input, userName)
}

func (s *Service) ListDrafts(ctx context.Context, limit int) ([]map[string]any, error) {
	items, err := s.drafts.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	open := make(map[string]struct{})
	for _, id := range s.editor.DraftIDs() {
		open[id] = struct{}{}
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		_, isOpen := open[item.ID]
		out = append(out, map[string]any{
			"id":            item.ID,
			"title":         item.Title,
			"status":        item.Status,
			"wordCount":     item.WordCount,
			"citationCount": item.CitationCount,
			"updatedAt":     item.UpdatedAt,
			"open":          isOpen,
		})
	}
	return out, nil
}

// SetStatus changes the lifecycle status. An open session keeps editing the
// content; only the stored row and the index change.
func (s *Service) SetStatus(ctx context.Context, draftID string, status content.Status) error {
	return s.drafts.SetStatus(ctx, draftID, status)
}

func (s *Service) History(ctx context.Context, draftID string, limit int) ([]gitrepo.Revision, error) {
	return s.drafts.History(ctx, draftID, limit)
}

func (s *Service) Revision(ctx context.Context, draftID, hash string) (gitrepo.DraftFile, error) {
	return s.drafts.Revision(ctx, draftID, hash)
}

func (s *Service) CompareRevision(ctx context.Context, draftID, hash string) (gitrepo.Change, error) {
	return s.drafts.Compare(ctx, draftID, hash)
}

// ListExports returns past exports, newest first.
func (s *Service) ListExports(ctx context.Context, draftID string) ([]map[string]any, error) {
	items, err := s.drafts.Exports(ctx, draftID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":            item.ID,
			"format":        item.Format,
			"objectKey":     item.ObjectKey,
			"citationCount": item.CitationCount,
			"documentCount": item.DocumentCount,
			"createdBy":     item.CreatedBy,
			"createdAt":     item.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}
	}
	return s.search.Search(ctx, q)
}
