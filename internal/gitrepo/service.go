// Package gitrepo keeps one git repository per draft. Every successful save
// that changes the draft becomes a commit of draft.json on main.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scribe/api/internal/content"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	draftFile  = "draft.json"
	mainBranch = "main"
)

var ErrRepoNotFound = errors.New("draft repository not found")

// DraftFile is the committed shape of a draft.
type DraftFile struct {
	Title     string             `json:"title"`
	Content   string             `json:"content"`
	Citations []content.Citation `json:"citations"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDraftRepo creates the repository with a baseline commit. It is a
// no-op when the repository already exists.
func (s *Service) EnsureDraftRepo(draftID string, initial DraftFile, author string) error {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(draftID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	if _, err := s.commit(repo, initial, author, "Import draft baseline"); err != nil {
		return err
	}
	return nil
}

// CommitDraft records a revision. When the file is identical to HEAD nothing
// is written and committed is false, so retried saves do not add commits.
func (s *Service) CommitDraft(draftID string, file DraftFile, author, message string) (Revision, bool, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return Revision{}, false, err
	}

	head, headCommit, err := readHead(repo)
	if err != nil {
		return Revision{}, false, err
	}
	if !HasChanges(head, file) {
		return toRevision(headCommit), false, nil
	}

	hash, err := s.commit(repo, file, author, message)
	if err != nil {
		return Revision{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

func (s *Service) Head(draftID string) (DraftFile, Revision, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return DraftFile{}, Revision{}, err
	}
	file, commitObj, err := readHead(repo)
	if err != nil {
		return DraftFile{}, Revision{}, err
	}
	return file, toRevision(commitObj), nil
}

func (s *Service) GetDraftByHash(draftID, hash string) (DraftFile, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return DraftFile{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return DraftFile{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return DraftFile{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readDraftFromCommit(commitObj)
}

// History lists revisions newest first. limit <= 0 means all.
func (s *Service) History(draftID string, limit int) ([]Revision, error) {
	lock := s.draftLock(draftID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(draftID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(draftID string) string {
	return filepath.Join(s.baseDir, draftID)
}

func (s *Service) open(draftID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(draftID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) draftLock(draftID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[draftID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[draftID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, file DraftFile, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if file.Citations == nil {
		file.Citations = []content.Citation{}
	}
	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal draft: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, draftFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", draftFile, err)
	}
	if _, err := worktree.Add(draftFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add draft: %w", err)
	}
	if author == "" {
		author = "Scribe"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.scribe.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit draft: %w", err)
	}
	return hash, nil
}

func readHead(repo *git.Repository) (DraftFile, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return DraftFile{}, nil, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return DraftFile{}, nil, fmt.Errorf("load commit object: %w", err)
	}
	file, err := readDraftFromCommit(commitObj)
	if err != nil {
		return DraftFile{}, nil, err
	}
	return file, commitObj, nil
}

func readDraftFromCommit(commitObj *object.Commit) (DraftFile, error) {
	f, err := commitObj.File(draftFile)
	if err != nil {
		return DraftFile{}, fmt.Errorf("load %s from commit: %w", draftFile, err)
	}
	reader, err := f.Reader()
	if err != nil {
		return DraftFile{}, fmt.Errorf("open draft reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return DraftFile{}, fmt.Errorf("read draft bytes: %w", err)
	}
	var file DraftFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return DraftFile{}, fmt.Errorf("decode commit draft: %w", err)
	}
	return file, nil
}

func HasChanges(from, to DraftFile) bool {
	return from.Title != to.Title ||
		from.Content != to.Content ||
		!content.CitationsEqual(from.Citations, to.Citations)
}

// Change summarizes what differs between two revisions.
type Change struct {
	ContentChanged   bool  `json:"contentChanged"`
	WordsBefore      int   `json:"wordsBefore"`
	WordsAfter       int   `json:"wordsAfter"`
	CitationsAdded   []int `json:"citationsAdded"`
	CitationsRemoved []int `json:"citationsRemoved"`
}

func Diff(from, to DraftFile) Change {
	change := Change{
		ContentChanged:   from.Content != to.Content,
		WordsBefore:      content.WordCount(from.Content),
		WordsAfter:       content.WordCount(to.Content),
		CitationsAdded:   make([]int, 0),
		CitationsRemoved: make([]int, 0),
	}
	before := content.Numbers(from.Citations)
	after := content.Numbers(to.Citations)
	for _, c := range to.Citations {
		if _, ok := before[c.Number]; !ok {
			change.CitationsAdded = append(change.CitationsAdded, c.Number)
		}
	}
	for _, c := range from.Citations {
		if _, ok := after[c.Number]; !ok {
			change.CitationsRemoved = append(change.CitationsRemoved, c.Number)
		}
	}
	return change
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
