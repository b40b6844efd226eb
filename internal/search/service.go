package search

import (
	"context"

	"scribe/api/internal/logger"
)

// Backend is a searcher that can also be written to, such as Meilisearch.
type Backend interface {
	Searcher
	Indexer
}

// Service is the facade that tries the primary backend first and falls back
// to PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	log      *logger.Logger
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Backend, fallback Searcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{primary: primary, fallback: fallback, log: log.Component("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "pgfts"}
}

// IndexDraft pushes a draft to the primary backend without waiting.
func (s *Service) IndexDraft(rec DraftRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexDraft(rec); err != nil {
			s.log.Warn().Err(err).Str("draft_id", rec.ID).Msg("index draft failed")
		}
	}()
}

// DeleteDraft removes a draft from the primary backend without waiting.
func (s *Service) DeleteDraft(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteDraft(id); err != nil {
			s.log.Warn().Err(err).Str("draft_id", id).Msg("delete draft from index failed")
		}
	}()
}

// RecordLoader supplies every draft for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DraftRecord, error)
}

// ReindexAll copies every draft from source into the primary backend.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context, source RecordLoader) {
	if s.primary == nil || !s.primary.Healthy() || source == nil {
		return
	}
	records, err := source.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.primary.IndexDrafts(records); err != nil {
		s.log.Warn().Err(err).Msg("reindex drafts failed")
		return
	}
	s.log.Info().Int("drafts", len(records)).Msg("reindexed drafts")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
