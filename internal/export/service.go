package export

import (
	"context"
	"fmt"
	"html/template"
	"slices"
	"strconv"
	"time"

	"scribe/api/internal/content"
	"scribe/api/internal/editor"
	"scribe/api/internal/logger"
	"scribe/api/internal/store"
	"scribe/api/internal/surface"
	"scribe/api/internal/util"
)

// Renderer converts the rendered document HTML into the target format.
type Renderer func(ctx context.Context, html string) ([]byte, error)

// RecordStore keeps an audit row per export.
type RecordStore interface {
	InsertExport(ctx context.Context, item store.ExportRecord) error
}

type Options struct {
	// Artifacts, when set, receives every export and the result carries a
	// download link.
	Artifacts ArtifactStore
	Records   RecordStore
	Logger    *logger.Logger
	Now       func() time.Time
	// Renderers overrides the built-in converters per format.
	Renderers map[Format]Renderer
}

// Service provides draft export functionality
type Service struct {
	renderers map[Format]Renderer
	artifacts ArtifactStore
	records   RecordStore
	log       *logger.Logger
	now       func() time.Time
}

func NewService(opts Options) *Service {
	renderers := map[Format]Renderer{
		FormatHTML: func(_ context.Context, html string) ([]byte, error) { return []byte(html), nil },
		FormatPDF:  renderPDF,
		FormatDOCX: renderDOCX,
	}
	for format, r := range opts.Renderers {
		renderers[format] = r
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		renderers: renderers,
		artifacts: opts.Artifacts,
		records:   opts.Records,
		log:       log.Component("export"),
		now:       now,
	}
}

var mimeTypes = map[Format]string{
	FormatHTML: "text/html; charset=utf-8",
	FormatPDF:  "application/pdf",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Export renders the draft and converts it. Upload and audit failures are
// logged; the caller still gets the bytes.
func (s *Service) Export(ctx context.Context, req editor.ExportRequest) (editor.ExportResult, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return editor.ExportResult{}, fmt.Errorf("%w: %q", err, req.Format)
	}
	now := s.now().UTC()
	html, err := RenderDocumentHTML(BuildTemplateData(req, now))
	if err != nil {
		return editor.ExportResult{}, fmt.Errorf("render template: %w", err)
	}
	data, err := s.renderers[format](ctx, html)
	if err != nil {
		return editor.ExportResult{}, err
	}

	result := editor.ExportResult{
		Filename:    sanitizeFilename(req.Title) + "." + string(format),
		ContentType: mimeTypes[format],
		Data:        data,
	}
	log := s.log.Draft(req.DraftID)

	var objectKey string
	if s.artifacts != nil {
		key := fmt.Sprintf("drafts/%s/%s-%s", req.DraftID, now.Format("20060102T150405Z"), result.Filename)
		link, err := s.artifacts.Upload(ctx, key, result.ContentType, result.Filename, data)
		if err != nil {
			log.Warn().Err(err).Str("format", string(format)).Msg("upload export failed")
		} else {
			objectKey = key
			result.URL = link
		}
	}
	if s.records != nil {
		err := s.records.InsertExport(ctx, store.ExportRecord{
			ID:            util.NewID("exp"),
			DraftID:       req.DraftID,
			Format:        string(format),
			ObjectKey:     objectKey,
			CitationCount: req.CitationCount,
			DocumentCount: req.DocumentCount,
		})
		if err != nil {
			log.Warn().Err(err).Msg("record export failed")
		}
	}
	log.Info().Str("format", string(format)).Int("bytes", len(data)).Bool("uploaded", result.URL != "").Msg("exported draft")
	return result, nil
}

// BuildTemplateData renders the draft body the same way the editor shows it
// and lists every citation record in number order. Records no marker points
// at are flagged unused.
func BuildTemplateData(req editor.ExportRequest, generatedAt time.Time) TemplateData {
	used := make(map[int]struct{})
	for _, n := range content.CitationsUsed(req.Content) {
		used[n] = struct{}{}
	}
	citations := content.CloneCitations(req.Citations)
	slices.SortStableFunc(citations, func(a, b content.Citation) int { return a.Number - b.Number })

	refs := make([]TemplateReference, 0, len(citations))
	for _, c := range citations {
		ref := TemplateReference{
			Number:       c.Number,
			DocumentName: c.DocumentName,
			Excerpt:      c.Excerpt,
		}
		if c.PageNumber != nil {
			ref.Page = strconv.Itoa(*c.PageNumber)
		}
		if c.SectionHeader != nil {
			ref.Section = *c.SectionHeader
		}
		_, ok := used[c.Number]
		ref.Unused = !ok
		refs = append(refs, ref)
	}

	body := surface.RenderHTML(surface.Render(req.Content, req.Citations))
	return TemplateData{
		Title:         req.Title,
		ContentHTML:   template.HTML(body),
		References:    refs,
		CitationCount: req.CitationCount,
		DocumentCount: req.DocumentCount,
		GeneratedAt:   generatedAt,
	}
}
