package app

import (
	"errors"
	"fmt"
	"net/http"

	"scribe/api/internal/auth"
	"scribe/api/internal/autosave"
	"scribe/api/internal/drafts"
	"scribe/api/internal/editor"
	"scribe/api/internal/export"
	"scribe/api/internal/gitrepo"
	"scribe/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrDraftNotFound), errors.Is(err, store.ErrUserNotFound), errors.Is(err, gitrepo.ErrRepoNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, editor.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_OPEN", "Draft is not open for editing", nil
	case errors.Is(err, editor.ErrSessionClosed), errors.Is(err, autosave.ErrClosed):
		return http.StatusConflict, "SESSION_CLOSED", "Editing session is closed", nil
	case errors.Is(err, editor.ErrMarkerNotFound):
		return http.StatusNotFound, "MARKER_NOT_FOUND", "Citation marker not found", nil
	case errors.Is(err, editor.ErrAlternativeNotFound):
		return http.StatusNotFound, "ALTERNATIVE_NOT_FOUND", "Alternative not found", nil
	case errors.Is(err, editor.ErrWarningNotActive):
		return http.StatusConflict, "WARNING_NOT_ACTIVE", "No active warning of that type", nil
	case errors.Is(err, editor.ErrExportInProgress):
		return http.StatusConflict, "EXPORT_IN_PROGRESS", "An export is already running for this draft", nil
	case errors.Is(err, editor.ErrExportUnavailable), errors.Is(err, editor.ErrFeedbackUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_DEPENDENCY_MISSING", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat), errors.Is(err, drafts.ErrInvalidDraft):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
