package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/api/internal/content"
	"scribe/api/internal/drafts"
	"scribe/api/internal/editor"
	"scribe/api/internal/logger"
	"scribe/api/internal/metrics"
	"scribe/api/internal/rbac"
	"scribe/api/internal/search"
	"scribe/api/internal/surface"
	"scribe/api/internal/validate"

	"github.com/google/uuid"
)

const (
	defaultListLimit    = 50
	defaultHistoryLimit = 20
	maxBodyBytes        = 4 << 20
)

type HTTPServer struct {
	service    *Service
	hub        *Hub
	metrics    *metrics.Metrics
	log        *logger.Logger
	corsOrigin string
}

// NewHTTPServer builds the API. hub, m and log may be nil.
func NewHTTPServer(service *Service, hub *Hub, m *metrics.Metrics, log *logger.Logger, corsOrigin string) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, hub: hub, metrics: m, log: log.Component("http"), corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.log.Warn().
		Str("user_id", session.UserID).
		Str("role", session.Role).
		Str("action", string(action)).
		Str("path", r.URL.Path).
		Msg("permission denied")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	s.forbid(w, r, session, action)
	return false
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := requestToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			s.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.Unix(),
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		s.handleSearch(w, r)
		return
	case parts[1] == "drafts" && len(parts) == 2:
		s.handleDrafts(w, r, session)
		return
	case parts[1] == "drafts" && len(parts) >= 3:
		s.handleDraft(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Status: strings.TrimSpace(query.Get("status")),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	if q.Text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) handleDrafts(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListDrafts(r.Context(), queryInt(r, "limit", defaultListLimit))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionEdit) {
			return
		}
		var body drafts.CreateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		draft, err := s.service.CreateDraft(r.Context(), body, session.UserName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, draft)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleDraft(w http.ResponseWriter, r *http.Request, session Session, draftID string, rest []string) {
	manager := s.service.Editor()
	route := r.Method + " " + strings.Join(rest, "/")

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		sess, ok := s.openSession(w, r, draftID)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sess.State())
		return
	}

	switch route {
	case "POST open":
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		sess, err := manager.Open(r.Context(), draftID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.State())
		return

	case "POST close":
		if !s.allow(w, r, session, rbac.ActionEdit) {
			return
		}
		if err := manager.Close(draftID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"closed": true})
		return

	case "GET events":
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		if s.hub == nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Event stream not configured", nil)
			return
		}
		sess, ok := s.openSession(w, r, draftID)
		if !ok {
			return
		}
		if err := s.hub.ServeWS(w, r, draftID, sess.State()); err != nil {
			// The upgrader has already written the handshake error.
			s.log.Debug().Err(err).Str("draft_id", draftID).Msg("websocket upgrade failed")
		}
		return

	case "GET history":
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		revisions, err := s.service.History(r.Context(), draftID, queryInt(r, "limit", defaultHistoryLimit))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": revisions})
		return

	case "PUT status":
		if !s.allow(w, r, session, rbac.ActionEdit) {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetStatus(r.Context(), draftID, content.Status(strings.TrimSpace(body.Status))); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": body.Status})
		return

	case "GET exports":
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListExports(r.Context(), draftID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return

	case "GET alternatives":
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		sess, ok := s.openSession(w, r, draftID)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"alternatives": sess.Alternatives()})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "revisions" {
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		file, err := s.service.Revision(r.Context(), draftID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
		return
	}

	if r.Method == http.MethodGet && len(rest) == 3 && rest[0] == "revisions" && rest[2] == "diff" {
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		change, err := s.service.CompareRevision(r.Context(), draftID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, change)
		return
	}

	s.handleSessionAction(w, r, session, draftID, rest)
}

// handleSessionAction covers every route that needs the draft open.
func (s *HTTPServer) handleSessionAction(w http.ResponseWriter, r *http.Request, session Session, draftID string, rest []string) {
	route := sessionRouteKey(r.Method, rest)
	action, ok := sessionActions[route]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.allow(w, r, session, action) {
		return
	}
	sess, ok := s.openSession(w, r, draftID)
	if !ok {
		return
	}

	switch route {
	case "PUT surface":
		var root surface.Node
		if err := decodeBody(r, &root); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeState(w, r)(sess.ApplySurface(&root))

	case "PUT html":
		var body struct {
			HTML string `json:"html"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeState(w, r)(sess.ApplyHTML(body.HTML))

	case "PUT content":
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeState(w, r)(sess.SetContent(body.Content))

	case "DELETE markers/*":
		number, err := strconv.Atoi(rest[1])
		if err != nil || number < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "marker number must be a positive integer", nil)
			return
		}
		s.writeState(w, r)(sess.DeleteMarker(number, queryInt(r, "occurrence", 0)))

	case "POST undo":
		s.writeState(w, r)(sess.Undo())

	case "POST redo":
		s.writeState(w, r)(sess.Redo())

	case "POST save":
		started, err := sess.Save(r.Context())
		if err != nil {
			status, code, message, _ := mapError(err)
			if status == http.StatusInternalServerError {
				status, code, message = http.StatusServiceUnavailable, "SAVE_FAILED", "Save failed; changes are kept and will be retried"
			}
			writeError(w, status, code, message, map[string]any{"save": sess.SaveStatus()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"started": started, "save": sess.SaveStatus()})

	case "POST validate":
		warnings, err := sess.ValidateNow()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})

	case "POST citations/remove":
		var body struct {
			Numbers []int `json:"numbers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if len(body.Numbers) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "numbers is required", nil)
			return
		}
		s.writeState(w, r)(sess.RemoveCitations(body.Numbers))

	case "POST citations/fix-unused":
		s.writeState(w, r)(sess.FixUnused())

	case "DELETE citations/*":
		number, err := strconv.Atoi(rest[1])
		if err != nil || number < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "citation number must be a positive integer", nil)
			return
		}
		s.writeState(w, r)(sess.DeleteCitation(number))

	case "POST warnings/*/dismiss":
		s.writeState(w, r)(sess.DismissWarning(validate.WarningType(rest[1])))

	case "POST feedback":
		var body editor.Feedback
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		alternatives, err := sess.RequestAlternatives(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"alternatives": alternatives})

	case "POST alternatives/*/select":
		index, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "alternative index must be an integer", nil)
			return
		}
		chosen, err := sess.SelectAlternative(index)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": chosen})

	case "POST export":
		s.handleExport(w, r, sess)
	}
}

var sessionActions = map[string]rbac.Action{
	"PUT surface":                rbac.ActionEdit,
	"PUT html":                   rbac.ActionEdit,
	"PUT content":                rbac.ActionEdit,
	"DELETE markers/*":           rbac.ActionEdit,
	"POST undo":                  rbac.ActionEdit,
	"POST redo":                  rbac.ActionEdit,
	"POST save":                  rbac.ActionEdit,
	"POST validate":              rbac.ActionRead,
	"POST citations/remove":      rbac.ActionEdit,
	"POST citations/fix-unused":  rbac.ActionEdit,
	"DELETE citations/*":         rbac.ActionEdit,
	"POST warnings/*/dismiss":    rbac.ActionRead,
	"POST feedback":              rbac.ActionFeedback,
	"POST alternatives/*/select": rbac.ActionFeedback,
	"POST export":                rbac.ActionExport,
}

// sessionRouteKey turns "DELETE", ["citations", "3"] into "DELETE citations/*"
// unless the literal path is a route of its own.
func sessionRouteKey(method string, rest []string) string {
	key := method + " " + strings.Join(rest, "/")
	if _, ok := sessionActions[key]; ok || len(rest) < 2 {
		return key
	}
	masked := append([]string{rest[0], "*"}, rest[2:]...)
	return method + " " + strings.Join(masked, "/")
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format = body.Format
	}
	if format == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format is required", nil)
		return
	}

	result, err := sess.Export(r.Context(), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if result.URL != "" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) openSession(w http.ResponseWriter, r *http.Request, draftID string) (*editor.Session, bool) {
	sess, err := s.service.Editor().Get(draftID)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *HTTPServer) writeState(w http.ResponseWriter, r *http.Request) func(editor.State, error) {
	return func(state editor.State, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFrom(r.Context())).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, _, _ := mapError(err)
		if status == http.StatusNotFound || status == http.StatusUnauthorized {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error().Err(err).Msg("session lookup failed")
		writeError(w, status, code, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(writer, r.Body, maxBodyBytes)
		}

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		s.log.LogRequest(requestID, r.Method, r.URL.Path, writer.status, duration)
		s.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(writer.status), duration)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade on /events.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// requestToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so upgrade requests may pass it as access_token.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
