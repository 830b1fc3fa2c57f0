package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamboard/api/internal/auth"
	"teamboard/api/internal/metrics"
	"teamboard/api/internal/search"
	"teamboard/api/internal/store"
	"teamboard/api/internal/util"
)

const (
	streamHeartbeat = 25 * time.Second
	maxUploadBytes  = 32 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"redis":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.notifier.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
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
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userId":    session.UserID,
			"userName":  session.UserName,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/teams" {
		teams, err := s.service.ListTeams(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(teams))
		for _, t := range teams {
			payload = append(payload, teamPayload(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"teams": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/profiles" {
		profiles, err := s.service.ListProfiles(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(profiles))
		for _, p := range profiles {
			payload = append(payload, profilePayload(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
		tags, err := s.service.ListTags(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(tags))
		for _, t := range tags {
			payload = append(payload, tagPayload(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/threads" {
		teamID, err := parseTeamParam(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		threads, err := s.service.ListThreads(r.Context(), teamID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threadPayloads(threads)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/threads" {
		var input CreateThreadInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		thread, err := s.service.CreateThread(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"thread": threadPayload(thread)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/mentions/candidates" {
		teamID, err := parseTeamParam(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		query := r.URL.Query().Get("q")
		candidates, err := s.service.MentionCandidates(r.Context(), query, teamID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/mentions/render" {
		var input RenderInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rendered, err := s.service.RenderContent(r.Context(), session, input.Content)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, rendered)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sidebar" {
		teamID, err := parseTeamParam(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		sidebar, err := s.service.SidebarFeeds(r.Context(), session, teamID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":     threadPayloads(sidebar.Pending),
			"mentionsYou": threadPayloads(sidebar.MentionsYou),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		teamID, err := parseTeamParam(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		q := search.Query{
			Text:         strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:   search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterTeamID: teamID,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			q.Limit = parsed
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			q.Offset = parsed
		}
		response, err := s.service.Search(q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/attachments" {
		s.handleAttachmentUpload(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feed/stream" {
		s.handleFeedStream(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "threads" {
		s.handleThreadRoutes(w, r, session, parts[2], parts[3:])
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "replies" {
		s.handleReplyRoutes(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleThreadRoutes(w http.ResponseWriter, r *http.Request, session Session, threadID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodDelete:
		if err := s.service.DeleteThread(r.Context(), session, threadID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "status" && r.Method == http.MethodPost:
		thread, err := s.service.ToggleThreadStatus(r.Context(), session, threadID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": threadPayload(thread)})

	case len(rest) == 1 && rest[0] == "replies" && r.Method == http.MethodPost:
		var input ReplyInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.service.AddReply(r.Context(), session, threadID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"reply": replyPayload(reply)})

	case len(rest) == 1 && rest[0] == "reactions" && r.Method == http.MethodPost:
		var input ReactInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ToggleThreadReaction(r.Context(), session, threadID, input.Emoji); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReplyRoutes(w http.ResponseWriter, r *http.Request, session Session, replyID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodDelete:
		if err := s.service.DeleteReply(r.Context(), session, replyID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "reactions" && r.Method == http.MethodPost:
		var input ReactInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ToggleReplyReaction(r.Context(), session, replyID, input.Emoji); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	threadID := strings.TrimSpace(r.FormValue("threadId"))
	if threadID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "threadId is required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	att, err := s.service.UploadAttachment(r.Context(), threadID, header.Filename, contentType, header.Size, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"attachment": map[string]any{
			"name": att.Name,
			"url":  att.URL,
			"type": att.Type,
			"size": att.Size,
		},
	})
}

// handleFeedStream serves the live feed over SSE. Each connection gets its
// own feed store attached to the change streams; the snapshot is pushed on
// every refetch and the store is detached when the client goes away.
func (s *HTTPServer) handleFeedStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}
	teamID, err := parseTeamParam(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	fs := s.service.NewFeedStore()
	updates := make(chan struct{}, 1)
	fs.OnUpdate(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	if err := fs.Attach(r.Context(), teamID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	defer fs.Detach()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSnapshot := func() {
		snap := fs.Snapshot()
		payload := map[string]any{
			"threads": threadPayloads(snap.Threads),
			"loading": snap.Loading,
		}
		if snap.Err != nil {
			payload["error"] = snap.Err.Error()
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: feed\ndata: %s\n\n", data)
		flusher.Flush()
	}
	writeSnapshot()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-updates:
			writeSnapshot()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		// EventSource cannot set headers, so the stream endpoint accepts the
		// token as a query parameter.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseTeamParam(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("team"))
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("team must be an integer or \"all\"")
	}
	return &id, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func teamPayload(t store.Team) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"icon":        t.Icon,
		"iconColor":   t.IconColor,
		"orderIndex":  t.OrderIndex,
	}
}

func profilePayload(p store.Profile) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"email":       p.Email,
		"displayName": p.DisplayName,
		"avatarUrl":   p.AvatarURL,
		"role":        p.Role,
	}
}

func tagPayload(t store.Tag) map[string]any {
	return map[string]any{
		"id":     t.ID,
		"name":   t.Name,
		"color":  t.Color,
		"teamId": t.TeamID,
	}
}

func threadPayloads(threads []store.Thread) []map[string]any {
	payload := make([]map[string]any, 0, len(threads))
	for _, t := range threads {
		payload = append(payload, threadPayload(t))
	}
	return payload
}

func threadPayload(t store.Thread) map[string]any {
	replies := make([]map[string]any, 0, len(t.Replies))
	for _, r := range t.Replies {
		replies = append(replies, replyPayload(r))
	}
	reactions := make([]map[string]any, 0, len(t.Reactions))
	for _, r := range t.Reactions {
		reactions = append(reactions, reactionPayload(r))
	}
	payload := map[string]any{
		"id":        t.ID,
		"title":     t.Title,
		"content":   t.Content,
		"author":    t.Author,
		"authorId":  t.AuthorID,
		"teamId":    t.TeamID,
		"status":    t.Status,
		"isPinned":  t.IsPinned,
		"createdAt": t.CreatedAt.Format(time.RFC3339),
		"replies":   replies,
		"reactions": reactions,
	}
	if t.CompletedBy != nil {
		payload["completedBy"] = *t.CompletedBy
	}
	if t.CompletedAt != nil {
		payload["completedAt"] = t.CompletedAt.Format(time.RFC3339)
	}
	return payload
}

func replyPayload(r store.Reply) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"threadId":  r.ThreadID,
		"content":   r.Content,
		"author":    r.Author,
		"authorId":  r.AuthorID,
		"createdAt": r.CreatedAt.Format(time.RFC3339),
	}
}

func reactionPayload(r store.Reaction) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"emoji":     r.Emoji,
		"threadId":  r.ThreadID,
		"replyId":   r.ReplyID,
		"profileId": r.ProfileID,
	}
}
