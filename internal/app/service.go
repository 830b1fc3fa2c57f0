package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"teamboard/api/internal/attach"
	"teamboard/api/internal/auth"
	"teamboard/api/internal/config"
	"teamboard/api/internal/feed"
	"teamboard/api/internal/mention"
	"teamboard/api/internal/reaction"
	"teamboard/api/internal/realtime"
	"teamboard/api/internal/search"
	"teamboard/api/internal/store"
)

const sidebarLimit = 10

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type CreateThreadInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	TeamID  *int64 `json:"teamId"`
}

type ReplyInput struct {
	Content string `json:"content"`
}

type ReactInput struct {
	Emoji string `json:"emoji"`
}

type RenderInput struct {
	Content string `json:"content"`
}

// RenderedContent is a message body with mention spans marked up, plus
// whether it mentions the viewer.
type RenderedContent struct {
	HTML        string `json:"html"`
	MentionsYou bool   `json:"mentionsYou"`
}

// Sidebar carries the two right-hand feeds: recent pending threads and
// pending threads that mention the viewer.
type Sidebar struct {
	Pending     []store.Thread `json:"pending"`
	MentionsYou []store.Thread `json:"mentionsYou"`
}

type dataStore interface {
	ListProfiles(context.Context) ([]store.Profile, error)
	GetProfileByID(context.Context, string) (store.Profile, error)
	EnsureProfileByName(context.Context, string) (store.Profile, error)
	ListTeams(context.Context) ([]store.Team, error)
	ListTags(context.Context) ([]store.Tag, error)
	ListThreads(context.Context, *int64) ([]store.Thread, error)
	GetThread(context.Context, string) (store.Thread, error)
	InsertThread(context.Context, store.Thread) error
	DeleteThread(context.Context, string) error
	UpdateThreadStatus(ctx context.Context, id, status string, completedBy *string, completedAt *time.Time) error
	GetReply(context.Context, string) (store.Reply, error)
	InsertReply(context.Context, store.Reply) error
	DeleteReply(context.Context, string) error
	FindReaction(ctx context.Context, threadID, replyID *string, profileID, emoji string) (*store.Reaction, error)
	InsertReaction(context.Context, store.Reaction) error
	DeleteReaction(context.Context, string) error
	Ping(ctx context.Context) error
}

type attachmentStore interface {
	Upload(ctx context.Context, threadID, filename, contentType string, size int64, r io.Reader) (store.Attachment, error)
	PresignGet(ctx context.Context, key string) (string, error)
	RemoveThread(ctx context.Context, threadID string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier *realtime.Notifier
	feed     *feed.Store
	writer   *feed.Writer
	search   *search.Service
	attach   attachmentStore
}

// New wires the service around the shared all-teams feed store. search and
// attachments may be nil when not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, notifier *realtime.Notifier, searchSvc *search.Service, attachStore *attach.Store) *Service {
	shared := feed.NewStore(dataStore, notifier)
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		notifier: notifier,
		feed:     shared,
		writer:   feed.NewWriter(dataStore, notifier, shared),
		search:   searchSvc,
	}
	if attachStore != nil {
		s.attach = attachStore
	}
	return s
}

// Start attaches the shared feed store with the all-teams scope.
func (s *Service) Start(ctx context.Context) error {
	return s.feed.Attach(ctx, nil)
}

func (s *Service) Stop() {
	s.feed.Detach()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// NewFeedStore builds a per-connection feed store over the same source and
// change streams as the shared one. Used by the SSE endpoint.
func (s *Service) NewFeedStore() *feed.Store {
	return feed.NewStore(s.store, s.notifier)
}

// Login finds or creates a profile by display name and issues a signed
// access token.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	profile, err := s.store.EnsureProfileByName(ctx, name)
	if err != nil {
		return Session{}, fmt.Errorf("ensure profile: %w", err)
	}

	claims := auth.ClaimsFor(profile, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.DisplayName,
		Role:      profile.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// SessionFromToken verifies a bearer token and rebuilds the session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) profileFor(ctx context.Context, session Session) (store.Profile, error) {
	p, err := s.store.GetProfileByID(ctx, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Profile{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unknown profile", nil)
	}
	return p, err
}

func (s *Service) ListTeams(ctx context.Context) ([]store.Team, error) {
	return s.store.ListTeams(ctx)
}

func (s *Service) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	return s.store.ListProfiles(ctx)
}

func (s *Service) ListTags(ctx context.Context) ([]store.Tag, error) {
	return s.store.ListTags(ctx)
}

// ListThreads reads the authoritative thread list for a scope.
func (s *Service) ListThreads(ctx context.Context, teamID *int64) ([]store.Thread, error) {
	return s.store.ListThreads(ctx, teamID)
}

func (s *Service) CreateThread(ctx context.Context, session Session, input CreateThreadInput) (store.Thread, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Thread{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	author, err := s.profileFor(ctx, session)
	if err != nil {
		return store.Thread{}, err
	}

	thread, err := s.writer.CreateThread(ctx, author, input.Title, input.Content, input.TeamID)
	if err != nil {
		return store.Thread{}, err
	}
	if s.search != nil {
		s.search.IndexThread(search.ThreadRecord{
			ID:      thread.ID,
			Title:   thread.Title,
			Content: thread.Content,
			Author:  thread.Author,
			TeamID:  thread.TeamID,
			Status:  thread.Status,
		})
	}
	return thread, nil
}

// canDelete implements the dot-menu rule: authors manage their own posts,
// Admins and Managers manage everyone's.
func canDelete(session Session, authorID string) bool {
	if session.UserID == authorID {
		return true
	}
	return session.Role == store.RoleAdmin || session.Role == store.RoleManager
}

func (s *Service) DeleteThread(ctx context.Context, session Session, id string) error {
	thread, err := s.store.GetThread(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
	}
	if err != nil {
		return err
	}
	if !canDelete(session, thread.AuthorID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.writer.DeleteThread(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteThread(id)
	}
	if s.attach != nil {
		// Orphaned objects are invisible anyway; cleanup is best effort.
		if err := s.attach.RemoveThread(ctx, id); err != nil {
			log.Printf("attach: remove objects for thread %s: %v", id, err)
		}
	}
	return nil
}

// ToggleThreadStatus flips a thread between pending and completed.
func (s *Service) ToggleThreadStatus(ctx context.Context, session Session, id string) (store.Thread, error) {
	thread, err := s.store.GetThread(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Thread{}, domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
	}
	if err != nil {
		return store.Thread{}, err
	}
	actor, err := s.profileFor(ctx, session)
	if err != nil {
		return store.Thread{}, err
	}
	if err := s.writer.ToggleStatus(ctx, thread, actor); err != nil {
		return store.Thread{}, err
	}
	return s.store.GetThread(ctx, id)
}

func (s *Service) AddReply(ctx context.Context, session Session, threadID string, input ReplyInput) (store.Reply, error) {
	if strings.TrimSpace(input.Content) == "" {
		return store.Reply{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Reply{}, domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
	}
	if err != nil {
		return store.Reply{}, err
	}
	author, err := s.profileFor(ctx, session)
	if err != nil {
		return store.Reply{}, err
	}

	reply, err := s.writer.AddReply(ctx, author, thread.ID, input.Content)
	if err != nil {
		return store.Reply{}, err
	}
	if s.search != nil {
		s.search.IndexReply(search.ReplyRecord{
			ID:       reply.ID,
			ThreadID: reply.ThreadID,
			Content:  reply.Content,
			Author:   reply.Author,
			TeamID:   thread.TeamID,
		})
	}
	return reply, nil
}

func (s *Service) DeleteReply(ctx context.Context, session Session, id string) error {
	reply, err := s.store.GetReply(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Reply not found", nil)
	}
	if err != nil {
		return err
	}
	if !canDelete(session, reply.AuthorID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.writer.DeleteReply(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteReply(id)
	}
	return nil
}

// ToggleThreadReaction adds or removes the caller's reaction on a thread.
func (s *Service) ToggleThreadReaction(ctx context.Context, session Session, threadID, emoji string) error {
	if _, err := s.store.GetThread(ctx, threadID); errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
	} else if err != nil {
		return err
	}
	return s.toggleReaction(ctx, session, &threadID, nil, emoji)
}

// ToggleReplyReaction adds or removes the caller's reaction on a reply.
func (s *Service) ToggleReplyReaction(ctx context.Context, session Session, replyID, emoji string) error {
	if _, err := s.store.GetReply(ctx, replyID); errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Reply not found", nil)
	} else if err != nil {
		return err
	}
	return s.toggleReaction(ctx, session, nil, &replyID, emoji)
}

func (s *Service) toggleReaction(ctx context.Context, session Session, threadID, replyID *string, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is required", nil)
	}
	actor, err := s.profileFor(ctx, session)
	if err != nil {
		return err
	}

	existing, err := s.store.FindReaction(ctx, threadID, replyID, actor.ID, emoji)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("find reaction: %w", err)
	}
	var rows []store.Reaction
	if existing != nil {
		rows = []store.Reaction{*existing}
	}

	target := targetFor(threadID, replyID)
	return s.writer.ToggleReaction(ctx, rows, target, emoji, actor)
}

func targetFor(threadID, replyID *string) reaction.Target {
	if threadID != nil {
		return reaction.ThreadTarget(*threadID)
	}
	return reaction.ReplyTarget(*replyID)
}

// MentionCandidates resolves an in-progress "@query" against the roster.
func (s *Service) MentionCandidates(ctx context.Context, query string, teamID *int64) ([]mention.Candidate, error) {
	people, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return mention.Resolve(query, people, tags, teamID), nil
}

// RenderContent marks up mentions in a message body for the viewer.
func (s *Service) RenderContent(ctx context.Context, session Session, content string) (RenderedContent, error) {
	people, err := s.store.ListProfiles(ctx)
	if err != nil {
		return RenderedContent{}, err
	}
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return RenderedContent{}, err
	}
	viewer, err := s.profileFor(ctx, session)
	if err != nil {
		return RenderedContent{}, err
	}

	opts := mention.RenderOptions{
		Profiles:    people,
		Tags:        tags,
		Viewer:      &viewer,
		ViewerEmail: viewer.Email,
	}
	return RenderedContent{
		HTML:        mention.Render(content, opts),
		MentionsYou: mention.HasMention(content, opts),
	}, nil
}

// SidebarFeeds builds the right-hand feeds from the shared read model:
// the most recent pending threads, and pending threads whose body or any
// reply mentions the viewer. Both are capped at ten.
func (s *Service) SidebarFeeds(ctx context.Context, session Session, teamID *int64) (Sidebar, error) {
	viewer, err := s.profileFor(ctx, session)
	if err != nil {
		return Sidebar{}, err
	}
	people, err := s.store.ListProfiles(ctx)
	if err != nil {
		return Sidebar{}, err
	}
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return Sidebar{}, err
	}
	opts := mention.RenderOptions{
		Profiles:    people,
		Tags:        tags,
		Viewer:      &viewer,
		ViewerEmail: viewer.Email,
	}

	snap := s.feed.Snapshot()
	pending := make([]store.Thread, 0)
	for _, t := range snap.Threads {
		if t.Status != store.StatusPending {
			continue
		}
		if teamID != nil && (t.TeamID == nil || *t.TeamID != *teamID) {
			continue
		}
		pending = append(pending, t)
	}
	// Newest first for display.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})

	mentions := make([]store.Thread, 0)
	for _, t := range pending {
		if threadMentions(t, opts) {
			mentions = append(mentions, t)
		}
	}

	return Sidebar{
		Pending:     capThreads(pending, sidebarLimit),
		MentionsYou: capThreads(mentions, sidebarLimit),
	}, nil
}

func threadMentions(t store.Thread, opts mention.RenderOptions) bool {
	if mention.HasMention(t.Content, opts) {
		return true
	}
	for _, r := range t.Replies {
		if mention.HasMention(r.Content, opts) {
			return true
		}
	}
	return false
}

func capThreads(threads []store.Thread, limit int) []store.Thread {
	if len(threads) > limit {
		return threads[:limit]
	}
	return threads
}

// Search runs full-text search over threads and replies.
func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search is not configured", nil)
	}
	return s.search.Search(q), nil
}

// UploadAttachment stores an uploaded object and returns its metadata with a
// presigned download URL.
func (s *Service) UploadAttachment(ctx context.Context, threadID, filename, contentType string, size int64, body io.Reader) (store.Attachment, error) {
	if s.attach == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachments are not configured", nil)
	}
	att, err := s.attach.Upload(ctx, threadID, filename, contentType, size, body)
	if err != nil {
		return store.Attachment{}, err
	}
	url, err := s.attach.PresignGet(ctx, att.URL)
	if err != nil {
		return store.Attachment{}, err
	}
	att.URL = url
	return att, nil
}
