package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dochub/api/internal/auth"
	"dochub/api/internal/config"
	"dochub/api/internal/events"
	"dochub/api/internal/lock"
	"dochub/api/internal/presence"
	"dochub/api/internal/ratelimit"
	"dochub/api/internal/render"
	"dochub/api/internal/store"
	"dochub/api/internal/textdiff"
	"dochub/api/internal/util"
)

const (
	maxVersionPageSize   = 100
	defaultVersionPage   = 20
	maxSearchPageSize    = 100
	defaultSearchPage    = 20
	minLockTTL           = 5 * time.Second
	maxLockTTL           = time.Hour
	initialVersionNote   = "Initial version"
	anonymousEditor      = "anonymous"
	statusDraft          = "draft"
	statusPublished      = "published"
)

var allowedDocumentStatuses = map[string]struct{}{
	statusDraft:     {},
	statusPublished: {},
}

// dataStore is the persistence boundary the service depends on. The embedded
// lock.Store carries the advisory-lock fields living on the document row.
type dataStore interface {
	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListPublicWorkspaces(context.Context) ([]store.Workspace, error)
	UpdateWorkspace(context.Context, string, *string, *string, *bool) (bool, error)
	CreateDocument(context.Context, store.Document, store.Version) error
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentBySlug(context.Context, string, string) (store.Document, error)
	ListDocuments(context.Context, string, bool) ([]store.DocumentSummary, error)
	UpdateDocument(context.Context, string, store.DocumentPatch) (int, bool, error)
	DeleteDocument(context.Context, string) (bool, error)
	ListVersions(context.Context, string, int, int) ([]store.VersionSummary, error)
	GetVersion(context.Context, string, int) (store.Version, error)
	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)
	UpdateComment(context.Context, string, *string, *bool) (bool, error)
	DeleteComment(context.Context, string) (bool, error)
	SearchDocuments(context.Context, string, string, int, int) ([]store.SearchHit, error)
	Ping(ctx context.Context) error

	lock.Store
}

// presenceCache is the optional Redis-backed viewer presence boundary.
type presenceCache interface {
	Heartbeat(ctx context.Context, documentID, viewer string) error
	Viewers(ctx context.Context, documentID string) ([]presence.Viewer, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	bus      *events.Bus
	locks    *lock.Manager
	limiter  *ratelimit.Limiter
	presence presenceCache
	logger   zerolog.Logger
	now      func() time.Time

	// commitMu serializes content commits so the version insert and the
	// document-row update land as one step for concurrent editors.
	commitMu sync.Mutex
}

func New(cfg config.Config, dataStore dataStore, bus *events.Bus, presence presenceCache, logger zerolog.Logger) *Service {
	return NewWithClock(cfg, dataStore, bus, presence, logger, time.Now)
}

// NewWithClock injects the time source driving lock expiry and rate-limit
// window arithmetic.
func NewWithClock(cfg config.Config, dataStore dataStore, bus *events.Bus, presence presenceCache, logger zerolog.Logger, now func() time.Time) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		bus:      bus,
		locks:    lock.NewWithClock(dataStore, now),
		limiter:  ratelimit.NewWithClock(cfg.RateWindow, cfg.RateLimit, now),
		presence: presence,
		logger:   logger,
		now:      now,
	}
}

// Bus exposes the event bus for SSE sessions.
func (s *Service) Bus() *events.Bus { return s.bus }

// HeartbeatInterval is the SSE keepalive cadence.
func (s *Service) HeartbeatInterval() time.Duration { return s.cfg.HeartbeatInterval }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// publish is fire-and-forget: notification never fails the mutation that
// triggered it.
func (s *Service) publish(workspaceID, eventType string, payload map[string]any) {
	s.bus.Publish(workspaceID, eventType, payload)
}

// --- Workspaces ---

func (s *Service) CreateWorkspace(ctx context.Context, name, description string, isPublic bool, clientIP string) (map[string]any, error) {
	if rl := s.limiter.Check(clientIP); !rl.Allowed {
		return nil, rateLimited(rl.ResetIn)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}

	manageKey := auth.GenerateKey()
	keyHash, err := auth.HashKey(manageKey)
	if err != nil {
		return nil, fmt.Errorf("hash manage key: %w", err)
	}

	ws := store.Workspace{
		ID:            util.NewID("ws"),
		Name:          name,
		Description:   strings.TrimSpace(description),
		ManageKeyHash: keyHash,
		IsPublic:      isPublic,
	}
	if err := s.store.InsertWorkspace(ctx, ws); err != nil {
		return nil, err
	}

	s.publish(ws.ID, "workspace.created", map[string]any{
		"id": ws.ID, "name": ws.Name, "is_public": ws.IsPublic,
	})

	return map[string]any{
		"id":          ws.ID,
		"name":        ws.Name,
		"description": ws.Description,
		"is_public":   ws.IsPublic,
		"manage_key":  manageKey,
		"api_base":    "/api/v1/workspaces/" + ws.ID,
	}, nil
}

func (s *Service) ListWorkspaces(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.ListPublicWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, ws := range items {
		payload = append(payload, workspacePayload(ws))
	}
	return payload, nil
}

func (s *Service) GetWorkspace(ctx context.Context, workspaceID string) (map[string]any, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Workspace not found")
		}
		return nil, err
	}
	return workspacePayload(ws), nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, workspaceID, manageKey string, name, description *string, isPublic *bool) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return nil, validationError("name must not be blank")
	}

	updated, err := s.store.UpdateWorkspace(ctx, workspaceID, name, description, isPublic)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, validationError("No fields to update")
	}

	s.publish(workspaceID, "workspace.updated", map[string]any{"id": workspaceID})
	return map[string]any{"status": "updated"}, nil
}

// authorize loads the workspace and verifies the manage key against the
// stored hash. The verify step is the only credential check in the system.
func (s *Service) authorize(ctx context.Context, workspaceID, manageKey string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Workspace{}, notFound("Workspace not found")
		}
		return store.Workspace{}, err
	}
	if manageKey == "" {
		return store.Workspace{}, unauthorized()
	}
	if !auth.VerifyKey(manageKey, ws.ManageKeyHash) {
		return store.Workspace{}, forbidden("Invalid manage key")
	}
	return ws, nil
}

// --- Documents ---

type CreateDocumentInput struct {
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	Status     string   `json:"status"`
	AuthorName string   `json:"author_name"`
}

func (s *Service) CreateDocument(ctx context.Context, workspaceID, manageKey string, input CreateDocumentInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	status := input.Status
	if status == "" {
		status = statusDraft
	}
	if _, ok := allowedDocumentStatuses[status]; !ok {
		return nil, validationError("status must be draft or published")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = util.Slugify(title)
	}
	if slug == "" {
		return nil, validationError("slug could not be derived from title")
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		WorkspaceID: workspaceID,
		Title:       title,
		Slug:        slug,
		Content:     input.Content,
		ContentHTML: render.Markdown(input.Content),
		Summary:     input.Summary,
		Tags:        tags,
		Status:      status,
		AuthorName:  input.AuthorName,
		WordCount:   util.WordCount(input.Content),
	}
	initial := store.Version{
		ID:          util.NewID("ver"),
		DocumentID:  doc.ID,
		Content:     doc.Content,
		ContentHTML: doc.ContentHTML,
		Summary:     doc.Summary,
		AuthorName:  doc.AuthorName,
		ChangeNote:  initialVersionNote,
		WordCount:   doc.WordCount,
	}

	s.commitMu.Lock()
	err := s.store.CreateDocument(ctx, doc, initial)
	s.commitMu.Unlock()
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) {
			return nil, domainError(409, "DUPLICATE_SLUG", "A document with this slug already exists", nil)
		}
		return nil, err
	}

	s.publish(workspaceID, "document.created", map[string]any{
		"id": doc.ID, "title": doc.Title, "slug": doc.Slug, "author_name": doc.AuthorName,
	})

	return map[string]any{
		"id":           doc.ID,
		"workspace_id": workspaceID,
		"title":        doc.Title,
		"slug":         doc.Slug,
		"status":       doc.Status,
		"word_count":   doc.WordCount,
		"author_name":  doc.AuthorName,
		"version":      1,
	}, nil
}

func (s *Service) ListDocuments(ctx context.Context, workspaceID, manageKey string) ([]map[string]any, error) {
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Workspace not found")
		}
		return nil, err
	}

	// Drafts are listed only when a valid manage key accompanies the request.
	includeDrafts := false
	if manageKey != "" {
		if _, err := s.authorize(ctx, workspaceID, manageKey); err == nil {
			includeDrafts = true
		}
	}

	items, err := s.store.ListDocuments(ctx, workspaceID, includeDrafts)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, documentSummaryPayload(item))
	}
	return payload, nil
}

func (s *Service) GetDocumentBySlug(ctx context.Context, workspaceID, slug string) (map[string]any, error) {
	doc, err := s.store.GetDocumentBySlug(ctx, workspaceID, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Document not found")
		}
		return nil, err
	}
	return s.documentPayload(doc), nil
}

type UpdateDocumentInput struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Summary    *string   `json:"summary"`
	Tags       *[]string `json:"tags"`
	Status     *string   `json:"status"`
	AuthorName *string   `json:"author_name"`
	ChangeNote *string   `json:"change_note"`
}

func (s *Service) UpdateDocument(ctx context.Context, workspaceID, documentID, manageKey string, input UpdateDocumentInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	if input.Status != nil {
		if _, ok := allowedDocumentStatuses[*input.Status]; !ok {
			return nil, validationError("status must be draft or published")
		}
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return nil, validationError("title must not be blank")
	}

	patch := store.DocumentPatch{
		Title:      input.Title,
		Content:    input.Content,
		Summary:    input.Summary,
		Tags:       input.Tags,
		Status:     input.Status,
		AuthorName: input.AuthorName,
		ChangeNote: input.ChangeNote,
	}
	if input.Content != nil {
		html := render.Markdown(*input.Content)
		wc := util.WordCount(*input.Content)
		patch.ContentHTML = &html
		patch.WordCount = &wc
	}

	s.commitMu.Lock()
	sequence, updated, err := s.store.UpdateDocument(ctx, documentID, patch)
	s.commitMu.Unlock()
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, validationError("No fields to update")
	}

	payload := map[string]any{"status": "updated"}
	eventPayload := map[string]any{"id": documentID}
	if input.Title != nil {
		eventPayload["title"] = *input.Title
	}
	if sequence > 0 {
		payload["version"] = sequence
		eventPayload["version"] = sequence
	}
	s.publish(workspaceID, "document.updated", eventPayload)
	return payload, nil
}

func (s *Service) DeleteDocument(ctx context.Context, workspaceID, documentID, manageKey string) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, notFound("Document not found")
	}

	s.publish(workspaceID, "document.deleted", map[string]any{"id": documentID})
	return map[string]any{"status": "deleted"}, nil
}

// documentInWorkspace guards against cross-workspace access: the document
// must exist and belong to the given workspace.
func (s *Service) documentInWorkspace(ctx context.Context, workspaceID, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFound("Document not found")
		}
		return store.Document{}, err
	}
	if doc.WorkspaceID != workspaceID {
		return store.Document{}, notFound("Document not found in this workspace")
	}
	return doc, nil
}

// --- Versions & diff ---

func (s *Service) ListVersions(ctx context.Context, workspaceID, documentID string, limit, offset int) ([]map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultVersionPage
	}
	if limit > maxVersionPageSize {
		limit = maxVersionPageSize
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.ListVersions(ctx, documentID, limit, offset)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":              item.ID,
			"sequence_number": item.SequenceNumber,
			"summary":         item.Summary,
			"author_name":     item.AuthorName,
			"change_note":     item.ChangeNote,
			"word_count":      item.WordCount,
			"created_at":      item.CreatedAt,
		})
	}
	return payload, nil
}

func (s *Service) GetVersion(ctx context.Context, workspaceID, documentID string, sequence int) (map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	version, err := s.getVersion(ctx, documentID, sequence)
	if err != nil {
		return nil, err
	}
	return versionPayload(version), nil
}

func (s *Service) getVersion(ctx context.Context, documentID string, sequence int) (store.Version, error) {
	version, err := s.store.GetVersion(ctx, documentID, sequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Version{}, notFound(fmt.Sprintf("Version %d not found", sequence))
		}
		return store.Version{}, err
	}
	return version, nil
}

func (s *Service) DiffVersions(ctx context.Context, workspaceID, documentID string, from, to int) (map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	fromVersion, err := s.getVersion(ctx, documentID, from)
	if err != nil {
		return nil, err
	}
	toVersion, err := s.getVersion(ctx, documentID, to)
	if err != nil {
		return nil, err
	}

	result := textdiff.Diff(fromVersion.Content, toVersion.Content)
	unified := textdiff.Unified(fromVersion.Content, toVersion.Content,
		fmt.Sprintf("version %d", from), fmt.Sprintf("version %d", to))

	return map[string]any{
		"from_version": from,
		"to_version":   to,
		"diff":         unified,
		"ops":          result.Ops,
		"stats": map[string]any{
			"insertions": result.Insertions,
			"removals":   result.Removals,
		},
	}, nil
}

func (s *Service) RestoreVersion(ctx context.Context, workspaceID, documentID string, sequence int, manageKey string) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	version, err := s.getVersion(ctx, documentID, sequence)
	if err != nil {
		return nil, err
	}

	// Restoring never rewrites history: the old snapshot comes forward as a
	// brand-new version at the head of the log.
	html := render.Markdown(version.Content)
	wc := util.WordCount(version.Content)
	note := fmt.Sprintf("Restored from version %d", sequence)
	patch := store.DocumentPatch{
		Content:     &version.Content,
		ContentHTML: &html,
		WordCount:   &wc,
		ChangeNote:  &note,
	}

	s.commitMu.Lock()
	newSequence, _, err := s.store.UpdateDocument(ctx, documentID, patch)
	s.commitMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(workspaceID, "document.restored", map[string]any{
		"id": documentID, "from_version": sequence, "version": newSequence,
	})

	return map[string]any{
		"status":       "restored",
		"from_version": sequence,
		"version":      newSequence,
		"word_count":   wc,
	}, nil
}

// --- Comments ---

type CommentInput struct {
	AuthorName string  `json:"author_name"`
	Content    string  `json:"content"`
	ParentID   *string `json:"parent_id"`
}

func (s *Service) CreateComment(ctx context.Context, workspaceID, documentID string, input CommentInput) (map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}

	author := strings.TrimSpace(input.AuthorName)
	if author == "" {
		return nil, validationError("author_name is required")
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, validationError("content is required")
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		ParentID:   input.ParentID,
		AuthorName: author,
		Content:    content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	s.publish(workspaceID, "comment.created", map[string]any{
		"id": comment.ID, "document_id": documentID, "author_name": author,
	})

	return map[string]any{
		"id":          comment.ID,
		"document_id": documentID,
		"parent_id":   comment.ParentID,
		"author_name": author,
		"content":     content,
		"resolved":    false,
	}, nil
}

func (s *Service) ListComments(ctx context.Context, workspaceID, documentID string) ([]map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	items, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, c := range items {
		payload = append(payload, map[string]any{
			"id":          c.ID,
			"document_id": c.DocumentID,
			"parent_id":   c.ParentID,
			"author_name": c.AuthorName,
			"content":     c.Content,
			"resolved":    c.Resolved,
			"created_at":  c.CreatedAt,
			"updated_at":  c.UpdatedAt,
		})
	}
	return payload, nil
}

func (s *Service) UpdateComment(ctx context.Context, workspaceID, commentID, manageKey string, content *string, resolved *bool) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if content == nil && resolved == nil {
		return nil, validationError("Provide content and/or resolved")
	}

	updated, err := s.store.UpdateComment(ctx, commentID, content, resolved)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, notFound("Comment not found")
	}

	eventPayload := map[string]any{"comment_id": commentID}
	if resolved != nil {
		eventPayload["resolved"] = *resolved
	}
	s.publish(workspaceID, "comment.updated", eventPayload)
	return map[string]any{"status": "updated"}, nil
}

func (s *Service) DeleteComment(ctx context.Context, workspaceID, commentID, manageKey string) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, notFound("Comment not found")
	}

	s.publish(workspaceID, "comment.deleted", map[string]any{"comment_id": commentID})
	return map[string]any{"status": "deleted"}, nil
}

// --- Locks ---

func (s *Service) AcquireLock(ctx context.Context, workspaceID, documentID, manageKey, editor string, ttl time.Duration) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	editor, ttl = normalizeLockInput(editor, ttl, s.cfg.DefaultLockTTL)

	ok, state, err := s.locks.Acquire(ctx, documentID, editor, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lockConflict("Document is locked by another editor")
	}

	s.publish(workspaceID, "lock.acquired", map[string]any{
		"document_id": documentID, "locked_by": editor, "ttl_seconds": int(ttl.Seconds()),
	})

	return map[string]any{
		"status":      "locked",
		"locked_by":   editor,
		"ttl_seconds": int(ttl.Seconds()),
		"expires_at":  state.ExpiresAt,
	}, nil
}

func (s *Service) RenewLock(ctx context.Context, workspaceID, documentID, manageKey, editor string, ttl time.Duration) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	editor, ttl = normalizeLockInput(editor, ttl, s.cfg.DefaultLockTTL)

	ok, state, err := s.locks.Renew(ctx, documentID, editor, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lockConflict("Lock not held by this editor or expired")
	}

	s.publish(workspaceID, "lock.renewed", map[string]any{
		"document_id": documentID, "locked_by": editor, "ttl_seconds": int(ttl.Seconds()),
	})

	return map[string]any{
		"status":      "renewed",
		"locked_by":   editor,
		"ttl_seconds": int(ttl.Seconds()),
		"expires_at":  state.ExpiresAt,
	}, nil
}

func (s *Service) ReleaseLock(ctx context.Context, workspaceID, documentID, manageKey string) (map[string]any, error) {
	if _, err := s.authorize(ctx, workspaceID, manageKey); err != nil {
		return nil, err
	}
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}

	released, err := s.locks.Release(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, notFound("Document not found")
	}

	s.publish(workspaceID, "lock.released", map[string]any{"document_id": documentID})
	return map[string]any{"status": "unlocked"}, nil
}

func normalizeLockInput(editor string, ttl, fallback time.Duration) (string, time.Duration) {
	editor = strings.TrimSpace(editor)
	if editor == "" {
		editor = anonymousEditor
	}
	if ttl <= 0 {
		ttl = fallback
	}
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	if ttl > maxLockTTL {
		ttl = maxLockTTL
	}
	return editor, ttl
}

// --- Search ---

func (s *Service) Search(ctx context.Context, workspaceID, query string, limit, offset int) (map[string]any, error) {
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Workspace not found")
		}
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("q is required")
	}
	if limit <= 0 {
		limit = defaultSearchPage
	}
	if limit > maxSearchPageSize {
		limit = maxSearchPageSize
	}
	if offset < 0 {
		offset = 0
	}

	hits, err := s.store.SearchDocuments(ctx, workspaceID, query, limit, offset)
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]any{
			"id":         hit.ID,
			"title":      hit.Title,
			"slug":       hit.Slug,
			"summary":    hit.Summary,
			"status":     hit.Status,
			"rank":       hit.Rank,
			"updated_at": hit.UpdatedAt,
		})
	}
	return map[string]any{"query": query, "results": results, "count": len(results)}, nil
}

// --- Presence ---

func (s *Service) PresenceHeartbeat(ctx context.Context, workspaceID, documentID, viewer string) (map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	viewer = strings.TrimSpace(viewer)
	if viewer == "" {
		return nil, validationError("viewer is required")
	}
	if s.presence == nil {
		return map[string]any{"status": "disabled"}, nil
	}
	if err := s.presence.Heartbeat(ctx, documentID, viewer); err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("presence heartbeat failed")
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (s *Service) PresenceViewers(ctx context.Context, workspaceID, documentID string) (map[string]any, error) {
	if _, err := s.documentInWorkspace(ctx, workspaceID, documentID); err != nil {
		return nil, err
	}
	if s.presence == nil {
		return map[string]any{"viewers": []presence.Viewer{}}, nil
	}
	viewers, err := s.presence.Viewers(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"viewers": viewers}, nil
}

// --- payload helpers ---

// workspacePayload never includes the manage key hash.
func workspacePayload(ws store.Workspace) map[string]any {
	return map[string]any{
		"id":          ws.ID,
		"name":        ws.Name,
		"description": ws.Description,
		"is_public":   ws.IsPublic,
		"created_at":  ws.CreatedAt,
		"updated_at":  ws.UpdatedAt,
	}
}

func (s *Service) documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":           doc.ID,
		"workspace_id": doc.WorkspaceID,
		"title":        doc.Title,
		"slug":         doc.Slug,
		"content":      doc.Content,
		"content_html": doc.ContentHTML,
		"summary":      doc.Summary,
		"tags":         doc.Tags,
		"status":       doc.Status,
		"author_name":  doc.AuthorName,
		"word_count":   doc.WordCount,
		"created_at":   doc.CreatedAt,
		"updated_at":   doc.UpdatedAt,
	}
	lockState := map[string]any{"locked": false}
	if doc.LockedBy != nil && doc.LockExpiresAt != nil && s.now().Before(*doc.LockExpiresAt) {
		lockState = map[string]any{
			"locked":     true,
			"locked_by":  *doc.LockedBy,
			"locked_at":  doc.LockedAt,
			"expires_at": doc.LockExpiresAt,
		}
	}
	payload["lock"] = lockState
	return payload
}

func documentSummaryPayload(item store.DocumentSummary) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"slug":        item.Slug,
		"summary":     item.Summary,
		"tags":        item.Tags,
		"status":      item.Status,
		"author_name": item.AuthorName,
		"word_count":  item.WordCount,
		"created_at":  item.CreatedAt,
		"updated_at":  item.UpdatedAt,
	}
}

func versionPayload(v store.Version) map[string]any {
	return map[string]any{
		"id":              v.ID,
		"document_id":     v.DocumentID,
		"sequence_number": v.SequenceNumber,
		"content":         v.Content,
		"content_html":    v.ContentHTML,
		"summary":         v.Summary,
		"author_name":     v.AuthorName,
		"change_note":     v.ChangeNote,
		"word_count":      v.WordCount,
		"created_at":      v.CreatedAt,
	}
}
