package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"dochub/api/internal/lock"
	"dochub/api/internal/util"
)

// ErrDuplicateSlug is returned when a document slug collides inside a
// workspace.
var ErrDuplicateSlug = errors.New("duplicate slug in workspace")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Workspaces ---

func (s *PostgresStore) InsertWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, description, manage_key_hash, is_public)
		VALUES ($1, $2, $3, $4, $5)
	`, ws.ID, ws.Name, ws.Description, ws.ManageKeyHash, ws.IsPublic)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, manage_key_hash, is_public, created_at, updated_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.Description, &ws.ManageKeyHash, &ws.IsPublic, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) ListPublicWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, is_public, created_at, updated_at
		FROM workspaces
		WHERE is_public
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.IsPublic, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, workspaceID string, name, description *string, isPublic *bool) (bool, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if name != nil {
		addSet("name", *name)
	}
	if description != nil {
		addSet("description", *description)
	}
	if isPublic != nil {
		addSet("is_public", *isPublic)
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, workspaceID)

	query := fmt.Sprintf(`UPDATE workspaces SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update workspace: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// --- Documents ---

// CreateDocument inserts the document row and its initial version in one
// transaction, so every document has a version 1 before anyone can observe it.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, initial Version) error {
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, title, slug, content, content_html, summary, tags, status, author_name, word_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.WorkspaceID, doc.Title, doc.Slug, doc.Content, doc.ContentHTML, doc.Summary, tags, doc.Status, doc.AuthorName, doc.WordCount)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("insert document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, sequence_number, content, content_html, summary, author_name, change_note, word_count)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8)
	`, initial.ID, doc.ID, initial.Content, initial.ContentHTML, initial.Summary, initial.AuthorName, initial.ChangeNote, initial.WordCount)
	if err != nil {
		return fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

const documentColumns = `id, workspace_id, title, slug, content, content_html, summary, tags, status, author_name, locked_by, locked_at, lock_expires_at, word_count, created_at, updated_at`

func scanDocument(row *sql.Row) (Document, error) {
	var doc Document
	var tags []byte
	err := row.Scan(&doc.ID, &doc.WorkspaceID, &doc.Title, &doc.Slug, &doc.Content, &doc.ContentHTML,
		&doc.Summary, &tags, &doc.Status, &doc.AuthorName, &doc.LockedBy, &doc.LockedAt,
		&doc.LockExpiresAt, &doc.WordCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(tags, &doc.Tags); err != nil {
		doc.Tags = []string{}
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) GetDocumentBySlug(ctx context.Context, workspaceID, slug string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE workspace_id=$1 AND slug=$2`, workspaceID, slug)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, workspaceID string, includeDrafts bool) ([]DocumentSummary, error) {
	query := `
		SELECT id, title, slug, summary, tags, status, author_name, word_count, created_at, updated_at
		FROM documents
		WHERE workspace_id=$1
	`
	if !includeDrafts {
		query += ` AND status='published'`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentSummary, 0)
	for rows.Next() {
		var item DocumentSummary
		var tags []byte
		if err := rows.Scan(&item.ID, &item.Title, &item.Slug, &item.Summary, &tags, &item.Status,
			&item.AuthorName, &item.WordCount, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			item.Tags = []string{}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocument applies the patch and, when the patch changes content,
// appends a new version in the same transaction. Sequence assignment
// (max+1) happens inside the insert so it cannot race with the row update.
// It returns the assigned sequence number (0 when no version was created).
func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, patch DocumentPatch) (int, bool, error) {
	if patch.Empty() {
		return 0, false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin update document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sequence := 0
	if patch.Content != nil {
		versionID := util.NewID("ver")
		err := tx.QueryRowContext(ctx, `
			INSERT INTO document_versions (id, document_id, sequence_number, content, content_html, summary, author_name, change_note, word_count)
			VALUES ($1, $2,
				(SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM document_versions WHERE document_id=$2),
				$3, $4, $5, $6, $7, $8)
			RETURNING sequence_number
		`, versionID, documentID,
			*patch.Content, deref(patch.ContentHTML), deref(patch.Summary),
			deref(patch.AuthorName), deref(patch.ChangeNote), derefInt(patch.WordCount),
		).Scan(&sequence)
		if err != nil {
			return 0, false, fmt.Errorf("insert version: %w", err)
		}
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title != nil {
		addSet("title", *patch.Title)
	}
	if patch.Content != nil {
		addSet("content", *patch.Content)
	}
	if patch.ContentHTML != nil {
		addSet("content_html", *patch.ContentHTML)
	}
	if patch.Summary != nil {
		addSet("summary", *patch.Summary)
	}
	if patch.Tags != nil {
		tags, err := json.Marshal(*patch.Tags)
		if err != nil {
			return 0, false, fmt.Errorf("marshal tags: %w", err)
		}
		addSet("tags", tags)
	}
	if patch.Status != nil {
		addSet("status", *patch.Status)
	}
	if patch.AuthorName != nil {
		addSet("author_name", *patch.AuthorName)
	}
	if patch.WordCount != nil {
		addSet("word_count", *patch.WordCount)
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, documentID)

	query := fmt.Sprintf(`UPDATE documents SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("update document: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, false, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit update document: %w", err)
	}
	return sequence, true, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// --- Versions ---

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit, offset int) ([]VersionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence_number, summary, author_name, change_note, word_count, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY sequence_number DESC
		LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSummary, 0)
	for rows.Next() {
		var item VersionSummary
		if err := rows.Scan(&item.ID, &item.SequenceNumber, &item.Summary, &item.AuthorName,
			&item.ChangeNote, &item.WordCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, sequence int) (Version, error) {
	var v Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, sequence_number, content, content_html, summary, author_name, change_note, word_count, created_at
		FROM document_versions
		WHERE document_id=$1 AND sequence_number=$2
	`, documentID, sequence).Scan(&v.ID, &v.DocumentID, &v.SequenceNumber, &v.Content, &v.ContentHTML,
		&v.Summary, &v.AuthorName, &v.ChangeNote, &v.WordCount, &v.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return v, nil
}

// --- Comments ---

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, parent_id, author_name, content)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.DocumentID, c.ParentID, c.AuthorName, c.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, parent_id, author_name, content, resolved, created_at, updated_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ParentID, &c.AuthorName, &c.Content,
			&c.Resolved, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID string, content *string, resolved *bool) (bool, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 3)
	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if content != nil {
		addSet("content", *content)
	}
	if resolved != nil {
		addSet("resolved", *resolved)
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, commentID)

	query := fmt.Sprintf(`UPDATE comments SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// --- Search ---

func (s *PostgresStore) SearchDocuments(ctx context.Context, workspaceID, query string, limit, offset int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, slug, summary, status,
			ts_rank(to_tsvector('english', title || ' ' || content), websearch_to_tsquery('english', $2)) AS rank,
			updated_at
		FROM documents
		WHERE workspace_id=$1
			AND to_tsvector('english', title || ' ' || content) @@ websearch_to_tsquery('english', $2)
		ORDER BY rank DESC, updated_at DESC
		LIMIT $3 OFFSET $4
	`, workspaceID, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	items := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Slug, &hit.Summary, &hit.Status, &hit.Rank, &hit.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		items = append(items, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return items, nil
}

// --- Lock state (implements lock.Store) ---

func (s *PostgresStore) LockState(ctx context.Context, documentID string) (lock.State, error) {
	var lockedBy sql.NullString
	var lockedAt, expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_by, locked_at, lock_expires_at FROM documents WHERE id=$1
	`, documentID).Scan(&lockedBy, &lockedAt, &expiresAt)
	if err != nil {
		return lock.State{}, err
	}

	state := lock.State{}
	if lockedBy.Valid {
		state.Holder = lockedBy.String
		state.AcquiredAt = lockedAt.Time
		state.ExpiresAt = expiresAt.Time
	}
	return state, nil
}

func (s *PostgresStore) SetLock(ctx context.Context, documentID string, state lock.State) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET locked_by=$1, locked_at=$2, lock_expires_at=$3, updated_at=NOW() WHERE id=$4
	`, state.Holder, state.AcquiredAt, state.ExpiresAt, documentID)
	if err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ClearLock(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET locked_by=NULL, locked_at=NULL, lock_expires_at=NULL, updated_at=NOW() WHERE id=$1
	`, documentID)
	if err != nil {
		return false, fmt.Errorf("clear lock: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// --- helpers ---

// isUniqueViolation matches Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
