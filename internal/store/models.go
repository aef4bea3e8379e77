package store

import "time"

type Workspace struct {
	ID            string
	Name          string
	Description   string
	ManageKeyHash string
	IsPublic      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Document struct {
	ID            string
	WorkspaceID   string
	Title         string
	Slug          string
	Content       string
	ContentHTML   string
	Summary       string
	Tags          []string
	Status        string
	AuthorName    string
	LockedBy      *string
	LockedAt      *time.Time
	LockExpiresAt *time.Time
	WordCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentSummary is the list-view projection; it omits content bodies.
type DocumentSummary struct {
	ID         string
	Title      string
	Slug       string
	Summary    string
	Tags       []string
	Status     string
	AuthorName string
	WordCount  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Version struct {
	ID             string
	DocumentID     string
	SequenceNumber int
	Content        string
	ContentHTML    string
	Summary        string
	AuthorName     string
	ChangeNote     string
	WordCount      int
	CreatedAt      time.Time
}

// VersionSummary omits snapshot bodies for history listings.
type VersionSummary struct {
	ID             string
	SequenceNumber int
	Summary        string
	AuthorName     string
	ChangeNote     string
	WordCount      int
	CreatedAt      time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	ParentID   *string
	AuthorName string
	Content    string
	Resolved   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SearchHit is one full-text search result, ranked best first.
type SearchHit struct {
	ID        string
	Title     string
	Slug      string
	Summary   string
	Status    string
	Rank      float32
	UpdatedAt time.Time
}

// DocumentPatch describes a partial document update. Nil fields are left
// untouched. When Content is set, the update also commits a new version
// carrying the patch's author, summary, change note and word count.
type DocumentPatch struct {
	Title       *string
	Content     *string
	ContentHTML *string
	Summary     *string
	Tags        *[]string
	Status      *string
	AuthorName  *string
	WordCount   *int
	ChangeNote  *string
}

// Empty reports whether the patch would change nothing.
func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.ContentHTML == nil &&
		p.Summary == nil && p.Tags == nil && p.Status == nil &&
		p.AuthorName == nil && p.WordCount == nil
}
