package model

import "time"

// ----------------------------------------------------------------------
// Comments
// ----------------------------------------------------------------------

// ApprovalStatus is the moderation state stored in the is_approved column.
type ApprovalStatus int

const (
	StatusPending  ApprovalStatus = 0
	StatusApproved ApprovalStatus = 1
	StatusRejected ApprovalStatus = 2
)

func (s ApprovalStatus) Valid() bool {
	return s >= StatusPending && s <= StatusRejected
}

func (s ApprovalStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// ParseApprovalStatus maps a moderation queue name to its status.
func ParseApprovalStatus(name string) (ApprovalStatus, bool) {
	switch name {
	case "pending":
		return StatusPending, true
	case "approved":
		return StatusApproved, true
	case "rejected":
		return StatusRejected, true
	}
	return 0, false
}

// Comment is a row of the comments table as returned by the backend.
type Comment struct {
	ID              int64          `json:"id"`
	ThreadID        int64          `json:"thread_referencia_id"`
	AuthorName      string         `json:"author_name"`
	AuthorEmailHash string         `json:"author_email_hash,omitempty"`
	Content         string         `json:"content"`
	IsApproved      ApprovalStatus `json:"is_approved"`
	ParentID        *int64         `json:"parent_id"`
	CreatedAt       string         `json:"created_at,omitempty"`
	Replies         []*Comment     `json:"replies,omitempty"`
}

// CommentCreate is the public payload for posting a comment.
type CommentCreate struct {
	ThreadID    int64           `json:"thread_id"`
	AuthorName  string          `json:"author_name"`
	AuthorEmail string          `json:"author_email"`
	Content     string          `json:"content"`
	ParentID    *int64          `json:"parent_id,omitempty"`
	IsApproved  *ApprovalStatus `json:"is_approved,omitempty"`
}

// CommentRecord is what gets written to the backend's comments table.
type CommentRecord struct {
	ThreadID        int64          `json:"thread_referencia_id"`
	AuthorName      string         `json:"author_name"`
	AuthorEmailHash string         `json:"author_email_hash"`
	Content         string         `json:"content"`
	IsApproved      ApprovalStatus `json:"is_approved"`
	ParentID        *int64         `json:"parent_id,omitempty"`
}

// CommentFilter narrows a comment listing. Status names a moderation state
// and takes precedence over IsApproved. DateFrom and DateTo bound created_at
// (inclusive). Search is matched against content and author name.
type CommentFilter struct {
	ThreadID   *int64
	IsApproved *ApprovalStatus
	Status     string
	Search     string
	DateFrom   string
	DateTo     string
	Page       int
	Limit      int
}

// CommentTree is the nested view served to the widget.
type CommentTree struct {
	ThreadID int64      `json:"thread_id"`
	Comments []*Comment `json:"comments"`
	Total    int        `json:"total"`
}

// ----------------------------------------------------------------------
// Threads
// ----------------------------------------------------------------------

// Thread is a commentable page.
type Thread struct {
	ID             int64  `json:"id"`
	OwnerID        int64  `json:"usuario_proprietario_id"`
	ExternalPageID string `json:"external_page_id"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// ThreadCreate is the payload for a new thread.
type ThreadCreate struct {
	ExternalPageID string `json:"external_page_id"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	OwnerID        int64  `json:"owner_id,omitempty"`
}

// ThreadUpdate holds the optional fields of a thread update.
type ThreadUpdate struct {
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// ThreadFilter narrows a thread listing.
type ThreadFilter struct {
	OwnerID *int64
	Page    int
	Limit   int
}

// ThreadStats summarises the comments of one thread.
type ThreadStats struct {
	ThreadID int64 `json:"thread_id"`
	Total    int   `json:"total_comments"`
	Approved int   `json:"approved_comments"`
	Pending  int   `json:"pending_comments"`
	Rejected int   `json:"rejected_comments"`
}

// ----------------------------------------------------------------------
// Moderation
// ----------------------------------------------------------------------

// ModerationAction is a moderator decision.
type ModerationAction string

const (
	ActionApprove ModerationAction = "approve"
	ActionReject  ModerationAction = "reject"
	ActionDelete  ModerationAction = "delete"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionDelete:
		return true
	}
	return false
}

// PastTense renders "approved", "rejected", "deleted".
func (a ModerationAction) PastTense() string {
	return string(a) + "d"
}

// ModerationQueue is a page of comments in one moderation state.
type ModerationQueue struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	Status   string    `json:"status"`
}

// ModerationStats counts comments per moderation state.
type ModerationStats struct {
	Pending    int       `json:"pending_count"`
	Approved   int       `json:"approved_count"`
	Rejected   int       `json:"rejected_count"`
	Total      int       `json:"total_count"`
	LastUpdate time.Time `json:"last_update"`
}

// ModerationResult is the outcome for one comment in a bulk request.
type ModerationResult struct {
	CommentID int64  `json:"comment_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BulkModerationResult summarises a bulk request.
type BulkModerationResult struct {
	Message    string             `json:"message"`
	Results    []ModerationResult `json:"results"`
	Successful int                `json:"successful"`
	Total      int                `json:"total"`
}

// ----------------------------------------------------------------------
// Widget
// ----------------------------------------------------------------------

// WidgetColors is the palette of the embedded widget.
type WidgetColors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Background string `json:"background"`
	Text       string `json:"text"`
}

// WidgetConfig controls how the widget renders on a page.
type WidgetConfig struct {
	ThreadID          string       `json:"thread_id,omitempty"`
	Theme             string       `json:"theme"`
	Position          string       `json:"position"`
	MaxComments       int          `json:"max_comments"`
	AutoLoad          bool         `json:"auto_load"`
	ShowTimestamps    bool         `json:"show_timestamps"`
	AllowAnonymous    bool         `json:"allow_anonymous"`
	RequireModeration bool         `json:"require_moderation"`
	CustomCSS         string       `json:"custom_css"`
	Colors            WidgetColors `json:"colors"`
}

// WidgetTheme describes one selectable theme.
type WidgetTheme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Preview     string `json:"preview"`
}

// WidgetEmbed is the snippet a site owner pastes into a page.
type WidgetEmbed struct {
	ThreadID    string       `json:"thread_id"`
	EmbedHTML   string       `json:"embed_html"`
	EmbedScript string       `json:"embed_script"`
	Config      WidgetConfig `json:"config"`
}

// WidgetPreview is a static rendering of a configuration that was not saved.
type WidgetPreview struct {
	PreviewHTML string       `json:"preview_html"`
	Config      WidgetConfig `json:"config"`
}

// ----------------------------------------------------------------------
// Shared
// ----------------------------------------------------------------------

// CreateResult is the backend's answer to a create call.
type CreateResult struct {
	ID      int64  `json:"id"`
	Message string `json:"message,omitempty"`
}

// Message is a plain acknowledgement body.
type Message struct {
	Message string `json:"message"`
}
