package store

import "time"

// Thread statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Profile roles, in descending order of privilege.
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleMember  = "Member"
	RoleViewer  = "Viewer"
)

type Profile struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	Role        string
	CreatedAt   time.Time
}

type Team struct {
	ID          int64
	Name        string
	Description string
	Icon        string
	IconColor   string
	OrderIndex  int
	CreatedAt   time.Time
}

type Tag struct {
	ID        int64
	Name      string
	Color     string
	TeamID    *int64
	CreatedAt time.Time
}

type Thread struct {
	ID          string
	Title       string
	Content     string
	Author      string
	AuthorID    string
	TeamID      *int64
	Status      string
	IsPinned    bool
	CompletedBy *string
	CompletedAt *time.Time
	CreatedAt   time.Time
	Replies     []Reply
	Reactions   []Reaction
}

type Reply struct {
	ID        string
	ThreadID  string
	Content   string
	Author    string
	AuthorID  string
	CreatedAt time.Time
}

// Reaction targets exactly one of ThreadID or ReplyID.
type Reaction struct {
	ID        string
	Emoji     string
	ThreadID  *string
	ReplyID   *string
	ProfileID string
	CreatedAt time.Time
}

type Attachment struct {
	Name string
	URL  string
	Type string
	Size int64
}
