package store

import "time"

type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// Invitation is a one-hop read-sharing grant from an owner to another
// user. Rows are never hard-deleted; the invited party mutates status
// exactly once, pending -> accepted or pending -> declined.
type Invitation struct {
	ID            string
	OwnerID       int64
	InvitedUserID int64
	Status        InvitationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntityKind tags one level of the content hierarchy.
type EntityKind string

const (
	KindSpace  EntityKind = "space"
	KindFolder EntityKind = "folder"
	KindNote   EntityKind = "note"
)

func ValidKind(kind EntityKind) bool {
	return kind == KindSpace || kind == KindFolder || kind == KindNote
}

type Space struct {
	ID        string
	OwnerID   int64
	Name      string
	Color     string
	Icon      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Folder struct {
	ID        string
	OwnerID   int64
	SpaceID   string
	Name      string
	Icon      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Note struct {
	ID        string
	OwnerID   int64
	FolderID  string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Node is the kind-tagged view of one content entity, shared by the
// publication and ordering paths so they do not need three parallel
// code paths per level.
type Node struct {
	Kind      EntityKind
	ID        string
	OwnerID   int64
	ParentID  string
	CreatedAt time.Time
}

// PublicationRecord is the soft-state row behind one public share link.
// Rows are created on first publish, flipped between active/inactive on
// every subsequent publish/unpublish, and never deleted. ShareID is
// immutable once minted.
type PublicationRecord struct {
	ID        string
	Kind      EntityKind
	EntityID  string
	OwnerID   int64
	ShareID   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Attachment struct {
	ID          string
	NoteID      string
	OwnerID     int64
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	CreatedAt   time.Time
}

type AuditEvent struct {
	ID         int64
	EventType  string
	ActorID    int64
	EntityType string
	EntityID   string
	Payload    map[string]any
	CreatedAt  time.Time
}
