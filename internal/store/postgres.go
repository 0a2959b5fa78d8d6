package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"carrel/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, user.Email, user.DisplayName, user.PasswordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- invitations ----

func (s *PostgresStore) CreateInvitation(ctx context.Context, invitation Invitation) (Invitation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (id, owner_id, invited_user_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING created_at, updated_at
	`, invitation.ID, invitation.OwnerID, invitation.InvitedUserID).Scan(&invitation.CreatedAt, &invitation.UpdatedAt)
	if err != nil {
		return Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	invitation.Status = InvitationPending
	return invitation, nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	var item Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, invited_user_id, status, created_at, updated_at
		FROM invitations WHERE id=$1
	`, invitationID).Scan(&item.ID, &item.OwnerID, &item.InvitedUserID, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Invitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) InvitationExists(ctx context.Context, ownerID, invitedUserID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM invitations WHERE owner_id=$1 AND invited_user_id=$2)
	`, ownerID, invitedUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check invitation: %w", err)
	}
	return exists, nil
}

// RespondInvitation flips a pending invitation to accepted or declined.
// Returns false when the invitation is not pending anymore.
func (s *PostgresStore) RespondInvitation(ctx context.Context, invitationID string, status InvitationStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, invitationID, status)
	if err != nil {
		return false, fmt.Errorf("respond invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("respond invitation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListInvitationsByOwner(ctx context.Context, ownerID int64) ([]Invitation, error) {
	return s.listInvitations(ctx, `owner_id=$1`, ownerID)
}

func (s *PostgresStore) ListInvitationsForUser(ctx context.Context, invitedUserID int64) ([]Invitation, error) {
	return s.listInvitations(ctx, `invited_user_id=$1`, invitedUserID)
}

func (s *PostgresStore) listInvitations(ctx context.Context, where string, arg any) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, invited_user_id, status, created_at, updated_at
		FROM invitations
		WHERE `+where+`
		ORDER BY created_at DESC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.InvitedUserID, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

// AcceptedOwnerIDs returns the owners who granted the given user read
// access through an accepted invitation. One hop, never transitive.
func (s *PostgresStore) AcceptedOwnerIDs(ctx context.Context, invitedUserID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM invitations
		WHERE invited_user_id=$1 AND status='accepted'
	`, invitedUserID)
	if err != nil {
		return nil, fmt.Errorf("accepted owner ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owner ids: %w", err)
	}
	return ids, nil
}

// ---- spaces ----

func (s *PostgresStore) InsertSpace(ctx context.Context, space Space) (Space, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO spaces (id, owner_id, name, color, icon)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING created_at, updated_at
	`, space.ID, space.OwnerID, space.Name, space.Color, space.Icon).Scan(&space.CreatedAt, &space.UpdatedAt)
	if err != nil {
		return Space{}, fmt.Errorf("insert space: %w", err)
	}
	return space, nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var item Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, COALESCE(color, ''), COALESCE(icon, ''), created_at, updated_at
		FROM spaces WHERE id=$1
	`, spaceID).Scan(&item.ID, &item.OwnerID, &item.Name, &item.Color, &item.Icon, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSpacesByOwner(ctx context.Context, ownerID int64) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, COALESCE(color, ''), COALESCE(icon, ''), created_at, updated_at
		FROM spaces
		WHERE owner_id=$1
		ORDER BY created_at ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	items := make([]Space, 0)
	for rows.Next() {
		var item Space
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Color, &item.Icon, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, spaceID, name, color, icon string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spaces SET name=$2, color=NULLIF($3, ''), icon=NULLIF($4, ''), updated_at=NOW()
		WHERE id=$1
	`, spaceID, name, color, icon)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountSpacesByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spaces WHERE owner_id=$1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count spaces: %w", err)
	}
	return count, nil
}

// DeleteSpace removes the space and its descendants in one transaction.
// Publication records for the deleted subtree are deactivated, never
// deleted, so previously issued share ids stay reserved.
func (s *PostgresStore) DeleteSpace(ctx context.Context, spaceID string) error {
	return s.deleteEntity(ctx, KindSpace, spaceID, `DELETE FROM spaces WHERE id=$1`)
}

// ---- folders ----

func (s *PostgresStore) InsertFolder(ctx context.Context, folder Folder) (Folder, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO folders (id, owner_id, space_id, name, icon)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING created_at, updated_at
	`, folder.ID, folder.OwnerID, folder.SpaceID, folder.Name, folder.Icon).Scan(&folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, space_id, name, COALESCE(icon, ''), created_at, updated_at
		FROM folders WHERE id=$1
	`, folderID).Scan(&item.ID, &item.OwnerID, &item.SpaceID, &item.Name, &item.Icon, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListFoldersBySpace(ctx context.Context, spaceID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, space_id, name, COALESCE(icon, ''), created_at, updated_at
		FROM folders
		WHERE space_id=$1
		ORDER BY created_at ASC, id ASC
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.SpaceID, &item.Name, &item.Icon, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateFolder(ctx context.Context, folderID, name, icon string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE folders SET name=$2, icon=NULLIF($3, ''), updated_at=NOW()
		WHERE id=$1
	`, folderID, name, icon)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	return s.deleteEntity(ctx, KindFolder, folderID, `DELETE FROM folders WHERE id=$1`)
}

// ---- notes ----

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) (Note, error) {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return Note{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, owner_id, folder_id, title, content, tags)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at, updated_at
	`, note.ID, note.OwnerID, note.FolderID, note.Title, note.Content, tags).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	var tagsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, folder_id, title, content, tags, created_at, updated_at
		FROM notes WHERE id=$1
	`, noteID).Scan(&item.ID, &item.OwnerID, &item.FolderID, &item.Title, &item.Content, &tagsRaw, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	_ = json.Unmarshal(tagsRaw, &item.Tags)
	return item, nil
}

func (s *PostgresStore) ListNotesByFolder(ctx context.Context, folderID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, folder_id, title, content, tags, created_at, updated_at
		FROM notes
		WHERE folder_id=$1
		ORDER BY created_at ASC, id ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		var tagsRaw []byte
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.FolderID, &item.Title, &item.Content, &tagsRaw, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &item.Tags)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID, title, content string, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE notes SET title=$2, content=$3, tags=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, noteID, title, content, encoded)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

// MoveNote reparents a note. The caller has already verified the target
// folder belongs to the same owner; publication state is untouched.
func (s *PostgresStore) MoveNote(ctx context.Context, noteID, targetFolderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET folder_id=$2, updated_at=NOW() WHERE id=$1
	`, noteID, targetFolderID)
	if err != nil {
		return fmt.Errorf("move note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	return s.deleteEntity(ctx, KindNote, noteID, `DELETE FROM notes WHERE id=$1`)
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(encoded), nil
}

// ---- kind-tagged nodes and sibling sets ----

// GetNode resolves one content entity into its kind-tagged form.
func (s *PostgresStore) GetNode(ctx context.Context, kind EntityKind, entityID string) (Node, error) {
	node := Node{Kind: kind, ID: entityID}
	var err error
	switch kind {
	case KindSpace:
		err = s.db.QueryRowContext(ctx, `
			SELECT owner_id, created_at FROM spaces WHERE id=$1
		`, entityID).Scan(&node.OwnerID, &node.CreatedAt)
	case KindFolder:
		err = s.db.QueryRowContext(ctx, `
			SELECT owner_id, space_id, created_at FROM folders WHERE id=$1
		`, entityID).Scan(&node.OwnerID, &node.ParentID, &node.CreatedAt)
	case KindNote:
		err = s.db.QueryRowContext(ctx, `
			SELECT owner_id, folder_id, created_at FROM notes WHERE id=$1
		`, entityID).Scan(&node.OwnerID, &node.ParentID, &node.CreatedAt)
	default:
		return Node{}, fmt.Errorf("get node: unknown kind %q", kind)
	}
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// SiblingIDs returns the current members of one ordering scope in
// creation order. This is the base set order overlays merge against.
func (s *PostgresStore) SiblingIDs(ctx context.Context, kind EntityKind, parentID string) ([]string, error) {
	var query string
	switch kind {
	case KindSpace:
		query = `SELECT id FROM spaces WHERE owner_id=$1::bigint ORDER BY created_at ASC, id ASC`
	case KindFolder:
		query = `SELECT id FROM folders WHERE space_id=$1 ORDER BY created_at ASC, id ASC`
	case KindNote:
		query = `SELECT id FROM notes WHERE folder_id=$1 ORDER BY created_at ASC, id ASC`
	default:
		return nil, fmt.Errorf("sibling ids: unknown kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("sibling ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sibling id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sibling ids: %w", err)
	}
	return ids, nil
}

// ---- publication records ----

func (s *PostgresStore) GetPublication(ctx context.Context, kind EntityKind, entityID string) (PublicationRecord, error) {
	var item PublicationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, owner_id, share_id, is_active, created_at, updated_at
		FROM publication_records
		WHERE entity_type=$1 AND entity_id=$2
	`, kind, entityID).Scan(&item.ID, &item.Kind, &item.EntityID, &item.OwnerID, &item.ShareID, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return PublicationRecord{}, err
	}
	return item, nil
}

// GetPublicationByShareID resolves an active share id for public reads.
func (s *PostgresStore) GetPublicationByShareID(ctx context.Context, shareID string) (PublicationRecord, error) {
	var item PublicationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, owner_id, share_id, is_active, created_at, updated_at
		FROM publication_records
		WHERE share_id=$1 AND is_active
	`, shareID).Scan(&item.ID, &item.Kind, &item.EntityID, &item.OwnerID, &item.ShareID, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return PublicationRecord{}, err
	}
	return item, nil
}

// PublishCascade activates the entity and every descendant in one
// transaction. Each row follows the same create-or-reactivate rule: a
// row that already exists keeps its original share_id regardless of how
// many unpublish/republish cycles it has been through. The root record
// is returned first.
func (s *PostgresStore) PublishCascade(ctx context.Context, kind EntityKind, entityID string, ownerID int64) ([]PublicationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	targets, err := cascadeTargets(ctx, tx, kind, entityID)
	if err != nil {
		return nil, err
	}

	records := make([]PublicationRecord, 0, len(targets))
	for _, target := range targets {
		var record PublicationRecord
		err := tx.QueryRowContext(ctx, `
			INSERT INTO publication_records (id, entity_type, entity_id, owner_id, share_id, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (entity_type, entity_id, owner_id)
			DO UPDATE SET is_active=TRUE, updated_at=NOW()
			RETURNING id, entity_type, entity_id, owner_id, share_id, is_active, created_at, updated_at
		`, util.NewID("pub"), target.Kind, target.ID, ownerID, util.NewShareID()).Scan(
			&record.ID, &record.Kind, &record.EntityID, &record.OwnerID,
			&record.ShareID, &record.IsActive, &record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert publication %s/%s: %w", target.Kind, target.ID, err)
		}
		records = append(records, record)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish tx: %w", err)
	}
	return records, nil
}

// UnpublishCascade deactivates the entity and every descendant in one
// transaction. Rows that do not exist or are already inactive are left
// alone; the call reports how many rows actually flipped.
func (s *PostgresStore) UnpublishCascade(ctx context.Context, kind EntityKind, entityID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin unpublish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	flipped, err := deactivateTargets(ctx, tx, kind, entityID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit unpublish tx: %w", err)
	}
	return flipped, nil
}

type cascadeTarget struct {
	Kind EntityKind
	ID   string
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// cascadeTargets lists the entity itself followed by its descendants:
// folder -> its notes, space -> its folders and their notes.
func cascadeTargets(ctx context.Context, q querier, kind EntityKind, entityID string) ([]cascadeTarget, error) {
	targets := []cascadeTarget{{Kind: kind, ID: entityID}}
	switch kind {
	case KindNote:
		return targets, nil
	case KindFolder:
		noteIDs, err := queryIDs(ctx, q, `SELECT id FROM notes WHERE folder_id=$1 ORDER BY created_at ASC, id ASC`, entityID)
		if err != nil {
			return nil, err
		}
		for _, id := range noteIDs {
			targets = append(targets, cascadeTarget{Kind: KindNote, ID: id})
		}
		return targets, nil
	case KindSpace:
		folderIDs, err := queryIDs(ctx, q, `SELECT id FROM folders WHERE space_id=$1 ORDER BY created_at ASC, id ASC`, entityID)
		if err != nil {
			return nil, err
		}
		for _, id := range folderIDs {
			targets = append(targets, cascadeTarget{Kind: KindFolder, ID: id})
		}
		noteIDs, err := queryIDs(ctx, q, `
			SELECT n.id FROM notes n
			JOIN folders f ON f.id = n.folder_id
			WHERE f.space_id=$1
			ORDER BY n.created_at ASC, n.id ASC
		`, entityID)
		if err != nil {
			return nil, err
		}
		for _, id := range noteIDs {
			targets = append(targets, cascadeTarget{Kind: KindNote, ID: id})
		}
		return targets, nil
	default:
		return nil, fmt.Errorf("cascade targets: unknown kind %q", kind)
	}
}

func deactivateTargets(ctx context.Context, q querier, kind EntityKind, entityID string) (int, error) {
	targets, err := cascadeTargets(ctx, q, kind, entityID)
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, target := range targets {
		result, err := q.ExecContext(ctx, `
			UPDATE publication_records
			SET is_active=FALSE, updated_at=NOW()
			WHERE entity_type=$1 AND entity_id=$2 AND is_active
		`, target.Kind, target.ID)
		if err != nil {
			return 0, fmt.Errorf("deactivate publication %s/%s: %w", target.Kind, target.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("deactivate publication rows: %w", err)
		}
		flipped += int(affected)
	}
	return flipped, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// deleteEntity deactivates the subtree's publication records and then
// deletes the rows, all in one transaction. Foreign keys cascade the
// row deletion to descendants.
func (s *PostgresStore) deleteEntity(ctx context.Context, kind EntityKind, entityID, deleteQuery string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := deactivateTargets(ctx, tx, kind, entityID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, entityID); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) (Attachment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO note_attachments (id, note_id, owner_id, file_name, content_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, attachment.ID, attachment.NoteID, attachment.OwnerID, attachment.FileName,
		attachment.ContentType, attachment.SizeBytes, attachment.ObjectKey).Scan(&attachment.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, owner_id, file_name, content_type, size_bytes, object_key, created_at
		FROM note_attachments WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.NoteID, &item.OwnerID, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachmentsByNote(ctx context.Context, noteID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, owner_id, file_name, content_type, size_bytes, object_key, created_at
		FROM note_attachments
		WHERE note_id=$1
		ORDER BY created_at ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.NoteID, &item.OwnerID, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM note_attachments WHERE id=$1`, attachmentID); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// ---- audit ----

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, event.EventType, event.ActorID, event.EntityType, event.EntityID, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
