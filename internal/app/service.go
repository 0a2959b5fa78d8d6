package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carrel/api/internal/access"
	"carrel/api/internal/auth"
	"carrel/api/internal/authpw"
	"carrel/api/internal/blob"
	"carrel/api/internal/config"
	"carrel/api/internal/order"
	"carrel/api/internal/search"
	"carrel/api/internal/session"
	"carrel/api/internal/store"
	"carrel/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	CreateInvitation(context.Context, store.Invitation) (store.Invitation, error)
	GetInvitation(context.Context, string) (store.Invitation, error)
	InvitationExists(context.Context, int64, int64) (bool, error)
	RespondInvitation(context.Context, string, store.InvitationStatus) (bool, error)
	ListInvitationsByOwner(context.Context, int64) ([]store.Invitation, error)
	ListInvitationsForUser(context.Context, int64) ([]store.Invitation, error)
	AcceptedOwnerIDs(context.Context, int64) ([]int64, error)
	InsertSpace(context.Context, store.Space) (store.Space, error)
	GetSpace(context.Context, string) (store.Space, error)
	ListSpacesByOwner(context.Context, int64) ([]store.Space, error)
	UpdateSpace(context.Context, string, string, string, string) error
	CountSpacesByOwner(context.Context, int64) (int, error)
	DeleteSpace(context.Context, string) error
	InsertFolder(context.Context, store.Folder) (store.Folder, error)
	GetFolder(context.Context, string) (store.Folder, error)
	ListFoldersBySpace(context.Context, string) ([]store.Folder, error)
	UpdateFolder(context.Context, string, string, string) error
	DeleteFolder(context.Context, string) error
	InsertNote(context.Context, store.Note) (store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	ListNotesByFolder(context.Context, string) ([]store.Note, error)
	UpdateNote(context.Context, string, string, string, []string) error
	MoveNote(context.Context, string, string) error
	DeleteNote(context.Context, string) error
	GetNode(context.Context, store.EntityKind, string) (store.Node, error)
	GetPublication(context.Context, store.EntityKind, string) (store.PublicationRecord, error)
	GetPublicationByShareID(context.Context, string) (store.PublicationRecord, error)
	PublishCascade(context.Context, store.EntityKind, string, int64) ([]store.PublicationRecord, error)
	UnpublishCascade(context.Context, store.EntityKind, string) (int, error)
	InsertAttachment(context.Context, store.Attachment) (store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)
	ListAttachmentsByNote(context.Context, string) ([]store.Attachment, error)
	DeleteAttachment(context.Context, string) error
	InsertAuditEvent(context.Context, store.AuditEvent) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type orderStore interface {
	GetOrder(ctx context.Context, userID int64, scope order.Scope) ([]string, error)
	Reorder(ctx context.Context, userID int64, scope order.Scope, entityID string, newIndex int) ([]string, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexNote(rec search.NoteRecord)
	DeleteNote(id string)
}

type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	access   *access.Resolver
	orders   orderStore
	search   searchIndex
	blobs    blobStore
	pw       *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, orders *order.Store, searchSvc *search.Service, blobs *blob.Store) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		access:   access.NewResolver(dataStore),
		orders:   orders,
		pw:       authpw.NewService(dataStore),
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if blobs != nil {
		svc.blobs = blobs
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- auth ----

// SignUp creates the account and its default space, then opens a session.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.pw.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}

	space := store.Space{
		ID:      util.NewID("sp"),
		OwnerID: user.ID,
		Name:    "My Space",
	}
	if _, err := s.store.InsertSpace(ctx, space); err != nil {
		return Session{}, err
	}

	s.audit("user.signup", user.ID, "user", strconv.FormatInt(user.ID, 10), nil)
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.pw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.DisplayName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- invitations ----

func (s *Service) CreateInvitation(ctx context.Context, actorID int64, inviteeEmail string, invitedUserID int64) (store.Invitation, error) {
	var invited store.User
	var err error
	switch {
	case invitedUserID != 0:
		invited, err = s.store.GetUserByID(ctx, invitedUserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Invitation{}, notFoundError("no user with that id")
			}
			return store.Invitation{}, err
		}
	default:
		email := strings.ToLower(strings.TrimSpace(inviteeEmail))
		if email == "" {
			return store.Invitation{}, validationError("email or userId is required", nil)
		}
		invited, err = s.store.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Invitation{}, notFoundError("no user with that email")
			}
			return store.Invitation{}, err
		}
	}
	if invited.ID == actorID {
		return store.Invitation{}, validationError("cannot invite yourself", nil)
	}
	exists, err := s.store.InvitationExists(ctx, actorID, invited.ID)
	if err != nil {
		return store.Invitation{}, err
	}
	if exists {
		return store.Invitation{}, validationError("an invitation for this user already exists", nil)
	}

	invitation, err := s.store.CreateInvitation(ctx, store.Invitation{
		ID:            util.NewID("inv"),
		OwnerID:       actorID,
		InvitedUserID: invited.ID,
		Status:        store.InvitationPending,
	})
	if err != nil {
		return store.Invitation{}, err
	}
	s.audit("invitation.create", actorID, "invitation", invitation.ID, map[string]any{"invitedUserId": invited.ID})
	return invitation, nil
}

// RespondInvitation records the invited party's one-time answer.
func (s *Service) RespondInvitation(ctx context.Context, actorID int64, invitationID, action string) (store.Invitation, error) {
	var status store.InvitationStatus
	switch action {
	case "accept":
		status = store.InvitationAccepted
	case "decline":
		status = store.InvitationDeclined
	default:
		return store.Invitation{}, validationError("action must be accept or decline", nil)
	}

	invitation, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invitation{}, notFoundError("invitation not found")
		}
		return store.Invitation{}, err
	}
	if invitation.InvitedUserID != actorID {
		return store.Invitation{}, forbiddenError("only the invited user can respond")
	}

	updated, err := s.store.RespondInvitation(ctx, invitationID, status)
	if err != nil {
		return store.Invitation{}, err
	}
	if !updated {
		return store.Invitation{}, domainError(http.StatusConflict, "ALREADY_RESPONDED", "invitation has already been responded to", nil)
	}

	invitation.Status = status
	s.audit("invitation."+action, actorID, "invitation", invitationID, nil)
	return invitation, nil
}

func (s *Service) ListInvitations(ctx context.Context, userID int64, direction string) ([]store.Invitation, error) {
	if direction == "outgoing" {
		return s.store.ListInvitationsByOwner(ctx, userID)
	}
	return s.store.ListInvitationsForUser(ctx, userID)
}

// requireAccess returns a Forbidden error unless actorID may read
// ownerID's content.
func (s *Service) requireAccess(ctx context.Context, ownerID, actorID int64) error {
	ok, err := s.access.CanAccess(ctx, ownerID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return forbiddenError("no access to this user's content")
	}
	return nil
}

// ---- spaces ----

func (s *Service) CreateSpace(ctx context.Context, actorID int64, name, color, icon string) (store.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Space{}, validationError("name is required", nil)
	}
	space, err := s.store.InsertSpace(ctx, store.Space{
		ID:      util.NewID("sp"),
		OwnerID: actorID,
		Name:    name,
		Color:   color,
		Icon:    icon,
	})
	if err != nil {
		return store.Space{}, err
	}
	s.audit("space.create", actorID, store.KindSpace, space.ID, nil)
	return space, nil
}

func (s *Service) ListSpaces(ctx context.Context, actorID, ownerID int64) ([]store.Space, error) {
	if ownerID == 0 {
		ownerID = actorID
	}
	if err := s.requireAccess(ctx, ownerID, actorID); err != nil {
		return nil, err
	}
	return s.store.ListSpacesByOwner(ctx, ownerID)
}

func (s *Service) GetSpace(ctx context.Context, actorID int64, spaceID string) (store.Space, error) {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Space{}, notFoundError("space not found")
		}
		return store.Space{}, err
	}
	if err := s.requireAccess(ctx, space.OwnerID, actorID); err != nil {
		return store.Space{}, err
	}
	return space, nil
}

func (s *Service) UpdateSpace(ctx context.Context, actorID int64, spaceID, name, color, icon string) (store.Space, error) {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Space{}, notFoundError("space not found")
		}
		return store.Space{}, err
	}
	if space.OwnerID != actorID {
		return store.Space{}, forbiddenError("only the owner can update a space")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Space{}, validationError("name is required", nil)
	}
	if err := s.store.UpdateSpace(ctx, spaceID, name, color, icon); err != nil {
		return store.Space{}, err
	}
	space.Name, space.Color, space.Icon = name, color, icon
	s.audit("space.update", actorID, store.KindSpace, spaceID, nil)
	return space, nil
}

// DeleteSpace removes the space and its whole subtree. Every user keeps
// at least one space; deleting the last one is rejected.
func (s *Service) DeleteSpace(ctx context.Context, actorID int64, spaceID string) error {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("space not found")
		}
		return err
	}
	if space.OwnerID != actorID {
		return forbiddenError("only the owner can delete a space")
	}
	count, err := s.store.CountSpacesByOwner(ctx, actorID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return validationError("cannot delete your last space", nil)
	}

	s.deindexNotesInSpace(ctx, spaceID)
	if err := s.store.DeleteSpace(ctx, spaceID); err != nil {
		return err
	}
	s.audit("space.delete", actorID, store.KindSpace, spaceID, nil)
	return nil
}

// ---- folders ----

func (s *Service) CreateFolder(ctx context.Context, actorID int64, spaceID, name, icon string) (store.Folder, error) {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, notFoundError("space not found")
		}
		return store.Folder{}, err
	}
	if space.OwnerID != actorID {
		return store.Folder{}, forbiddenError("folders can only be created in your own space")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, validationError("name is required", nil)
	}

	folder, err := s.store.InsertFolder(ctx, store.Folder{
		ID:      util.NewID("fd"),
		OwnerID: actorID,
		SpaceID: spaceID,
		Name:    name,
		Icon:    icon,
	})
	if err != nil {
		return store.Folder{}, err
	}

	// Children born into a published space start published themselves.
	if err := s.autoEnroll(ctx, store.KindSpace, spaceID, store.KindFolder, folder.ID, actorID); err != nil {
		return store.Folder{}, err
	}

	s.audit("folder.create", actorID, store.KindFolder, folder.ID, map[string]any{"spaceId": spaceID})
	return folder, nil
}

func (s *Service) ListFolders(ctx context.Context, actorID int64, spaceID string) ([]store.Folder, error) {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("space not found")
		}
		return nil, err
	}
	if err := s.requireAccess(ctx, space.OwnerID, actorID); err != nil {
		return nil, err
	}
	return s.store.ListFoldersBySpace(ctx, spaceID)
}

func (s *Service) GetFolder(ctx context.Context, actorID int64, folderID string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, notFoundError("folder not found")
		}
		return store.Folder{}, err
	}
	if err := s.requireAccess(ctx, folder.OwnerID, actorID); err != nil {
		return store.Folder{}, err
	}
	return folder, nil
}

func (s *Service) UpdateFolder(ctx context.Context, actorID int64, folderID, name, icon string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, notFoundError("folder not found")
		}
		return store.Folder{}, err
	}
	if folder.OwnerID != actorID {
		return store.Folder{}, forbiddenError("only the owner can update a folder")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, validationError("name is required", nil)
	}
	if err := s.store.UpdateFolder(ctx, folderID, name, icon); err != nil {
		return store.Folder{}, err
	}
	folder.Name, folder.Icon = name, icon
	s.audit("folder.update", actorID, store.KindFolder, folderID, nil)
	return folder, nil
}

func (s *Service) DeleteFolder(ctx context.Context, actorID int64, folderID string) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("folder not found")
		}
		return err
	}
	if folder.OwnerID != actorID {
		return forbiddenError("only the owner can delete a folder")
	}

	s.deindexNotesInFolder(ctx, folderID)
	if err := s.store.DeleteFolder(ctx, folderID); err != nil {
		return err
	}
	s.audit("folder.delete", actorID, store.KindFolder, folderID, nil)
	return nil
}

// ---- notes ----

func (s *Service) CreateNote(ctx context.Context, actorID int64, folderID, title, content string, tags []string) (store.Note, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Note{}, notFoundError("folder not found")
		}
		return store.Note{}, err
	}
	if folder.OwnerID != actorID {
		return store.Note{}, forbiddenError("notes can only be created in your own folder")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if tags == nil {
		tags = []string{}
	}

	note, err := s.store.InsertNote(ctx, store.Note{
		ID:       util.NewID("nt"),
		OwnerID:  actorID,
		FolderID: folderID,
		Title:    title,
		Content:  content,
		Tags:     tags,
	})
	if err != nil {
		return store.Note{}, err
	}

	if err := s.autoEnroll(ctx, store.KindFolder, folderID, store.KindNote, note.ID, actorID); err != nil {
		return store.Note{}, err
	}

	s.indexNote(note)
	s.audit("note.create", actorID, store.KindNote, note.ID, map[string]any{"folderId": folderID})
	return note, nil
}

func (s *Service) GetNote(ctx context.Context, actorID int64, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Note{}, notFoundError("note not found")
		}
		return store.Note{}, err
	}
	if err := s.requireAccess(ctx, note.OwnerID, actorID); err != nil {
		return store.Note{}, err
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, actorID int64, folderID string) ([]store.Note, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("folder not found")
		}
		return nil, err
	}
	if err := s.requireAccess(ctx, folder.OwnerID, actorID); err != nil {
		return nil, err
	}
	return s.store.ListNotesByFolder(ctx, folderID)
}

func (s *Service) UpdateNote(ctx context.Context, actorID int64, noteID, title, content string, tags []string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Note{}, notFoundError("note not found")
		}
		return store.Note{}, err
	}
	if note.OwnerID != actorID {
		return store.Note{}, forbiddenError("only the owner can update a note")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if tags == nil {
		tags = []string{}
	}
	if err := s.store.UpdateNote(ctx, noteID, title, content, tags); err != nil {
		return store.Note{}, err
	}
	note.Title, note.Content, note.Tags = title, content, tags

	s.indexNote(note)
	s.audit("note.update", actorID, store.KindNote, noteID, nil)
	return note, nil
}

// MoveNote reparents a note within the owner's hierarchy. Publication
// state travels with the note unchanged; moving into a published folder
// does not publish the note.
func (s *Service) MoveNote(ctx context.Context, actorID int64, noteID, targetFolderID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Note{}, notFoundError("note not found")
		}
		return store.Note{}, err
	}
	if note.OwnerID != actorID {
		return store.Note{}, forbiddenError("only the owner can move a note")
	}
	target, err := s.store.GetFolder(ctx, targetFolderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Note{}, notFoundError("target folder not found")
		}
		return store.Note{}, err
	}
	if target.OwnerID != note.OwnerID {
		return store.Note{}, forbiddenError("notes can only be moved within your own folders")
	}
	if err := s.store.MoveNote(ctx, noteID, targetFolderID); err != nil {
		return store.Note{}, err
	}
	note.FolderID = targetFolderID

	s.indexNote(note)
	s.audit("note.move", actorID, store.KindNote, noteID, map[string]any{"targetFolderId": targetFolderID})
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, actorID int64, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("note not found")
		}
		return err
	}
	if note.OwnerID != actorID {
		return forbiddenError("only the owner can delete a note")
	}

	s.deleteAttachmentObjects(ctx, noteID)
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	s.audit("note.delete", actorID, store.KindNote, noteID, nil)
	return nil
}

// autoEnroll publishes a freshly created child when its parent has an
// active publication.
func (s *Service) autoEnroll(ctx context.Context, parentKind store.EntityKind, parentID string, childKind store.EntityKind, childID string, ownerID int64) error {
	pub, err := s.store.GetPublication(ctx, parentKind, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if !pub.IsActive {
		return nil
	}
	_, err = s.store.PublishCascade(ctx, childKind, childID, ownerID)
	return err
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:       note.ID,
		Title:    note.Title,
		Content:  note.Content,
		Tags:     note.Tags,
		FolderID: note.FolderID,
		OwnerID:  note.OwnerID,
	})
}

func (s *Service) deindexNotesInFolder(ctx context.Context, folderID string) {
	if s.search == nil {
		return
	}
	notes, err := s.store.ListNotesByFolder(ctx, folderID)
	if err != nil {
		log.Printf("deindex folder %s: %v", folderID, err)
		return
	}
	for _, note := range notes {
		s.search.DeleteNote(note.ID)
	}
}

func (s *Service) deindexNotesInSpace(ctx context.Context, spaceID string) {
	if s.search == nil {
		return
	}
	folders, err := s.store.ListFoldersBySpace(ctx, spaceID)
	if err != nil {
		log.Printf("deindex space %s: %v", spaceID, err)
		return
	}
	for _, folder := range folders {
		s.deindexNotesInFolder(ctx, folder.ID)
	}
}

// ---- ordering ----

// resolveScopeOwner maps a scope to the user whose content it orders.
func (s *Service) resolveScopeOwner(ctx context.Context, scope order.Scope) (int64, error) {
	switch scope.Kind {
	case store.KindSpace:
		ownerID, err := strconv.ParseInt(scope.ParentID, 10, 64)
		if err != nil {
			return 0, validationError("space scope requires a numeric owner id", nil)
		}
		return ownerID, nil
	case store.KindFolder:
		space, err := s.store.GetSpace(ctx, scope.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, notFoundError("space not found")
			}
			return 0, err
		}
		return space.OwnerID, nil
	default:
		folder, err := s.store.GetFolder(ctx, scope.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, notFoundError("folder not found")
			}
			return 0, err
		}
		return folder.OwnerID, nil
	}
}

func (s *Service) GetOrder(ctx context.Context, actorID int64, scopeKey string) ([]string, error) {
	scope, err := order.ParseScopeKey(scopeKey)
	if err != nil {
		return nil, err
	}
	ownerID, err := s.resolveScopeOwner(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ownerID, actorID); err != nil {
		return nil, err
	}
	return s.orders.GetOrder(ctx, actorID, scope)
}

func (s *Service) Reorder(ctx context.Context, actorID int64, scopeKey, entityID string, newIndex int) ([]string, error) {
	scope, err := order.ParseScopeKey(scopeKey)
	if err != nil {
		return nil, err
	}
	ownerID, err := s.resolveScopeOwner(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, ownerID, actorID); err != nil {
		return nil, err
	}
	ids, err := s.orders.Reorder(ctx, actorID, scope, entityID, newIndex)
	if err != nil {
		return nil, err
	}
	s.audit("order.reorder", actorID, scope.Kind, entityID, map[string]any{"scope": scopeKey, "newIndex": newIndex})
	return ids, nil
}

// ---- search ----

func (s *Service) SearchNotes(ctx context.Context, actorID int64, text, folderID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	owners, err := s.access.AccessibleOwnerIDs(ctx, actorID)
	if err != nil {
		return search.Response{}, err
	}
	ownerIDs := make([]int64, 0, len(owners))
	for id := range owners {
		ownerIDs = append(ownerIDs, id)
	}
	return s.search.Search(search.Query{
		Text:           text,
		OwnerIDs:       ownerIDs,
		FilterFolderID: folderID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// ---- attachments ----

func (s *Service) UploadAttachment(ctx context.Context, actorID int64, noteID, fileName, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	if s.blobs == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "attachment storage is not configured", nil)
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Attachment{}, notFoundError("note not found")
		}
		return store.Attachment{}, err
	}
	if note.OwnerID != actorID {
		return store.Attachment{}, forbiddenError("only the owner can attach files to a note")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = "file"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachmentID := util.NewID("at")
	objectKey := "notes/" + noteID + "/" + attachmentID
	written, err := s.blobs.Put(ctx, objectKey, r, size, contentType)
	if err != nil {
		return store.Attachment{}, err
	}

	attachment, err := s.store.InsertAttachment(ctx, store.Attachment{
		ID:          attachmentID,
		NoteID:      noteID,
		OwnerID:     actorID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   written,
		ObjectKey:   objectKey,
	})
	if err != nil {
		return store.Attachment{}, err
	}
	s.audit("attachment.create", actorID, store.KindNote, noteID, map[string]any{"attachmentId": attachmentID})
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, actorID int64, noteID string) ([]store.Attachment, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("note not found")
		}
		return nil, err
	}
	if err := s.requireAccess(ctx, note.OwnerID, actorID); err != nil {
		return nil, err
	}
	return s.store.ListAttachmentsByNote(ctx, noteID)
}

// DownloadAttachment opens the attachment payload. Access follows the
// note: collaborators with read access may download.
func (s *Service) DownloadAttachment(ctx context.Context, actorID int64, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return store.Attachment{}, nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "attachment storage is not configured", nil)
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Attachment{}, nil, notFoundError("attachment not found")
		}
		return store.Attachment{}, nil, err
	}
	note, err := s.store.GetNote(ctx, attachment.NoteID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	if err := s.requireAccess(ctx, note.OwnerID, actorID); err != nil {
		return store.Attachment{}, nil, err
	}
	reader, err := s.blobs.Get(ctx, attachment.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return attachment, reader, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, actorID int64, attachmentID string) error {
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("attachment not found")
		}
		return err
	}
	if attachment.OwnerID != actorID {
		return forbiddenError("only the owner can delete an attachment")
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, attachment.ObjectKey); err != nil {
			log.Printf("delete attachment object %s: %v", attachment.ObjectKey, err)
		}
	}
	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return err
	}
	s.audit("attachment.delete", actorID, store.KindNote, attachment.NoteID, map[string]any{"attachmentId": attachmentID})
	return nil
}

// deleteAttachmentObjects removes stored payloads before the note row
// (and its metadata rows) go away. Object storage failures only orphan
// blobs, so they are logged and ignored.
func (s *Service) deleteAttachmentObjects(ctx context.Context, noteID string) {
	if s.blobs == nil {
		return
	}
	attachments, err := s.store.ListAttachmentsByNote(ctx, noteID)
	if err != nil {
		log.Printf("list attachments for %s: %v", noteID, err)
		return
	}
	for _, attachment := range attachments {
		if err := s.blobs.Delete(ctx, attachment.ObjectKey); err != nil {
			log.Printf("delete attachment object %s: %v", attachment.ObjectKey, err)
		}
	}
}
