package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"carrel/api/internal/access"
	"carrel/api/internal/authpw"
	"carrel/api/internal/config"
	"carrel/api/internal/session"
	"carrel/api/internal/store"
)

type fakeStore struct {
	createUserFn            func(context.Context, store.User) (store.User, error)
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	getUserByIDFn           func(context.Context, int64) (store.User, error)
	createInvitationFn      func(context.Context, store.Invitation) (store.Invitation, error)
	getInvitationFn         func(context.Context, string) (store.Invitation, error)
	invitationExistsFn      func(context.Context, int64, int64) (bool, error)
	respondInvitationFn     func(context.Context, string, store.InvitationStatus) (bool, error)
	acceptedOwnerIDsFn      func(context.Context, int64) ([]int64, error)
	insertSpaceFn           func(context.Context, store.Space) (store.Space, error)
	getSpaceFn              func(context.Context, string) (store.Space, error)
	listSpacesByOwnerFn     func(context.Context, int64) ([]store.Space, error)
	countSpacesByOwnerFn    func(context.Context, int64) (int, error)
	deleteSpaceFn           func(context.Context, string) error
	insertFolderFn          func(context.Context, store.Folder) (store.Folder, error)
	getFolderFn             func(context.Context, string) (store.Folder, error)
	insertNoteFn            func(context.Context, store.Note) (store.Note, error)
	getNoteFn               func(context.Context, string) (store.Note, error)
	moveNoteFn              func(context.Context, string, string) error
	getNodeFn               func(context.Context, store.EntityKind, string) (store.Node, error)
	getPublicationFn        func(context.Context, store.EntityKind, string) (store.PublicationRecord, error)
	getPubByShareIDFn       func(context.Context, string) (store.PublicationRecord, error)
	publishCascadeFn        func(context.Context, store.EntityKind, string, int64) ([]store.PublicationRecord, error)
	unpublishCascadeFn      func(context.Context, store.EntityKind, string) (int, error)
	listNotesByFolderFn     func(context.Context, string) ([]store.Note, error)
	listFoldersBySpaceFn    func(context.Context, string) ([]store.Folder, error)
	listAttachmentsByNoteFn func(context.Context, string) ([]store.Attachment, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = 1
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "User"}, nil
}

func (f *fakeStore) CreateInvitation(ctx context.Context, invitation store.Invitation) (store.Invitation, error) {
	if f.createInvitationFn != nil {
		return f.createInvitationFn(ctx, invitation)
	}
	return invitation, nil
}

func (f *fakeStore) GetInvitation(ctx context.Context, invitationID string) (store.Invitation, error) {
	if f.getInvitationFn != nil {
		return f.getInvitationFn(ctx, invitationID)
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (f *fakeStore) InvitationExists(ctx context.Context, ownerID, invitedUserID int64) (bool, error) {
	if f.invitationExistsFn != nil {
		return f.invitationExistsFn(ctx, ownerID, invitedUserID)
	}
	return false, nil
}

func (f *fakeStore) RespondInvitation(ctx context.Context, invitationID string, status store.InvitationStatus) (bool, error) {
	if f.respondInvitationFn != nil {
		return f.respondInvitationFn(ctx, invitationID, status)
	}
	return true, nil
}

func (f *fakeStore) ListInvitationsByOwner(context.Context, int64) ([]store.Invitation, error) {
	return nil, nil
}

func (f *fakeStore) ListInvitationsForUser(context.Context, int64) ([]store.Invitation, error) {
	return nil, nil
}

func (f *fakeStore) AcceptedOwnerIDs(ctx context.Context, invitedUserID int64) ([]int64, error) {
	if f.acceptedOwnerIDsFn != nil {
		return f.acceptedOwnerIDsFn(ctx, invitedUserID)
	}
	return nil, nil
}

func (f *fakeStore) InsertSpace(ctx context.Context, space store.Space) (store.Space, error) {
	if f.insertSpaceFn != nil {
		return f.insertSpaceFn(ctx, space)
	}
	return space, nil
}

func (f *fakeStore) GetSpace(ctx context.Context, spaceID string) (store.Space, error) {
	if f.getSpaceFn != nil {
		return f.getSpaceFn(ctx, spaceID)
	}
	return store.Space{}, sql.ErrNoRows
}

func (f *fakeStore) ListSpacesByOwner(ctx context.Context, ownerID int64) ([]store.Space, error) {
	if f.listSpacesByOwnerFn != nil {
		return f.listSpacesByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateSpace(context.Context, string, string, string, string) error { return nil }

func (f *fakeStore) CountSpacesByOwner(ctx context.Context, ownerID int64) (int, error) {
	if f.countSpacesByOwnerFn != nil {
		return f.countSpacesByOwnerFn(ctx, ownerID)
	}
	return 0, nil
}

func (f *fakeStore) DeleteSpace(ctx context.Context, spaceID string) error {
	if f.deleteSpaceFn != nil {
		return f.deleteSpaceFn(ctx, spaceID)
	}
	return nil
}

func (f *fakeStore) InsertFolder(ctx context.Context, folder store.Folder) (store.Folder, error) {
	if f.insertFolderFn != nil {
		return f.insertFolderFn(ctx, folder)
	}
	return folder, nil
}

func (f *fakeStore) GetFolder(ctx context.Context, folderID string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, folderID)
	}
	return store.Folder{}, sql.ErrNoRows
}

func (f *fakeStore) ListFoldersBySpace(ctx context.Context, spaceID string) ([]store.Folder, error) {
	if f.listFoldersBySpaceFn != nil {
		return f.listFoldersBySpaceFn(ctx, spaceID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateFolder(context.Context, string, string, string) error { return nil }
func (f *fakeStore) DeleteFolder(context.Context, string) error                { return nil }

func (f *fakeStore) InsertNote(ctx context.Context, note store.Note) (store.Note, error) {
	if f.insertNoteFn != nil {
		return f.insertNoteFn(ctx, note)
	}
	return note, nil
}

func (f *fakeStore) GetNote(ctx context.Context, noteID string) (store.Note, error) {
	if f.getNoteFn != nil {
		return f.getNoteFn(ctx, noteID)
	}
	return store.Note{}, sql.ErrNoRows
}

func (f *fakeStore) ListNotesByFolder(ctx context.Context, folderID string) ([]store.Note, error) {
	if f.listNotesByFolderFn != nil {
		return f.listNotesByFolderFn(ctx, folderID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateNote(context.Context, string, string, string, []string) error { return nil }

func (f *fakeStore) MoveNote(ctx context.Context, noteID, targetFolderID string) error {
	if f.moveNoteFn != nil {
		return f.moveNoteFn(ctx, noteID, targetFolderID)
	}
	return nil
}

func (f *fakeStore) DeleteNote(context.Context, string) error { return nil }

func (f *fakeStore) GetNode(ctx context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
	if f.getNodeFn != nil {
		return f.getNodeFn(ctx, kind, entityID)
	}
	return store.Node{}, sql.ErrNoRows
}

func (f *fakeStore) GetPublication(ctx context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
	if f.getPublicationFn != nil {
		return f.getPublicationFn(ctx, kind, entityID)
	}
	return store.PublicationRecord{}, sql.ErrNoRows
}

func (f *fakeStore) GetPublicationByShareID(ctx context.Context, shareID string) (store.PublicationRecord, error) {
	if f.getPubByShareIDFn != nil {
		return f.getPubByShareIDFn(ctx, shareID)
	}
	return store.PublicationRecord{}, sql.ErrNoRows
}

func (f *fakeStore) PublishCascade(ctx context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
	if f.publishCascadeFn != nil {
		return f.publishCascadeFn(ctx, kind, entityID, ownerID)
	}
	return []store.PublicationRecord{{Kind: kind, EntityID: entityID, OwnerID: ownerID, ShareID: "share-" + entityID, IsActive: true}}, nil
}

func (f *fakeStore) UnpublishCascade(ctx context.Context, kind store.EntityKind, entityID string) (int, error) {
	if f.unpublishCascadeFn != nil {
		return f.unpublishCascadeFn(ctx, kind, entityID)
	}
	return 0, nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, attachment store.Attachment) (store.Attachment, error) {
	return attachment, nil
}

func (f *fakeStore) GetAttachment(context.Context, string) (store.Attachment, error) {
	return store.Attachment{}, sql.ErrNoRows
}

func (f *fakeStore) ListAttachmentsByNote(ctx context.Context, noteID string) ([]store.Attachment, error) {
	if f.listAttachmentsByNoteFn != nil {
		return f.listAttachmentsByNoteFn(ctx, noteID)
	}
	return nil, nil
}

func (f *fakeStore) DeleteAttachment(context.Context, string) error { return nil }

func (f *fakeStore) InsertAuditEvent(context.Context, store.AuditEvent) error { return nil }

type fakeSessions struct {
	mu   sync.Mutex
	data map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: make(map[string]session.TokenData)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, userID int64, displayName string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[tokenHash] = session.TokenData{UserID: userID, DisplayName: displayName}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (session.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[tokenHash]
	if !ok {
		return session.TokenData{}, session.ErrNotFound
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret:   "test-secret",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			PublicBaseURL: "http://carrel.test",
		},
		store:    fs,
		sessions: newFakeSessions(),
		access:   access.NewResolver(fs),
		pw:       authpw.NewService(fs),
	}
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError with code %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
}

func TestSignUpCreatesDefaultSpace(t *testing.T) {
	var createdSpace store.Space
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			user.ID = 42
			return user, nil
		},
		insertSpaceFn: func(_ context.Context, space store.Space) (store.Space, error) {
			createdSpace = space
			return space, nil
		},
	}
	svc := newTestService(fs)

	sess, err := svc.SignUp(context.Background(), "avery@example.com", "password123", "Avery")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if sess.UserID != 42 {
		t.Fatalf("expected session for user 42, got %d", sess.UserID)
	}
	if createdSpace.Name != "My Space" {
		t.Fatalf("expected default space name My Space, got %q", createdSpace.Name)
	}
	if createdSpace.OwnerID != 42 {
		t.Fatalf("expected default space owner 42, got %d", createdSpace.OwnerID)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("expected tokens to be issued")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			user.ID = 7
			return user, nil
		},
		getUserByIDFn: func(_ context.Context, userID int64) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery"}, nil
		},
	}
	svc := newTestService(fs)

	first, err := svc.SignUp(context.Background(), "avery@example.com", "password123", "Avery")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected refresh to rotate the token")
	}
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected reuse of a rotated refresh token to fail")
	}
}

func TestCreateInvitationRejectsSelf(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: 1, Email: email}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInvitation(context.Background(), 1, "me@example.com", 0)
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateInvitationRejectsDuplicate(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: 2, Email: email}, nil
		},
		invitationExistsFn: func(_ context.Context, ownerID, invitedUserID int64) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInvitation(context.Background(), 1, "friend@example.com", 0)
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateInvitationByUserID(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID int64) (store.User, error) {
			return store.User{ID: userID, Email: "friend@example.com"}, nil
		},
	}
	svc := newTestService(fs)

	invitation, err := svc.CreateInvitation(context.Background(), 1, "", 2)
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	if invitation.OwnerID != 1 || invitation.InvitedUserID != 2 {
		t.Fatalf("unexpected invitation: %+v", invitation)
	}
	if invitation.Status != store.InvitationPending {
		t.Fatalf("expected pending status, got %q", invitation.Status)
	}
}

func TestRespondInvitationOnlyInvitedUser(t *testing.T) {
	fs := &fakeStore{
		getInvitationFn: func(_ context.Context, invitationID string) (store.Invitation, error) {
			return store.Invitation{ID: invitationID, OwnerID: 1, InvitedUserID: 2, Status: store.InvitationPending}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RespondInvitation(context.Background(), 3, "inv_1", "accept")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestRespondInvitationAlreadyResponded(t *testing.T) {
	fs := &fakeStore{
		getInvitationFn: func(_ context.Context, invitationID string) (store.Invitation, error) {
			return store.Invitation{ID: invitationID, OwnerID: 1, InvitedUserID: 2, Status: store.InvitationAccepted}, nil
		},
		respondInvitationFn: func(context.Context, string, store.InvitationStatus) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RespondInvitation(context.Background(), 2, "inv_1", "decline")
	assertDomainCode(t, err, "ALREADY_RESPONDED")
}

func TestListSpacesRequiresAcceptedInvitation(t *testing.T) {
	fs := &fakeStore{
		acceptedOwnerIDsFn: func(_ context.Context, invitedUserID int64) ([]int64, error) {
			if invitedUserID == 2 {
				return []int64{1}, nil
			}
			return nil, nil
		},
		listSpacesByOwnerFn: func(_ context.Context, ownerID int64) ([]store.Space, error) {
			return []store.Space{{ID: "sp_1", OwnerID: ownerID, Name: "Shared"}}, nil
		},
	}
	svc := newTestService(fs)

	spaces, err := svc.ListSpaces(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("ListSpaces() with accepted invitation error = %v", err)
	}
	if len(spaces) != 1 {
		t.Fatalf("expected 1 space, got %d", len(spaces))
	}

	_, err = svc.ListSpaces(context.Background(), 3, 1)
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestDeleteSpaceRejectsLastSpace(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, OwnerID: 1, Name: "Only"}, nil
		},
		countSpacesByOwnerFn: func(context.Context, int64) (int, error) {
			return 1, nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteSpace(context.Background(), 1, "sp_1")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateFolderInOthersSpaceForbidden(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, OwnerID: 9, Name: "Theirs"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateFolder(context.Background(), 1, "sp_1", "Notes", "")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestCreateNoteAutoEnrollsIntoPublishedFolder(t *testing.T) {
	var cascadeKind store.EntityKind
	var cascadeID string
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, OwnerID: 1, SpaceID: "sp_1", Name: "Inbox"}, nil
		},
		getPublicationFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
			if kind == store.KindFolder {
				return store.PublicationRecord{Kind: kind, EntityID: entityID, IsActive: true, ShareID: "folder-share"}, nil
			}
			return store.PublicationRecord{}, sql.ErrNoRows
		},
		publishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
			cascadeKind, cascadeID = kind, entityID
			return []store.PublicationRecord{{Kind: kind, EntityID: entityID, OwnerID: ownerID, ShareID: "new-share", IsActive: true}}, nil
		},
	}
	svc := newTestService(fs)

	note, err := svc.CreateNote(context.Background(), 1, "fd_1", "Hello", "body", nil)
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if cascadeKind != store.KindNote || cascadeID != note.ID {
		t.Fatalf("expected new note %s to be auto-published, got %s/%s", note.ID, cascadeKind, cascadeID)
	}
}

func TestCreateNoteSkipsEnrollWhenFolderUnpublished(t *testing.T) {
	published := false
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, OwnerID: 1, SpaceID: "sp_1", Name: "Inbox"}, nil
		},
		getPublicationFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
			return store.PublicationRecord{Kind: kind, EntityID: entityID, IsActive: false, ShareID: "stale"}, nil
		},
		publishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
			published = true
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.CreateNote(context.Background(), 1, "fd_1", "Hello", "body", nil); err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if published {
		t.Fatal("expected no auto-publish into an unpublished folder")
	}
}

func TestMoveNoteDoesNotAutoPublish(t *testing.T) {
	published := false
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, OwnerID: 1, FolderID: "fd_1", Title: "Note"}, nil
		},
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, OwnerID: 1, SpaceID: "sp_1", Name: "Published target"}, nil
		},
		getPublicationFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
			return store.PublicationRecord{Kind: kind, EntityID: entityID, IsActive: true, ShareID: "active"}, nil
		},
		publishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
			published = true
			return nil, nil
		},
	}
	svc := newTestService(fs)

	note, err := svc.MoveNote(context.Background(), 1, "nt_1", "fd_2")
	if err != nil {
		t.Fatalf("MoveNote() error = %v", err)
	}
	if note.FolderID != "fd_2" {
		t.Fatalf("expected note moved to fd_2, got %s", note.FolderID)
	}
	if published {
		t.Fatal("moving into a published folder must not publish the note")
	}
}

func TestMoveNoteRejectsForeignTarget(t *testing.T) {
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, OwnerID: 1, FolderID: "fd_1"}, nil
		},
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, OwnerID: 2}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.MoveNote(context.Background(), 1, "nt_1", "fd_other")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestGetNoteAllowsCollaborator(t *testing.T) {
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, OwnerID: 1, FolderID: "fd_1", Title: "Shared note"}, nil
		},
		acceptedOwnerIDsFn: func(_ context.Context, invitedUserID int64) ([]int64, error) {
			if invitedUserID == 2 {
				return []int64{1}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GetNote(context.Background(), 2, "nt_1"); err != nil {
		t.Fatalf("GetNote() as collaborator error = %v", err)
	}
	_, err := svc.GetNote(context.Background(), 3, "nt_1")
	assertDomainCode(t, err, "FORBIDDEN")
}
