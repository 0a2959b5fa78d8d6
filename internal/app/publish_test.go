package app

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"carrel/api/internal/store"
	"carrel/api/internal/util"
)

func TestPublishUnknownEntity(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.Publish(context.Background(), 1, store.KindNote, "nt_missing")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestPublishRejectsInvalidKind(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.Publish(context.Background(), 1, "workspace", "x")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestPublishOwnerOnly(t *testing.T) {
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 9}, nil
		},
		acceptedOwnerIDsFn: func(context.Context, int64) ([]int64, error) {
			// Read access is not publish access.
			return []int64{9}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Publish(context.Background(), 1, store.KindFolder, "fd_1")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestPublishReturnsRootShareLink(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 1, ParentID: "sp_1"}, nil
		},
		publishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
			return []store.PublicationRecord{
				{Kind: kind, EntityID: entityID, OwnerID: ownerID, ShareID: "root-share", IsActive: true, CreatedAt: createdAt},
				{Kind: store.KindNote, EntityID: "nt_1", OwnerID: ownerID, ShareID: "child-share", IsActive: true},
			}, nil
		},
	}
	svc := newTestService(fs)

	info, err := svc.Publish(context.Background(), 1, store.KindFolder, "fd_1")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if info.ShareID != "root-share" {
		t.Fatalf("expected root record's share id, got %s", info.ShareID)
	}
	if info.ShareURL != "http://carrel.test/p/root-share" {
		t.Fatalf("unexpected share url %s", info.ShareURL)
	}
	if !info.PublishedAt.Equal(createdAt) {
		t.Fatalf("expected publishedAt %v, got %v", createdAt, info.PublishedAt)
	}
}

func TestUnpublishIsNoopSafe(t *testing.T) {
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 1}, nil
		},
		unpublishCascadeFn: func(context.Context, store.EntityKind, string) (int, error) {
			return 0, nil
		},
	}
	svc := newTestService(fs)

	if err := svc.Unpublish(context.Background(), 1, store.KindNote, "nt_never_published"); err != nil {
		t.Fatalf("Unpublish() on never-published entity error = %v", err)
	}
}

func TestShareStatusReportsParent(t *testing.T) {
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 1, ParentID: "sp_1"}, nil
		},
		getPublicationFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
			if kind == store.KindSpace {
				return store.PublicationRecord{Kind: kind, EntityID: entityID, ShareID: "space-share", IsActive: true}, nil
			}
			return store.PublicationRecord{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	status, err := svc.GetShareStatus(context.Background(), 1, store.KindFolder, "fd_1")
	if err != nil {
		t.Fatalf("GetShareStatus() error = %v", err)
	}
	if status.IsPublished {
		t.Fatal("expected folder to be unpublished")
	}
	if status.ShareURL != "" {
		t.Fatalf("expected no share url for never-published folder, got %s", status.ShareURL)
	}
	if status.ParentPublished == nil || !*status.ParentPublished {
		t.Fatal("expected parentPublished true")
	}
}

func TestShareStatusKeepsLinkWhileInactive(t *testing.T) {
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 1}, nil
		},
		getPublicationFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.PublicationRecord, error) {
			return store.PublicationRecord{Kind: kind, EntityID: entityID, ShareID: "stable-id", IsActive: false}, nil
		},
	}
	svc := newTestService(fs)

	status, err := svc.GetShareStatus(context.Background(), 1, store.KindSpace, "sp_1")
	if err != nil {
		t.Fatalf("GetShareStatus() error = %v", err)
	}
	if status.IsPublished {
		t.Fatal("expected unpublished status")
	}
	if !strings.HasSuffix(status.ShareURL, "/p/stable-id") {
		t.Fatalf("expected the dormant share link to be reported, got %s", status.ShareURL)
	}
}

func TestResolveShareUnknownID(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.ResolveShare(context.Background(), "nope")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestResolveShareReturnsNote(t *testing.T) {
	fs := &fakeStore{
		getPubByShareIDFn: func(_ context.Context, shareID string) (store.PublicationRecord, error) {
			return store.PublicationRecord{Kind: store.KindNote, EntityID: "nt_1", ShareID: shareID, IsActive: true}, nil
		},
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, OwnerID: 1, Title: "Public note", Content: "hello", Tags: []string{"go"}}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ResolveShare(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if payload["kind"] != "note" || payload["title"] != "Public note" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

// pubState emulates the store's create-or-reactivate contract so the
// share-id lifecycle can be exercised through the service.
type pubState struct {
	records map[string]store.PublicationRecord
}

func newPubState() *pubState {
	return &pubState{records: make(map[string]store.PublicationRecord)}
}

func (p *pubState) publish(kind store.EntityKind, entityID string, ownerID int64) []store.PublicationRecord {
	key := string(kind) + ":" + entityID
	record, ok := p.records[key]
	if !ok {
		record = store.PublicationRecord{
			Kind:      kind,
			EntityID:  entityID,
			OwnerID:   ownerID,
			ShareID:   util.NewShareID(),
			CreatedAt: time.Now(),
		}
	}
	record.IsActive = true
	p.records[key] = record
	return []store.PublicationRecord{record}
}

func (p *pubState) unpublish(kind store.EntityKind, entityID string) int {
	key := string(kind) + ":" + entityID
	record, ok := p.records[key]
	if !ok || !record.IsActive {
		return 0
	}
	record.IsActive = false
	p.records[key] = record
	return 1
}

func TestShareIDStableAcrossRepublish(t *testing.T) {
	pubs := newPubState()
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, kind store.EntityKind, entityID string) (store.Node, error) {
			return store.Node{Kind: kind, ID: entityID, OwnerID: 1}, nil
		},
		publishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string, ownerID int64) ([]store.PublicationRecord, error) {
			return pubs.publish(kind, entityID, ownerID), nil
		},
		unpublishCascadeFn: func(_ context.Context, kind store.EntityKind, entityID string) (int, error) {
			return pubs.unpublish(kind, entityID), nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	first, err := svc.Publish(ctx, 1, store.KindNote, "nt_1")
	if err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	again, err := svc.Publish(ctx, 1, store.KindNote, "nt_1")
	if err != nil {
		t.Fatalf("idempotent Publish() error = %v", err)
	}
	if again.ShareID != first.ShareID {
		t.Fatalf("publish is not idempotent: %s vs %s", first.ShareID, again.ShareID)
	}

	if err := svc.Unpublish(ctx, 1, store.KindNote, "nt_1"); err != nil {
		t.Fatalf("Unpublish() error = %v", err)
	}
	republished, err := svc.Publish(ctx, 1, store.KindNote, "nt_1")
	if err != nil {
		t.Fatalf("republish error = %v", err)
	}
	if republished.ShareID != first.ShareID {
		t.Fatalf("share id changed across unpublish/republish: %s vs %s", first.ShareID, republished.ShareID)
	}
}
