package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carrel/api/internal/store"
)

// ShareInfo describes one entity's public share link.
type ShareInfo struct {
	ShareID     string    `json:"shareId"`
	ShareURL    string    `json:"shareUrl"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ShareStatus reports the publication state of one entity.
// ParentPublished is informational only; a child is never force-synced
// to its parent.
type ShareStatus struct {
	IsPublished     bool   `json:"isPublished"`
	ShareURL        string `json:"shareUrl,omitempty"`
	ParentPublished *bool  `json:"parentPublished,omitempty"`
}

func (s *Service) shareURL(shareID string) string {
	return s.cfg.PublicBaseURL + "/p/" + shareID
}

// ownedNode loads the node and verifies the actor owns it.
func (s *Service) ownedNode(ctx context.Context, actorID int64, kind store.EntityKind, entityID string) (store.Node, error) {
	if !store.ValidKind(kind) {
		return store.Node{}, validationError("kind must be space, folder, or note", nil)
	}
	node, err := s.store.GetNode(ctx, kind, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Node{}, notFoundError(string(kind) + " not found")
		}
		return store.Node{}, err
	}
	if node.OwnerID != actorID {
		return store.Node{}, forbiddenError("only the owner can manage sharing")
	}
	return node, nil
}

// Publish activates the entity's share link, minting the share id on
// first publish and reusing it forever after, and cascades to every
// descendant in one transaction. Idempotent.
func (s *Service) Publish(ctx context.Context, actorID int64, kind store.EntityKind, entityID string) (ShareInfo, error) {
	node, err := s.ownedNode(ctx, actorID, kind, entityID)
	if err != nil {
		return ShareInfo{}, err
	}

	records, err := s.store.PublishCascade(ctx, kind, entityID, node.OwnerID)
	if err != nil {
		return ShareInfo{}, err
	}
	root := records[0]

	s.audit("share.publish", actorID, kind, entityID, map[string]any{"records": len(records)})
	return ShareInfo{
		ShareID:     root.ShareID,
		ShareURL:    s.shareURL(root.ShareID),
		PublishedAt: root.CreatedAt,
	}, nil
}

// Unpublish deactivates the entity's share link and every descendant's.
// Records that never existed or are already inactive are left alone.
func (s *Service) Unpublish(ctx context.Context, actorID int64, kind store.EntityKind, entityID string) error {
	if _, err := s.ownedNode(ctx, actorID, kind, entityID); err != nil {
		return err
	}
	deactivated, err := s.store.UnpublishCascade(ctx, kind, entityID)
	if err != nil {
		return err
	}
	s.audit("share.unpublish", actorID, kind, entityID, map[string]any{"deactivated": deactivated})
	return nil
}

func (s *Service) GetShareStatus(ctx context.Context, actorID int64, kind store.EntityKind, entityID string) (ShareStatus, error) {
	node, err := s.ownedNode(ctx, actorID, kind, entityID)
	if err != nil {
		return ShareStatus{}, err
	}

	var status ShareStatus
	pub, err := s.store.GetPublication(ctx, kind, entityID)
	switch {
	case err == nil:
		status.IsPublished = pub.IsActive
		status.ShareURL = s.shareURL(pub.ShareID)
	case errors.Is(err, sql.ErrNoRows):
		// never published
	default:
		return ShareStatus{}, err
	}

	if kind == store.KindFolder || kind == store.KindNote {
		parentKind := store.KindSpace
		if kind == store.KindNote {
			parentKind = store.KindFolder
		}
		parentPublished := false
		parentPub, err := s.store.GetPublication(ctx, parentKind, node.ParentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ShareStatus{}, err
		}
		if err == nil {
			parentPublished = parentPub.IsActive
		}
		status.ParentPublished = &parentPublished
	}

	return status, nil
}

// ResolveShare looks up an active share id for unauthenticated public
// reads. Unknown or deactivated share ids are indistinguishable.
func (s *Service) ResolveShare(ctx context.Context, shareID string) (map[string]any, error) {
	record, err := s.store.GetPublicationByShareID(ctx, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("share not found")
		}
		return nil, err
	}

	switch record.Kind {
	case store.KindSpace:
		space, err := s.store.GetSpace(ctx, record.EntityID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"kind":  "space",
			"id":    space.ID,
			"name":  space.Name,
			"color": space.Color,
			"icon":  space.Icon,
		}, nil
	case store.KindFolder:
		folder, err := s.store.GetFolder(ctx, record.EntityID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"kind": "folder",
			"id":   folder.ID,
			"name": folder.Name,
			"icon": folder.Icon,
		}, nil
	default:
		note, err := s.store.GetNote(ctx, record.EntityID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"kind":    "note",
			"id":      note.ID,
			"title":   note.Title,
			"content": note.Content,
			"tags":    note.Tags,
		}, nil
	}
}
