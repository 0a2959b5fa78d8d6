// Package order merges per-user custom ordering overlays with the
// natural creation-time order of siblings in one scope. Overlays are a
// real mapping from scope key to ordered id list; they are flattened
// only at the persistence boundary.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carrel/api/internal/store"
)

var (
	ErrMalformedScope  = errors.New("malformed scope key")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotSibling      = errors.New("entity is not a current sibling of scope")
)

// Scope identifies one ordering context: a user's space list, the
// folder list of one space, or the note list of one folder.
type Scope struct {
	Kind     store.EntityKind
	ParentID string
}

func (s Scope) Key() string {
	switch s.Kind {
	case store.KindSpace:
		return "spaces:" + s.ParentID
	case store.KindFolder:
		return "folders:" + s.ParentID
	default:
		return "notes:" + s.ParentID
	}
}

// ParseScopeKey accepts "spaces:<ownerID>", "folders:<spaceID>" and
// "notes:<folderID>".
func ParseScopeKey(key string) (Scope, error) {
	prefix, parentID, ok := strings.Cut(key, ":")
	if !ok || parentID == "" || strings.Contains(parentID, ":") {
		return Scope{}, fmt.Errorf("%w: %q", ErrMalformedScope, key)
	}
	switch prefix {
	case "spaces":
		return Scope{Kind: store.KindSpace, ParentID: parentID}, nil
	case "folders":
		return Scope{Kind: store.KindFolder, ParentID: parentID}, nil
	case "notes":
		return Scope{Kind: store.KindNote, ParentID: parentID}, nil
	default:
		return Scope{}, fmt.Errorf("%w: %q", ErrMalformedScope, key)
	}
}

// OverlayStore persists one ordered id list per (user, scope).
type OverlayStore interface {
	GetOverlay(ctx context.Context, userID int64, scopeKey string) ([]string, error)
	SaveOverlay(ctx context.Context, userID int64, scopeKey string, ids []string) error
}

// SiblingSource yields the current members of a scope in creation order.
type SiblingSource interface {
	SiblingIDs(ctx context.Context, kind store.EntityKind, parentID string) ([]string, error)
}

type Store struct {
	overlays OverlayStore
	siblings SiblingSource
}

func New(overlays OverlayStore, siblings SiblingSource) *Store {
	return &Store{overlays: overlays, siblings: siblings}
}

// GetOrder returns the overlay ids in overlay order followed by every
// remaining sibling in creation order. Stale overlay entries are
// dropped silently and nothing is written back; the pruned list is
// only persisted by the next Reorder.
func (s *Store) GetOrder(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	return s.merged(ctx, userID, scope)
}

// Reorder moves entityID to newIndex within the merged list and
// persists the full result as the new overlay. The merge is
// self-healing, but newIndex is validated strictly: anything outside
// [0, len) is rejected, never clamped.
func (s *Store) Reorder(ctx context.Context, userID int64, scope Scope, entityID string, newIndex int) ([]string, error) {
	merged, err := s.merged(ctx, userID, scope)
	if err != nil {
		return nil, err
	}

	current := -1
	for i, id := range merged {
		if id == entityID {
			current = i
			break
		}
	}
	if current < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotSibling, entityID)
	}
	if newIndex < 0 || newIndex >= len(merged) {
		return nil, fmt.Errorf("%w: %d with %d siblings", ErrIndexOutOfRange, newIndex, len(merged))
	}

	reordered := make([]string, 0, len(merged))
	reordered = append(reordered, merged[:current]...)
	reordered = append(reordered, merged[current+1:]...)
	reordered = append(reordered[:newIndex], append([]string{entityID}, reordered[newIndex:]...)...)

	if err := s.overlays.SaveOverlay(ctx, userID, scope.Key(), reordered); err != nil {
		return nil, err
	}
	return reordered, nil
}

func (s *Store) merged(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	base, err := s.siblings.SiblingIDs(ctx, scope.Kind, scope.ParentID)
	if err != nil {
		return nil, err
	}
	overlay, err := s.overlays.GetOverlay(ctx, userID, scope.Key())
	if err != nil {
		return nil, err
	}

	inBase := make(map[string]struct{}, len(base))
	for _, id := range base {
		inBase[id] = struct{}{}
	}

	merged := make([]string, 0, len(base))
	seen := make(map[string]struct{}, len(base))
	for _, id := range overlay {
		if _, ok := inBase[id]; !ok {
			continue // stale reference, pruned lazily
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range base {
		if _, ok := seen[id]; ok {
			continue
		}
		merged = append(merged, id)
	}
	return merged, nil
}
