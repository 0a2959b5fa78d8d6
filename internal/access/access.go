// Package access resolves which owners' content a user may read.
// Sharing is exactly one hop: an accepted invitation from owner to
// user grants read access to the owner's content and nothing further.
package access

import "context"

// InvitationStore is the slice of storage the resolver needs.
type InvitationStore interface {
	AcceptedOwnerIDs(ctx context.Context, invitedUserID int64) ([]int64, error)
}

type Resolver struct {
	store InvitationStore
}

func NewResolver(store InvitationStore) *Resolver {
	return &Resolver{store: store}
}

// AccessibleOwnerIDs returns the requesting user plus every owner with
// an accepted invitation to them. Pending and declined invitations
// grant nothing. The result is a set; order is not significant.
func (r *Resolver) AccessibleOwnerIDs(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	ownerIDs, err := r.store.AcceptedOwnerIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	accessible := make(map[int64]struct{}, len(ownerIDs)+1)
	accessible[userID] = struct{}{}
	for _, ownerID := range ownerIDs {
		accessible[ownerID] = struct{}{}
	}
	return accessible, nil
}

// CanAccess reports whether userID may read ownerID's content. Denial
// is a false return, not an error; callers map false to Forbidden.
func (r *Resolver) CanAccess(ctx context.Context, ownerID, userID int64) (bool, error) {
	if ownerID == userID {
		return true, nil
	}
	accessible, err := r.AccessibleOwnerIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := accessible[ownerID]
	return ok, nil
}
