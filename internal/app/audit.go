package app

import (
	"context"
	"log"
	"time"

	"carrel/api/internal/store"
)

// audit records a mutating operation without blocking the caller. The
// write runs on its own goroutine with a bounded timeout; failures are
// logged and swallowed.
func (s *Service) audit(eventType string, actorID int64, kind store.EntityKind, entityID string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
			EventType:  eventType,
			ActorID:    actorID,
			EntityType: string(kind),
			EntityID:   entityID,
			Payload:    payload,
		})
		if err != nil {
			log.Printf("audit: %s %s/%s: %v", eventType, kind, entityID, err)
		}
	}()
}
