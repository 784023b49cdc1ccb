package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veloxpay/backoffice/internal/repository"
)

// AuditService writes immutable audit trail entries for operation
// transitions.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
