package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"ambia/internal/database"
	"ambia/internal/models"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const auditWriteTimeout = 5 * time.Second

// AuditService writes every think decision, with the context that produced it,
// to MongoDB. Writes are best-effort.
type AuditService struct {
	collection *mongo.Collection
}

// NewAuditService creates a new audit service
func NewAuditService(mongoDB *database.MongoDB) *AuditService {
	return &AuditService{
		collection: mongoDB.Collection(database.CollectionDecisionAudit),
	}
}

// RecordDecision stores decision. Failures are logged and swallowed.
func (s *AuditService) RecordDecision(ctx context.Context, decision *models.Decision) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if _, err := s.collection.InsertOne(writeCtx, decision); err != nil {
		log.Printf("⚠️ [AUDIT] Failed to record decision %s for user %s: %v", decision.ID, decision.UserID, err)
	}
}

// Recent returns the user's latest decisions, newest first
func (s *AuditService) Recent(ctx context.Context, userID string, limit int64) ([]models.Decision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "decidedAt", Value: -1}}).SetLimit(limit)

	cursor, err := s.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer cursor.Close(ctx)

	var decisions []models.Decision
	if err := cursor.All(ctx, &decisions); err != nil {
		return nil, fmt.Errorf("failed to decode decisions: %w", err)
	}
	return decisions, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewDecisionID returns a ULID so decisions sort by time
func NewDecisionID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
