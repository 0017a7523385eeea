package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records terminal hold and session transitions for the
// organizer dashboards. Writes happen after the ledger transaction
// commits and never block or fail the request path.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID          uuid.UUID `bson:"_id"`
	Action      string    `bson:"action"`
	HolderToken string    `bson:"holder_token"`
	Timestamp   time.Time `bson:"timestamp"`
	Data        bson.M    `bson:"data"`
}

func (a *AuditLogger) Record(ctx context.Context, action, holderToken string, data map[string]interface{}) {
	log := AuditLog{
		ID:          uuid.New(),
		Action:      action,
		HolderToken: holderToken,
		Timestamp:   time.Now().UTC(),
		Data:        bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
	}
}
