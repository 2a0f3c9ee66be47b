// Package mongo implements the session store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	sessionsCollection = "chat_sessions"
	messagesCollection = "chat_messages"
)

type sessionDoc struct {
	ID                 string    `bson:"_id"`
	UserID             string    `bson:"user_id"`
	AgentID            string    `bson:"agent_id"`
	Title              string    `bson:"title"`
	LastMessagePreview string    `bson:"last_message_preview"`
	MessageCount       int64     `bson:"message_count"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func (d sessionDoc) toDomain() domain.ChatSession {
	return domain.ChatSession{
		ID:                 d.ID,
		UserID:             d.UserID,
		AgentID:            domain.AgentMode(d.AgentID),
		Title:              d.Title,
		LastMessagePreview: d.LastMessagePreview,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
}

// messageDoc carries seq, the per-session append counter used to break
// created_at ties
type messageDoc struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	UserID    string    `bson:"user_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Seq       int64     `bson:"seq"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store implements domain.SessionRepository and domain.MessageRepository
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
}

// Connect opens a client for cfg and ensures the store's indexes
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		sessions: db.Collection(sessionsCollection),
		messages: db.Collection(messagesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "agent_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Create upserts with $setOnInsert so a repeated session id changes nothing
func (s *Store) Create(ctx context.Context, session *domain.ChatSession) error {
	update := bson.M{"$setOnInsert": bson.M{
		"user_id":              session.UserID,
		"agent_id":             string(session.AgentID),
		"title":                session.Title,
		"last_message_preview": "",
		"message_count":        int64(0),
		"created_at":           session.CreatedAt,
		"updated_at":           session.UpdatedAt,
	}}
	_, err := s.sessions.UpdateByID(ctx, session.ID, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (*domain.ChatSession, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess := doc.toDomain()
	return &sess, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, agentID domain.AgentMode) ([]domain.ChatSession, error) {
	filter := bson.M{"user_id": userID}
	if agentID != "" {
		filter["agent_id"] = string(agentID)
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "created_at", Value: -1}})

	cursor, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []domain.ChatSession{}
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) error {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrSessionNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// Append claims the next sequence number from the owning session, which also
// proves the session exists for this user, then inserts the message.
func (s *Store) Append(ctx context.Context, message *domain.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}

	update := bson.M{
		"$inc": bson.M{"message_count": int64(1)},
		"$set": bson.M{"last_message_preview": domain.PreviewFromContent(message.Content)},
		"$max": bson.M{"updated_at": message.CreatedAt},
	}
	var sess sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": message.SessionID, "user_id": message.UserID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("failed to touch session: %w", err)
	}

	id := message.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = s.messages.InsertOne(ctx, messageDoc{
		ID:        id.String(),
		SessionID: message.SessionID,
		UserID:    message.UserID,
		Role:      string(message.Role),
		Content:   message.Content,
		Seq:       sess.MessageCount,
		CreatedAt: message.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []domain.Message{}
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", doc.ID, err)
		}
		messages = append(messages, domain.Message{
			ID:        id,
			SessionID: doc.SessionID,
			UserID:    doc.UserID,
			Role:      domain.MessageRole(doc.Role),
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
