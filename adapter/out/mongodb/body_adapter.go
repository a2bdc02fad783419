// Package mongodb implements the body archive on MongoDB.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"caseroute/core/port/out"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// Body Archive Adapter
// =============================================================================

const (
	collectionBodies      = "message_bodies"
	collectionAttachments = "attachment_blobs"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB
)

// BodyAdapter stores raw bodies and attachment payloads. The relational rows
// carry only a snippet; everything bulky lives here.
type BodyAdapter struct {
	bodies      *mongo.Collection
	attachments *mongo.Collection
}

func NewBodyAdapter(db *mongo.Database) *BodyAdapter {
	return &BodyAdapter{
		bodies:      db.Collection(collectionBodies),
		attachments: db.Collection(collectionAttachments),
	}
}

// EnsureIndexes creates the lookup and TTL indexes.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.bodies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "firm_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	})
	if err != nil {
		return err
	}

	_, err = a.attachments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "attachment_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "message_id", Value: 1}},
		},
	})
	return err
}

// =============================================================================
// Document Models
// =============================================================================

type bodyDocument struct {
	MessageID int64  `bson:"message_id"`
	FirmID    string `bson:"firm_id"`

	// Content (potentially compressed)
	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize int64 `bson:"original_size"`
	StoredSize   int64 `bson:"stored_size"`

	ArchivedAt time.Time `bson:"archived_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

type attachmentBlobDocument struct {
	AttachmentID int64  `bson:"attachment_id"`
	MessageID    int64  `bson:"message_id"`
	FileName     string `bson:"file_name"`
	Data         []byte `bson:"data"`
	Size         int64  `bson:"size"`

	ArchivedAt time.Time `bson:"archived_at"`
}

// bodyTTL keeps archived bodies around long enough for re-evaluation and
// review, then lets the TTL monitor reclaim them.
const bodyTTL = 365 * 24 * time.Hour

// =============================================================================
// Operations
// =============================================================================

func (a *BodyAdapter) SaveBody(ctx context.Context, messageID int64, firmID uuid.UUID, text, html string) error {
	textBytes := []byte(text)
	htmlBytes := []byte(html)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	isCompressed := false
	if originalSize > compressionThreshold {
		var err error
		if textBytes, err = compress(textBytes); err != nil {
			return fmt.Errorf("failed to compress text: %w", err)
		}
		if htmlBytes, err = compress(htmlBytes); err != nil {
			return fmt.Errorf("failed to compress html: %w", err)
		}
		isCompressed = true
	}

	now := time.Now()
	doc := &bodyDocument{
		MessageID:    messageID,
		FirmID:       firmID.String(),
		Text:         textBytes,
		HTML:         htmlBytes,
		IsCompressed: isCompressed,
		OriginalSize: originalSize,
		StoredSize:   int64(len(textBytes) + len(htmlBytes)),
		ArchivedAt:   now,
		ExpiresAt:    now.Add(bodyTTL),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := a.bodies.ReplaceOne(ctx, bson.M{"message_id": messageID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save message body: %w", err)
	}
	return nil
}

func (a *BodyAdapter) GetBodyText(ctx context.Context, messageID int64) (string, error) {
	var doc bodyDocument
	err := a.bodies.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", apperr.NotFound("message body")
		}
		return "", fmt.Errorf("failed to get message body: %w", err)
	}

	text := doc.Text
	if doc.IsCompressed {
		if text, err = decompress(doc.Text); err != nil {
			return "", fmt.Errorf("failed to decompress body: %w", err)
		}
	}
	return string(text), nil
}

func (a *BodyAdapter) SaveAttachment(ctx context.Context, attachmentID, messageID int64, fileName string, data []byte) error {
	doc := &attachmentBlobDocument{
		AttachmentID: attachmentID,
		MessageID:    messageID,
		FileName:     fileName,
		Data:         data,
		Size:         int64(len(data)),
		ArchivedAt:   time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := a.attachments.ReplaceOne(ctx, bson.M{"attachment_id": attachmentID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save attachment blob: %w", err)
	}
	return nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

var _ out.BodyArchive = (*BodyAdapter)(nil)
