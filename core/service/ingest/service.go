// Package ingest turns provider messages into durable message records.
package ingest

import (
	"context"
	"regexp"
	"strings"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/core/service/directory"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
)

const snippetLength = 200

// referencePattern matches court/file reference tokens like "4440/2025".
var referencePattern = regexp.MustCompile(`\b\d{1,6}/\d{2,4}\b`)

// Service ingests messages. Ingestion is idempotent on the provider's
// external id, so at-least-once delivery and backfill retries never create
// duplicate rows.
type Service struct {
	messages out.MessageRepository
	bodies   out.BodyArchive
	log      *logger.Logger
}

func NewService(messages out.MessageRepository, bodies out.BodyArchive) *Service {
	return &Service{
		messages: messages,
		bodies:   bodies,
		log:      logger.WithField("component", "ingest"),
	}
}

// IngestProvider stores one provider message for the firm. Returns the
// message id and whether a new row was created. contactAddress is the
// correspondent the message was fetched for; it decides the direction.
func (s *Service) IngestProvider(ctx context.Context, firmID, ownerID uuid.UUID, contactAddress string, pm *out.ProviderMessage) (int64, bool, error) {
	existing, err := s.messages.GetByExternalID(ctx, firmID, pm.ExternalID)
	if err == nil && existing != nil {
		return existing.ID, false, nil
	}
	if err != nil && !apperr.IsNotFound(err) {
		return 0, false, err
	}

	direction := domain.DirectionOutbound
	if directory.NormalizeAddress(pm.From) == directory.NormalizeAddress(contactAddress) {
		direction = domain.DirectionInbound
	}

	msg := &domain.Message{
		FirmID:          firmID,
		ExternalID:      pm.ExternalID,
		ConversationID:  pm.ConversationID,
		FromAddress:     directory.NormalizeAddress(pm.From),
		ToAddresses:     normalizeAll(pm.To),
		CcAddresses:     normalizeAll(pm.Cc),
		Direction:       direction,
		Subject:         pm.Subject,
		Snippet:         Snippet(pm.BodyText),
		ReferenceTokens: ExtractReferences(pm.Subject + "\n" + pm.BodyText),
		HasAttachments:  len(pm.Attachments) > 0,
		State:           domain.StatePending,
		Private:         true, // conservative until the privacy gate runs
		OwnerID:         ownerID,
		ReceivedAt:      pm.ReceivedAt,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return 0, false, err
	}

	// The archive is optional; with it down or absent the metadata row still
	// exists and scoring falls back to the snippet.
	if s.bodies != nil {
		if err := s.bodies.SaveBody(ctx, msg.ID, firmID, pm.BodyText, pm.BodyHTML); err != nil {
			s.log.WithError(err).Warn("failed to archive body: message_id=%d", msg.ID)
		}
	}

	return msg.ID, true, nil
}

// ExtractReferences pulls deduplicated reference tokens out of text.
func ExtractReferences(text string) []string {
	found := referencePattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(found))
	refs := make([]string, 0, len(found))
	for _, f := range found {
		if seen[f] {
			continue
		}
		seen[f] = true
		refs = append(refs, f)
	}
	return refs
}

// Snippet collapses whitespace and truncates body text for the metadata row.
func Snippet(body string) string {
	fields := strings.Fields(body)
	s := strings.Join(fields, " ")
	runes := []rune(s)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength])
	}
	return s
}

func normalizeAll(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if n := directory.NormalizeAddress(a); n != "" {
			result = append(result, n)
		}
	}
	return result
}
