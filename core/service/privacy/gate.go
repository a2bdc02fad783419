// Package privacy owns message visibility: the private-by-default rule for
// gatekeeper-owned mail and the publish/unpublish contract.
package privacy

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"

	"github.com/google/uuid"
)

// PrincipalDirectory answers role-class questions about message owners.
// Implemented against the principals table; the rest of auth is an external
// collaborator.
type PrincipalDirectory interface {
	IsGatekeeper(ctx context.Context, principalID uuid.UUID) (bool, error)
}

// Gate enforces the visibility contract.
type Gate struct {
	messages   out.MessageRepository
	principals PrincipalDirectory
	now        func() time.Time
	log        *logger.Logger
}

func NewGate(messages out.MessageRepository, principals PrincipalDirectory) *Gate {
	return &Gate{
		messages:   messages,
		principals: principals,
		now:        time.Now,
		log:        logger.WithField("component", "privacy_gate"),
	}
}

// ApplyDefault sets the initial visibility at classification time: private
// iff the owning principal belongs to the gatekeeper role class.
func (g *Gate) ApplyDefault(ctx context.Context, msg *domain.Message) error {
	gatekeeper, err := g.principals.IsGatekeeper(ctx, msg.OwnerID)
	if err != nil {
		return err
	}
	return g.messages.UpdateVisibility(ctx, msg.ID, gatekeeper, msg.OwnerID, g.now())
}

// Publish flips a message public. Owner-only, idempotent; attachments are
// published with the parent unless excluded.
func (g *Gate) Publish(ctx context.Context, messageID int64, actorID uuid.UUID, excludeAttachments bool) error {
	return g.setVisibility(ctx, messageID, actorID, false, excludeAttachments)
}

// Unpublish flips a message back to private. Owner-only, idempotent.
// Attachment flags are left alone: each attachment's own flag stays
// authoritative and can be withdrawn individually.
func (g *Gate) Unpublish(ctx context.Context, messageID int64, actorID uuid.UUID) error {
	return g.setVisibility(ctx, messageID, actorID, true, true)
}

func (g *Gate) setVisibility(ctx context.Context, messageID int64, actorID uuid.UUID, private, excludeAttachments bool) error {
	msg, err := g.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.OwnerID != actorID {
		return apperr.Forbidden("only the message owner may change visibility")
	}

	now := g.now()
	if msg.Private != private {
		if err := g.messages.UpdateVisibility(ctx, messageID, private, actorID, now); err != nil {
			return err
		}
	}

	if private || excludeAttachments {
		return nil
	}

	atts, err := g.messages.ListAttachments(ctx, messageID)
	if err != nil {
		return err
	}
	for _, att := range atts {
		if !att.Private {
			continue
		}
		if err := g.messages.UpdateAttachmentVisibility(ctx, att.ID, false, actorID, now); err != nil {
			g.log.WithError(err).Warn("failed to publish attachment: attachment_id=%d", att.ID)
		}
	}
	return nil
}

// PublishAttachment publishes one attachment independently of its parent.
func (g *Gate) PublishAttachment(ctx context.Context, attachmentID int64, actorID uuid.UUID) error {
	return g.setAttachmentVisibility(ctx, attachmentID, actorID, false)
}

// UnpublishAttachment withdraws one attachment independently of its parent.
func (g *Gate) UnpublishAttachment(ctx context.Context, attachmentID int64, actorID uuid.UUID) error {
	return g.setAttachmentVisibility(ctx, attachmentID, actorID, true)
}

func (g *Gate) setAttachmentVisibility(ctx context.Context, attachmentID int64, actorID uuid.UUID, private bool) error {
	att, err := g.messages.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	msg, err := g.messages.GetByID(ctx, att.MessageID)
	if err != nil {
		return err
	}
	if msg.OwnerID != actorID {
		return apperr.Forbidden("only the message owner may change visibility")
	}
	if att.Private == private {
		return nil
	}
	return g.messages.UpdateAttachmentVisibility(ctx, attachmentID, private, actorID, g.now())
}

// ThreadVisible reports the aggregate visibility of a conversation as shown
// to collaborators: public if any member message is public. Per-message
// flags remain authoritative for who may read each message.
func ThreadVisible(msgs []*domain.Message) bool {
	for _, m := range msgs {
		if !m.Private {
			return true
		}
	}
	return false
}
