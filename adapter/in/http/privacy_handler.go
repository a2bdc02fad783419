package http

import (
	"caseroute/core/service/privacy"
	"caseroute/pkg/apperr"
	"caseroute/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// PrivacyHandler exposes the publish/unpublish contract. Ownership checks
// live in the gate; the handler only resolves the acting principal.
type PrivacyHandler struct {
	gate *privacy.Gate
}

func NewPrivacyHandler(gate *privacy.Gate) *PrivacyHandler {
	return &PrivacyHandler{gate: gate}
}

// Register registers visibility routes.
func (h *PrivacyHandler) Register(router fiber.Router) {
	messages := router.Group("/messages")
	messages.Post("/:id/publish", h.Publish)
	messages.Post("/:id/unpublish", h.Unpublish)

	attachments := router.Group("/attachments")
	attachments.Post("/:id/publish", h.PublishAttachment)
	attachments.Post("/:id/unpublish", h.UnpublishAttachment)
}

// PublishRequest is the message publish payload.
type PublishRequest struct {
	ExcludeAttachments bool `json:"exclude_attachments"`
}

// Publish makes a message visible to collaborators. Attachments are published
// with it unless excluded.
func (h *PrivacyHandler) Publish(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req PublishRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}

	if err := h.gate.Publish(c.Context(), messageID, actorID, req.ExcludeAttachments); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message_id": messageID, "private": false})
}

// Unpublish withdraws a message from collaborators. Attachment flags are left
// alone; each stays individually controllable.
func (h *PrivacyHandler) Unpublish(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.gate.Unpublish(c.Context(), messageID, actorID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message_id": messageID, "private": true})
}

// PublishAttachment publishes one attachment independently of its parent.
func (h *PrivacyHandler) PublishAttachment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	attachmentID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.gate.PublishAttachment(c.Context(), attachmentID, actorID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"attachment_id": attachmentID, "private": false})
}

// UnpublishAttachment withdraws one attachment independently of its parent.
func (h *PrivacyHandler) UnpublishAttachment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	attachmentID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.gate.UnpublishAttachment(c.Context(), attachmentID, actorID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"attachment_id": attachmentID, "private": true})
}
