package http

import (
	"caseroute/core/port/out"
	"caseroute/core/service/routing"
	"caseroute/infra/middleware"
	"caseroute/pkg/apperr"
	"caseroute/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ClassificationHandler exposes routing results and the manual override
// surface. Automatic classification itself runs in the worker; this handler
// only reads state and enqueues triggers.
type ClassificationHandler struct {
	messages out.MessageRepository
	bindings out.BindingRepository
	routing  *routing.Service
	producer out.JobProducer
}

func NewClassificationHandler(
	messages out.MessageRepository,
	bindings out.BindingRepository,
	routingSvc *routing.Service,
	producer out.JobProducer,
) *ClassificationHandler {
	return &ClassificationHandler{
		messages: messages,
		bindings: bindings,
		routing:  routingSvc,
		producer: producer,
	}
}

// Register registers classification routes.
func (h *ClassificationHandler) Register(router fiber.Router) {
	messages := router.Group("/messages")
	messages.Get("/:id/classification", h.GetClassification)
	messages.Post("/:id/assign", h.Assign)

	clients := router.Group("/clients")
	clients.Get("/:id/inbox", h.ClientInbox)

	cases := router.Group("/cases")
	cases.Get("/:id/messages", h.CaseMessages)

	contacts := router.Group("/contacts")
	contacts.Post("/:id/reevaluate", h.Reevaluate)
}

// ClassificationResponse is the routing outcome of one message.
type ClassificationResponse struct {
	MessageID  int64       `json:"message_id"`
	State      string      `json:"state"`
	Confidence float64     `json:"confidence,omitempty"`
	ClientID   *int64      `json:"client_id,omitempty"`
	Bindings   interface{} `json:"bindings"`
}

// GetClassification returns the routing state and case bindings of a message.
func (h *ClassificationHandler) GetClassification(c *fiber.Ctx) error {
	firmID, ok := middleware.FirmID(c)
	if !ok {
		return apperr.Unauthorized("")
	}
	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return err
	}
	if msg.FirmID != firmID {
		return apperr.NotFound("message")
	}

	bindings, err := h.bindings.ListByMessage(c.Context(), messageID)
	if err != nil {
		return err
	}

	return response.OK(c, ClassificationResponse{
		MessageID:  msg.ID,
		State:      string(msg.State),
		Confidence: msg.Confidence,
		ClientID:   msg.ClientID,
		Bindings:   bindings,
	})
}

// AssignRequest is the manual assignment payload.
type AssignRequest struct {
	CaseID int64 `json:"case_id"`
}

// Assign binds a message to a case by explicit user action.
func (h *ClassificationHandler) Assign(c *fiber.Ctx) error {
	firmID, ok := middleware.FirmID(c)
	if !ok {
		return apperr.Unauthorized("")
	}
	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.CaseID <= 0 {
		return apperr.InvalidInput("case_id", "must be a positive id")
	}

	msg, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return err
	}
	if msg.FirmID != firmID {
		return apperr.NotFound("message")
	}

	if err := h.routing.AssignManually(c.Context(), messageID, req.CaseID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message_id": messageID, "case_id": req.CaseID})
}

// ClientInbox lists client_inbox messages awaiting manual review.
func (h *ClassificationHandler) ClientInbox(c *fiber.Ctx) error {
	clientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	msgs, total, err := h.messages.ListClientInbox(c.Context(), clientID, limit, offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, msgs, &response.Meta{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(msgs) < total,
	})
}

// CaseMessages lists case bindings for a case.
func (h *ClassificationHandler) CaseMessages(c *fiber.Ctx) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	bindings, total, err := h.bindings.ListByCase(c.Context(), caseID, limit, offset)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, bindings, &response.Meta{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(bindings) < total,
	})
}

// Reevaluate enqueues a re-evaluation pass for messages touched by a changed
// contact. The work itself runs in the worker.
func (h *ClassificationHandler) Reevaluate(c *fiber.Ctx) error {
	firmID, ok := middleware.FirmID(c)
	if !ok {
		return apperr.Unauthorized("")
	}
	contactID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	jobID, err := h.producer.PublishReevaluate(c.Context(), firmID, contactID)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"job_id": jobID, "contact_id": contactID})
}
