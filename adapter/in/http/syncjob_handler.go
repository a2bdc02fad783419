package http

import (
	"caseroute/core/domain"
	"caseroute/core/service/backfill"
	"caseroute/pkg/apperr"
	"caseroute/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// SyncJobHandler exposes the historical backfill lifecycle: start, status,
// cancel. Execution happens in the worker.
type SyncJobHandler struct {
	manager *backfill.Manager
}

func NewSyncJobHandler(manager *backfill.Manager) *SyncJobHandler {
	return &SyncJobHandler{manager: manager}
}

// Register registers sync job routes.
func (h *SyncJobHandler) Register(router fiber.Router) {
	jobs := router.Group("/sync-jobs")
	jobs.Post("/", h.Start)
	jobs.Get("/:id", h.Get)
	jobs.Post("/:id/cancel", h.Cancel)
}

// StartSyncRequest is the backfill start payload.
type StartSyncRequest struct {
	ContactID int64 `json:"contact_id"`
}

// SyncJobResponse is the job status view.
type SyncJobResponse struct {
	ID              int64   `json:"id"`
	ContactID       int64   `json:"contact_id"`
	ContactAddress  string  `json:"contact_address"`
	CaseID          *int64  `json:"case_id,omitempty"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	SyncedCount     int     `json:"synced_count"`
	TotalCount      int     `json:"total_count"`
	AttachmentCount int     `json:"attachment_count"`
	RetryCount      int     `json:"retry_count"`
	ErrorReason     string  `json:"error_reason,omitempty"`
}

func toSyncJobResponse(job *domain.SyncJob) SyncJobResponse {
	return SyncJobResponse{
		ID:              job.ID,
		ContactID:       job.ContactID,
		ContactAddress:  job.ContactAddress,
		CaseID:          job.CaseID,
		Status:          string(job.Status),
		Progress:        job.Progress(),
		SyncedCount:     job.SyncedCount,
		TotalCount:      job.TotalCount,
		AttachmentCount: job.AttachmentCount,
		RetryCount:      job.RetryCount,
		ErrorReason:     job.ErrorReason,
	}
}

// Start creates a backfill job for a history-enabled contact and enqueues it.
func (h *SyncJobHandler) Start(c *fiber.Ctx) error {
	firmID, principalID, err := identity(c)
	if err != nil {
		return err
	}

	var req StartSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.ContactID <= 0 {
		return apperr.InvalidInput("contact_id", "must be a positive id")
	}

	job, err := h.manager.Start(c.Context(), firmID, principalID, req.ContactID)
	if err != nil {
		return err
	}
	return response.Created(c, toSyncJobResponse(job))
}

// Get returns one job's status and progress.
func (h *SyncJobHandler) Get(c *fiber.Ctx) error {
	firmID, _, err := identity(c)
	if err != nil {
		return err
	}
	jobID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.manager.Get(c.Context(), firmID, jobID)
	if err != nil {
		return err
	}
	return response.OK(c, toSyncJobResponse(job))
}

// Cancel requests cooperative cancellation of a running job.
func (h *SyncJobHandler) Cancel(c *fiber.Ctx) error {
	firmID, _, err := identity(c)
	if err != nil {
		return err
	}
	jobID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Cancel(c.Context(), firmID, jobID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"id": jobID, "cancel_requested": true})
}
