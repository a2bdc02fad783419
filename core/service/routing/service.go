package routing

import (
	"context"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/core/service/directory"
	"caseroute/core/service/privacy"
	"caseroute/pkg/logger"
)

// reevalBatchLimit bounds one re-evaluation pass; the trigger is re-enqueued
// by the caller if more messages remain.
const reevalBatchLimit = 500

// Service drives the engine and commits its decisions. It is the single
// write path for classification state, shared by live ingestion, backfill
// and re-evaluation so they cannot race each other into inconsistent rows.
type Service struct {
	engine   *Engine
	messages out.MessageRepository
	cases    out.CaseRepository
	contacts out.ContactRepository
	bodies   out.BodyArchive
	gate     *privacy.Gate
	log      *logger.Logger
}

// NewService wires the engine to its stores. bodies may be nil when no
// archive is configured; classification then scores on metadata alone.
func NewService(
	engine *Engine,
	messages out.MessageRepository,
	cases out.CaseRepository,
	contacts out.ContactRepository,
	bodies out.BodyArchive,
	gate *privacy.Gate,
) *Service {
	return &Service{
		engine:   engine,
		messages: messages,
		cases:    cases,
		contacts: contacts,
		bodies:   bodies,
		gate:     gate,
		log:      logger.WithField("component", "routing_service"),
	}
}

// reevaluableStates is the state-gate shared by every automatic write path:
// settled decisions are never touched without explicit user action.
var reevaluableStates = []domain.ClassificationState{domain.StatePending, domain.StateUncertain}

// ClassifyAndCommit classifies one message and commits the outcome as a
// transactional state-gated update. Safe under concurrent delivery of the
// same message: whichever path commits first wins, the loser is a no-op.
func (s *Service) ClassifyAndCommit(ctx context.Context, messageID int64) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if !msg.State.Reevaluable() {
		return nil
	}
	firstPass := msg.State == domain.StatePending

	// The archive is optional infrastructure; without it, or when the body
	// is missing, scoring works on subject and snippet instead of halting.
	var bodyText string
	if s.bodies != nil {
		bodyText, err = s.bodies.GetBodyText(ctx, messageID)
		if err != nil {
			s.log.WithError(err).Warn("body unavailable for scoring: message_id=%d", messageID)
			bodyText = ""
		}
	}

	result, err := s.engine.Classify(ctx, msg, bodyText)
	if err != nil {
		return err
	}

	applied, err := s.messages.ApplyDecision(ctx, messageID, result.Decision, reevaluableStates)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Debug("decision not applied, state changed concurrently: message_id=%d", messageID)
		return nil
	}

	if caseID, _, method, ok := result.Decision.Case(); ok {
		if err := s.cases.TouchActivity(ctx, caseID, msg.ReceivedAt); err != nil {
			s.log.WithError(err).Warn("failed to touch case activity: case_id=%d", caseID)
		}
		s.log.Info("message classified: message_id=%d case_id=%d method=%s", messageID, caseID, method)
	} else {
		s.log.Info("message routed: message_id=%d state=%s", messageID, result.Decision.State())
	}

	// Default visibility is set once, at first classification.
	if firstPass {
		if err := s.gate.ApplyDefault(ctx, msg); err != nil {
			s.log.WithError(err).Warn("failed to set default visibility: message_id=%d", messageID)
		}
	}

	return nil
}

// Reevaluate re-runs classification for messages touched by the given
// contact's address. Only Pending/Uncertain messages are considered; rows
// already bound to a case by a confident decision are left alone.
func (s *Service) Reevaluate(ctx context.Context, contactID int64) (int, error) {
	contact, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		return 0, err
	}

	address := directory.NormalizeAddress(contact.Address)
	if address == "" {
		s.log.Warn("reevaluation skipped, contact address malformed: contact_id=%d", contactID)
		return 0, nil
	}

	msgs, err := s.messages.ListReevaluable(ctx, contact.FirmID, address, reevalBatchLimit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, msg := range msgs {
		if err := s.ClassifyAndCommit(ctx, msg.ID); err != nil {
			s.log.WithError(err).Warn("reevaluation failed for message: message_id=%d", msg.ID)
			continue
		}
		processed++
	}

	s.log.Info("reevaluation done: contact_id=%d candidates=%d processed=%d", contactID, len(msgs), processed)
	return processed, nil
}

// AssignManually binds a message to a case by explicit user action. Unlike
// automatic paths it may override any non-pending state, and it records the
// manual method so thread continuity inherits from it afterwards.
func (s *Service) AssignManually(ctx context.Context, messageID, caseID int64) error {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return err
	}

	dec := domain.Classified(caseID, 1.0, domain.MatchMethodManual)
	expect := []domain.ClassificationState{
		domain.StatePending,
		domain.StateUncertain,
		domain.StateClientInbox,
		domain.StateCourtUnassigned,
		domain.StateClassified,
	}
	applied, err := s.messages.ApplyDecision(ctx, messageID, dec, expect)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	s.log.Info("message manually assigned: message_id=%d case_id=%d", messageID, caseID)
	return nil
}
