package privacy

import (
	"context"
	"testing"
	"time"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
)

type stubMessages struct {
	messages    map[int64]*domain.Message
	attachments map[int64]*domain.Attachment

	messageUpdates    int
	attachmentUpdates int
}

func newStubMessages() *stubMessages {
	return &stubMessages{
		messages:    make(map[int64]*domain.Message),
		attachments: make(map[int64]*domain.Attachment),
	}
}

func (s *stubMessages) Create(_ context.Context, _ *domain.Message) error { return nil }

func (s *stubMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	if m, ok := s.messages[id]; ok {
		return m, nil
	}
	return nil, apperr.NotFound("message")
}

func (s *stubMessages) GetByExternalID(_ context.Context, _ uuid.UUID, _ string) (*domain.Message, error) {
	return nil, apperr.NotFound("message")
}

func (s *stubMessages) ApplyDecision(_ context.Context, _ int64, _ domain.Decision, _ []domain.ClassificationState) (bool, error) {
	return false, nil
}

func (s *stubMessages) FindConversationCase(_ context.Context, _ uuid.UUID, _ string) (int64, bool, error) {
	return 0, false, nil
}

func (s *stubMessages) ListReevaluable(_ context.Context, _ uuid.UUID, _ string, _ int) ([]*domain.Message, error) {
	return nil, nil
}

func (s *stubMessages) ListClientInbox(_ context.Context, _ int64, _, _ int) ([]*domain.Message, int, error) {
	return nil, 0, nil
}

func (s *stubMessages) UpdateVisibility(_ context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error {
	s.messageUpdates++
	if m, ok := s.messages[id]; ok {
		m.Private = private
		m.VisibilityActorID = &actorID
		m.VisibilityChangedAt = &at
	}
	return nil
}

func (s *stubMessages) CreateAttachment(_ context.Context, _ *domain.Attachment) error { return nil }

func (s *stubMessages) GetAttachment(_ context.Context, id int64) (*domain.Attachment, error) {
	if a, ok := s.attachments[id]; ok {
		return a, nil
	}
	return nil, apperr.NotFound("attachment")
}

func (s *stubMessages) ListAttachments(_ context.Context, messageID int64) ([]*domain.Attachment, error) {
	var out []*domain.Attachment
	for _, a := range s.attachments {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubMessages) UpdateAttachmentVisibility(_ context.Context, id int64, private bool, _ uuid.UUID, _ time.Time) error {
	s.attachmentUpdates++
	if a, ok := s.attachments[id]; ok {
		a.Private = private
	}
	return nil
}

type stubPrincipals struct {
	gatekeepers map[uuid.UUID]bool
}

func (s *stubPrincipals) IsGatekeeper(_ context.Context, id uuid.UUID) (bool, error) {
	return s.gatekeepers[id], nil
}

func TestApplyDefault(t *testing.T) {
	gatekeeper := uuid.New()
	paralegal := uuid.New()

	tests := []struct {
		name        string
		owner       uuid.UUID
		wantPrivate bool
	}{
		{"gatekeeper mail goes private", gatekeeper, true},
		{"other mail stays public", paralegal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := newStubMessages()
			msg := &domain.Message{ID: 1, OwnerID: tt.owner}
			msgs.messages[1] = msg

			gate := NewGate(msgs, &stubPrincipals{gatekeepers: map[uuid.UUID]bool{gatekeeper: true}})
			if err := gate.ApplyDefault(context.Background(), msg); err != nil {
				t.Fatalf("ApplyDefault() error = %v", err)
			}
			if msg.Private != tt.wantPrivate {
				t.Errorf("Private = %v, want %v", msg.Private, tt.wantPrivate)
			}
		})
	}
}

func TestPublishOwnerOnly(t *testing.T) {
	owner, intruder := uuid.New(), uuid.New()

	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner, Private: true}

	gate := NewGate(msgs, &stubPrincipals{})

	err := gate.Publish(context.Background(), 1, intruder, false)
	if !apperr.IsForbidden(err) {
		t.Fatalf("Publish() by non-owner = %v, want forbidden", err)
	}
	if msgs.messages[1].Private != true {
		t.Error("message visibility changed by non-owner")
	}

	if err := gate.Publish(context.Background(), 1, owner, false); err != nil {
		t.Fatalf("Publish() by owner error = %v", err)
	}
	if msgs.messages[1].Private {
		t.Error("message still private after owner publish")
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	owner := uuid.New()
	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner, Private: false}

	gate := NewGate(msgs, &stubPrincipals{})
	if err := gate.Publish(context.Background(), 1, owner, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if msgs.messageUpdates != 0 {
		t.Errorf("message updates = %d, want 0 for already-public message", msgs.messageUpdates)
	}
}

func TestPublishCascadesToAttachments(t *testing.T) {
	owner := uuid.New()
	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner, Private: true}
	msgs.attachments[10] = &domain.Attachment{ID: 10, MessageID: 1, Private: true}
	msgs.attachments[11] = &domain.Attachment{ID: 11, MessageID: 1, Private: false}

	gate := NewGate(msgs, &stubPrincipals{})
	if err := gate.Publish(context.Background(), 1, owner, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if msgs.attachments[10].Private {
		t.Error("private attachment not published with the parent")
	}
	// The already-public attachment needs no write.
	if msgs.attachmentUpdates != 1 {
		t.Errorf("attachment updates = %d, want 1", msgs.attachmentUpdates)
	}
}

func TestPublishExcludingAttachments(t *testing.T) {
	owner := uuid.New()
	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner, Private: true}
	msgs.attachments[10] = &domain.Attachment{ID: 10, MessageID: 1, Private: true}

	gate := NewGate(msgs, &stubPrincipals{})
	if err := gate.Publish(context.Background(), 1, owner, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if msgs.messages[1].Private {
		t.Error("message not published")
	}
	if !msgs.attachments[10].Private {
		t.Error("attachment published despite exclusion")
	}
}

func TestUnpublishLeavesAttachmentFlags(t *testing.T) {
	owner := uuid.New()
	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner, Private: false}
	msgs.attachments[10] = &domain.Attachment{ID: 10, MessageID: 1, Private: false}

	gate := NewGate(msgs, &stubPrincipals{})
	if err := gate.Unpublish(context.Background(), 1, owner); err != nil {
		t.Fatalf("Unpublish() error = %v", err)
	}
	if !msgs.messages[1].Private {
		t.Error("message not withdrawn")
	}
	if msgs.attachments[10].Private {
		t.Error("attachment flag changed by message unpublish")
	}
}

func TestAttachmentVisibilityOwnerCheckedViaParent(t *testing.T) {
	owner, intruder := uuid.New(), uuid.New()
	msgs := newStubMessages()
	msgs.messages[1] = &domain.Message{ID: 1, OwnerID: owner}
	msgs.attachments[10] = &domain.Attachment{ID: 10, MessageID: 1, Private: true}

	gate := NewGate(msgs, &stubPrincipals{})

	if err := gate.PublishAttachment(context.Background(), 10, intruder); !apperr.IsForbidden(err) {
		t.Fatalf("PublishAttachment() by non-owner = %v, want forbidden", err)
	}
	if err := gate.PublishAttachment(context.Background(), 10, owner); err != nil {
		t.Fatalf("PublishAttachment() error = %v", err)
	}
	if msgs.attachments[10].Private {
		t.Error("attachment still private")
	}

	// Re-publishing is a no-op.
	before := msgs.attachmentUpdates
	if err := gate.PublishAttachment(context.Background(), 10, owner); err != nil {
		t.Fatalf("PublishAttachment() repeat error = %v", err)
	}
	if msgs.attachmentUpdates != before {
		t.Error("idempotent attachment publish issued a write")
	}

	if err := gate.UnpublishAttachment(context.Background(), 10, owner); err != nil {
		t.Fatalf("UnpublishAttachment() error = %v", err)
	}
	if !msgs.attachments[10].Private {
		t.Error("attachment not withdrawn")
	}
}

func TestThreadVisible(t *testing.T) {
	all := []*domain.Message{{Private: true}, {Private: true}}
	if ThreadVisible(all) {
		t.Error("ThreadVisible = true for all-private thread")
	}
	mixed := []*domain.Message{{Private: true}, {Private: false}}
	if !ThreadVisible(mixed) {
		t.Error("ThreadVisible = false for thread with a public message")
	}
}
