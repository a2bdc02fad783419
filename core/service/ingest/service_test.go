package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
)

var testFirm = uuid.MustParse("a3d9f1c2-0000-4000-8000-000000000001")

type stubMessages struct {
	byExternal map[string]*domain.Message
	created    []*domain.Message
	nextID     int64
}

func newStubMessages() *stubMessages {
	return &stubMessages{byExternal: make(map[string]*domain.Message)}
}

func (s *stubMessages) Create(_ context.Context, msg *domain.Message) error {
	s.nextID++
	msg.ID = s.nextID
	s.created = append(s.created, msg)
	s.byExternal[msg.ExternalID] = msg
	return nil
}

func (s *stubMessages) GetByID(_ context.Context, _ int64) (*domain.Message, error) {
	return nil, apperr.NotFound("message")
}

func (s *stubMessages) GetByExternalID(_ context.Context, _ uuid.UUID, externalID string) (*domain.Message, error) {
	if m, ok := s.byExternal[externalID]; ok {
		return m, nil
	}
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

func (s *stubMessages) UpdateVisibility(_ context.Context, _ int64, _ bool, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (s *stubMessages) CreateAttachment(_ context.Context, _ *domain.Attachment) error { return nil }

func (s *stubMessages) GetAttachment(_ context.Context, _ int64) (*domain.Attachment, error) {
	return nil, apperr.NotFound("attachment")
}

func (s *stubMessages) ListAttachments(_ context.Context, _ int64) ([]*domain.Attachment, error) {
	return nil, nil
}

func (s *stubMessages) UpdateAttachmentVisibility(_ context.Context, _ int64, _ bool, _ uuid.UUID, _ time.Time) error {
	return nil
}

type stubBodies struct {
	saved   map[int64]string
	saveErr error
}

func newStubBodies() *stubBodies {
	return &stubBodies{saved: make(map[int64]string)}
}

func (s *stubBodies) SaveBody(_ context.Context, messageID int64, _ uuid.UUID, text, _ string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[messageID] = text
	return nil
}

func (s *stubBodies) GetBodyText(_ context.Context, _ int64) (string, error) {
	return "", apperr.NotFound("message body")
}

func (s *stubBodies) SaveAttachment(_ context.Context, _, _ int64, _ string, _ []byte) error {
	return nil
}

func providerMessage(externalID string) *out.ProviderMessage {
	return &out.ProviderMessage{
		ExternalID:     externalID,
		ConversationID: "thread-1",
		From:           "Client <client@acme.example>",
		To:             []string{"Office@Firm.Example", "bogus"},
		Subject:        "Re: filing 4440/2025",
		BodyText:       "please see case 4440/2025 and 12/23",
		ReceivedAt:     time.Now(),
	}
}

func TestIngestProvider(t *testing.T) {
	msgs := newStubMessages()
	bodies := newStubBodies()
	svc := NewService(msgs, bodies)
	owner := uuid.New()

	id, created, err := svc.IngestProvider(context.Background(), testFirm, owner, "client@acme.example", providerMessage("ext-1"))
	if err != nil {
		t.Fatalf("IngestProvider() error = %v", err)
	}
	if !created {
		t.Fatal("created = false, want true")
	}

	msg := msgs.created[0]
	if msg.ID != id {
		t.Errorf("returned id = %d, stored id = %d", id, msg.ID)
	}
	if msg.Direction != domain.DirectionInbound {
		t.Errorf("Direction = %s, want inbound", msg.Direction)
	}
	if msg.FromAddress != "client@acme.example" {
		t.Errorf("FromAddress = %q, want normalized", msg.FromAddress)
	}
	if len(msg.ToAddresses) != 1 || msg.ToAddresses[0] != "office@firm.example" {
		t.Errorf("ToAddresses = %v, want the bogus entry dropped", msg.ToAddresses)
	}
	if msg.State != domain.StatePending {
		t.Errorf("State = %s, want pending", msg.State)
	}
	if !msg.Private {
		t.Error("Private = false, want true before the gate runs")
	}
	if len(msg.ReferenceTokens) != 2 {
		t.Errorf("ReferenceTokens = %v, want two distinct tokens", msg.ReferenceTokens)
	}
	if bodies.saved[id] == "" {
		t.Error("body not archived")
	}
}

func TestIngestProviderIdempotent(t *testing.T) {
	msgs := newStubMessages()
	svc := NewService(msgs, newStubBodies())
	owner := uuid.New()

	first, created, err := svc.IngestProvider(context.Background(), testFirm, owner, "client@acme.example", providerMessage("ext-1"))
	if err != nil || !created {
		t.Fatalf("first ingest = (%d, %v, %v)", first, created, err)
	}

	second, created, err := svc.IngestProvider(context.Background(), testFirm, owner, "client@acme.example", providerMessage("ext-1"))
	if err != nil {
		t.Fatalf("second ingest error = %v", err)
	}
	if created {
		t.Error("created = true on duplicate external id")
	}
	if second != first {
		t.Errorf("duplicate returned id %d, want %d", second, first)
	}
	if len(msgs.created) != 1 {
		t.Errorf("created %d rows, want 1", len(msgs.created))
	}
}

func TestIngestProviderOutboundDirection(t *testing.T) {
	msgs := newStubMessages()
	svc := NewService(msgs, newStubBodies())

	pm := providerMessage("ext-2")
	pm.From = "lawyer@firm.example"
	pm.To = []string{"client@acme.example"}

	_, _, err := svc.IngestProvider(context.Background(), testFirm, uuid.New(), "client@acme.example", pm)
	if err != nil {
		t.Fatalf("IngestProvider() error = %v", err)
	}
	if msgs.created[0].Direction != domain.DirectionOutbound {
		t.Errorf("Direction = %s, want outbound", msgs.created[0].Direction)
	}
}

func TestIngestProviderSurvivesArchiveFailure(t *testing.T) {
	msgs := newStubMessages()
	bodies := newStubBodies()
	bodies.saveErr = errors.New("mongo down")
	svc := NewService(msgs, bodies)

	_, created, err := svc.IngestProvider(context.Background(), testFirm, uuid.New(), "client@acme.example", providerMessage("ext-3"))
	if err != nil {
		t.Fatalf("IngestProvider() error = %v", err)
	}
	if !created {
		t.Error("created = false, want true despite archive failure")
	}
}

func TestIngestProviderWithoutArchive(t *testing.T) {
	msgs := newStubMessages()
	svc := NewService(msgs, nil)

	id, created, err := svc.IngestProvider(context.Background(), testFirm, uuid.New(), "client@acme.example", providerMessage("x1"))
	if err != nil {
		t.Fatalf("IngestProvider() error = %v", err)
	}
	if !created || id == 0 {
		t.Fatalf("IngestProvider() = (%d, %v), want a new row without an archive", id, created)
	}
}

func TestExtractReferences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single token", "hearing for 4440/2025", []string{"4440/2025"}},
		{"dedup", "4440/2025 and again 4440/2025", []string{"4440/2025"}},
		{"multiple distinct", "see 12/23 and 4440/2025", []string{"12/23", "4440/2025"}},
		{"no tokens", "nothing here", nil},
		{"oversized numerator rejected", "1234567/2025 ignored", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractReferences(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractReferences() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("refs[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("  hello\n\n  world\t again "); got != "hello world again" {
		t.Errorf("Snippet() = %q, want collapsed whitespace", got)
	}

	long := strings.Repeat("ä ", 300)
	got := Snippet(long)
	if n := len([]rune(got)); n != 200 {
		t.Errorf("snippet length = %d runes, want 200", n)
	}
}
