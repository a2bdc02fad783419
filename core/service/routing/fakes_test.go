package routing

import (
	"context"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
)

// =============================================================================
// In-memory fakes shared by the routing tests
// =============================================================================

type fakeMessages struct {
	byID             map[int64]*domain.Message
	byExternal       map[string]*domain.Message
	conversationCase map[string]int64
	reevaluable      []*domain.Message

	applied  []domain.Decision
	applyOK  bool
	applyErr error

	visibilityCalls int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byID:             make(map[int64]*domain.Message),
		byExternal:       make(map[string]*domain.Message),
		conversationCase: make(map[string]int64),
		applyOK:          true,
	}
}

func (f *fakeMessages) add(msg *domain.Message) {
	f.byID[msg.ID] = msg
	if msg.ExternalID != "" {
		f.byExternal[msg.ExternalID] = msg
	}
}

func (f *fakeMessages) Create(_ context.Context, msg *domain.Message) error {
	msg.ID = int64(len(f.byID) + 1)
	f.add(msg)
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	if m, ok := f.byID[id]; ok {
		return m, nil
	}
	return nil, apperr.NotFound("message")
}

func (f *fakeMessages) GetByExternalID(_ context.Context, _ uuid.UUID, externalID string) (*domain.Message, error) {
	if m, ok := f.byExternal[externalID]; ok {
		return m, nil
	}
	return nil, apperr.NotFound("message")
}

func (f *fakeMessages) ApplyDecision(_ context.Context, id int64, dec domain.Decision, expect []domain.ClassificationState) (bool, error) {
	if f.applyErr != nil {
		return false, f.applyErr
	}
	m, ok := f.byID[id]
	if !ok {
		return false, apperr.NotFound("message")
	}
	allowed := false
	for _, st := range expect {
		if m.State == st {
			allowed = true
			break
		}
	}
	if !allowed || !f.applyOK {
		return false, nil
	}
	f.applied = append(f.applied, dec)
	m.State = dec.State()
	if _, conf, _, ok := dec.Case(); ok {
		m.Confidence = conf
	}
	if clientID, ok := dec.Client(); ok {
		m.ClientID = &clientID
	}
	return true, nil
}

func (f *fakeMessages) FindConversationCase(_ context.Context, _ uuid.UUID, conversationID string) (int64, bool, error) {
	id, ok := f.conversationCase[conversationID]
	return id, ok, nil
}

func (f *fakeMessages) ListReevaluable(_ context.Context, _ uuid.UUID, _ string, _ int) ([]*domain.Message, error) {
	return f.reevaluable, nil
}

func (f *fakeMessages) ListClientInbox(_ context.Context, _ int64, _, _ int) ([]*domain.Message, int, error) {
	return nil, 0, nil
}

func (f *fakeMessages) UpdateVisibility(_ context.Context, id int64, private bool, actorID uuid.UUID, at time.Time) error {
	f.visibilityCalls++
	if m, ok := f.byID[id]; ok {
		m.Private = private
		m.VisibilityActorID = &actorID
		m.VisibilityChangedAt = &at
	}
	return nil
}

func (f *fakeMessages) CreateAttachment(_ context.Context, att *domain.Attachment) error {
	return nil
}

func (f *fakeMessages) GetAttachment(_ context.Context, _ int64) (*domain.Attachment, error) {
	return nil, apperr.NotFound("attachment")
}

func (f *fakeMessages) ListAttachments(_ context.Context, _ int64) ([]*domain.Attachment, error) {
	return nil, nil
}

func (f *fakeMessages) UpdateAttachmentVisibility(_ context.Context, _ int64, _ bool, _ uuid.UUID, _ time.Time) error {
	return nil
}

type fakeContacts struct {
	byID     map[int64]*domain.Contact
	matching map[string][]*domain.Contact
	court    map[string]bool
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		byID:     make(map[int64]*domain.Contact),
		matching: make(map[string][]*domain.Contact),
		court:    make(map[string]bool),
	}
}

func (f *fakeContacts) GetByID(_ context.Context, id int64) (*domain.Contact, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("contact")
}

func (f *fakeContacts) ListMatching(_ context.Context, _ uuid.UUID, address string) ([]*domain.Contact, error) {
	return f.matching[address], nil
}

func (f *fakeContacts) IsCourtSender(_ context.Context, _ uuid.UUID, address string) (bool, error) {
	return f.court[address], nil
}

type fakeCases struct {
	cases    map[int64]*domain.Case
	clients  map[int64]*domain.Client
	active   map[int64][]*domain.Case
	touched  []int64
	touchErr error
}

func newFakeCases() *fakeCases {
	return &fakeCases{
		cases:   make(map[int64]*domain.Case),
		clients: make(map[int64]*domain.Client),
		active:  make(map[int64][]*domain.Case),
	}
}

func (f *fakeCases) GetByID(_ context.Context, id int64) (*domain.Case, error) {
	if c, ok := f.cases[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("case")
}

func (f *fakeCases) ListByIDs(_ context.Context, ids []int64) ([]*domain.Case, error) {
	var result []*domain.Case
	for _, id := range ids {
		if c, ok := f.cases[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

func (f *fakeCases) ListActiveByClient(_ context.Context, clientID int64) ([]*domain.Case, error) {
	return f.active[clientID], nil
}

func (f *fakeCases) TouchActivity(_ context.Context, id int64, _ time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeCases) GetClient(_ context.Context, id int64) (*domain.Client, error) {
	if c, ok := f.clients[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("client")
}

type fakeFallback struct {
	caseID int64
	ok     bool
	err    error
	calls  int
}

func (f *fakeFallback) Resolve(_ context.Context, _ *out.FallbackRequest) (int64, bool, error) {
	f.calls++
	return f.caseID, f.ok, f.err
}

type fakeBodies struct {
	texts map[int64]string
}

func newFakeBodies() *fakeBodies {
	return &fakeBodies{texts: make(map[int64]string)}
}

func (f *fakeBodies) SaveBody(_ context.Context, messageID int64, _ uuid.UUID, text, _ string) error {
	f.texts[messageID] = text
	return nil
}

func (f *fakeBodies) GetBodyText(_ context.Context, messageID int64) (string, error) {
	if t, ok := f.texts[messageID]; ok {
		return t, nil
	}
	return "", apperr.NotFound("message body")
}

func (f *fakeBodies) SaveAttachment(_ context.Context, _, _ int64, _ string, _ []byte) error {
	return nil
}

type fakePrincipals struct {
	gatekeepers map[uuid.UUID]bool
}

func (f *fakePrincipals) IsGatekeeper(_ context.Context, id uuid.UUID) (bool, error) {
	return f.gatekeepers[id], nil
}
