package backfill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"caseroute/core/domain"
	"caseroute/core/port/out"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

var testFirm = uuid.MustParse("a3d9f1c2-0000-4000-8000-000000000001")

type fakeJobs struct {
	jobs map[int64]*domain.SyncJob

	progressCalls  []string
	onProgress     func(j *domain.SyncJob)
	pendingRetries []*domain.SyncJob
	retryAt        *time.Time
	failedReason   string
	completed      bool
	cancelled      bool
}

func newFakeJobs(job *domain.SyncJob) *fakeJobs {
	return &fakeJobs{jobs: map[int64]*domain.SyncJob{job.ID: job}}
}

func (f *fakeJobs) Create(_ context.Context, job *domain.SyncJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id int64) (*domain.SyncJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, apperr.NotFound("sync job")
}

func (f *fakeJobs) MarkInProgress(_ context.Context, id int64, _ time.Time) (bool, error) {
	j := f.jobs[id]
	if j.Status != domain.SyncJobPending {
		return false, nil
	}
	j.Status = domain.SyncJobInProgress
	return true, nil
}

func (f *fakeJobs) MarkCompleted(_ context.Context, id int64, _ time.Time) error {
	f.jobs[id].Status = domain.SyncJobCompleted
	f.completed = true
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, id int64, reason string, _ time.Time) error {
	f.jobs[id].Status = domain.SyncJobFailed
	f.failedReason = reason
	return nil
}

func (f *fakeJobs) MarkCancelled(_ context.Context, id int64, _ time.Time) error {
	f.jobs[id].Status = domain.SyncJobCancelled
	f.cancelled = true
	return nil
}

func (f *fakeJobs) UpdateProgress(_ context.Context, id int64, synced, total, attachments int, pageToken string) error {
	j := f.jobs[id]
	j.SyncedCount = synced
	j.TotalCount = total
	j.AttachmentCount = attachments
	j.PageToken = pageToken
	f.progressCalls = append(f.progressCalls, fmt.Sprintf("%d/%d@%s", synced, total, pageToken))
	if f.onProgress != nil {
		f.onProgress(j)
	}
	return nil
}

func (f *fakeJobs) RequestCancel(_ context.Context, id int64) error {
	f.jobs[id].CancelRequested = true
	return nil
}

func (f *fakeJobs) ScheduleRetry(_ context.Context, id int64, nextRetryAt time.Time) error {
	j := f.jobs[id]
	j.RetryCount++
	j.NextRetryAt = &nextRetryAt
	f.retryAt = &nextRetryAt
	return nil
}

func (f *fakeJobs) ListPendingRetries(_ context.Context, _ time.Time, _ int) ([]*domain.SyncJob, error) {
	return f.pendingRetries, nil
}

type fakeTokens struct {
	calls int
	err   error
}

func (f *fakeTokens) Token(_ context.Context, _ uuid.UUID) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: fmt.Sprintf("token-%d", f.calls)}, nil
}

type fakeProvider struct {
	pages       map[string]*out.ProviderPage
	listErr     error
	downloadErr error
	payloads    map[string][]byte
	listed      int
}

func (f *fakeProvider) ProviderType() string { return "gmail" }

func (f *fakeProvider) ListByCorrespondent(_ context.Context, token *oauth2.Token, _ string, pageToken string, _ int) (*out.ProviderPage, error) {
	f.listed++
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("missing token")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if p, ok := f.pages[pageToken]; ok {
		return p, nil
	}
	return &out.ProviderPage{}, nil
}

func (f *fakeProvider) GetMessage(_ context.Context, _ *oauth2.Token, externalID string) (*out.ProviderMessage, error) {
	return &out.ProviderMessage{ExternalID: externalID, BodyText: "fetched body"}, nil
}

func (f *fakeProvider) DownloadAttachment(_ context.Context, _ *oauth2.Token, _, attachmentID string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if data, ok := f.payloads[attachmentID]; ok {
		return data, nil
	}
	return []byte("payload"), nil
}

type fakeLocker struct {
	unavailable bool
	acquired    int
	released    int
}

type fakeLease struct{ locker *fakeLocker }

func (l *fakeLease) Renew(_ context.Context) error   { return nil }
func (l *fakeLease) Release(_ context.Context) error { l.locker.released++; return nil }

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (out.Lease, error) {
	if f.unavailable {
		return nil, errors.New("lease held elsewhere")
	}
	f.acquired++
	return &fakeLease{locker: f}, nil
}

type fakeIngestor struct {
	ingested   []string
	duplicates map[string]bool
	nextID     int64
}

func (f *fakeIngestor) IngestProvider(_ context.Context, _, _ uuid.UUID, _ string, pm *out.ProviderMessage) (int64, bool, error) {
	f.nextID++
	f.ingested = append(f.ingested, pm.ExternalID)
	if f.duplicates[pm.ExternalID] {
		return f.nextID, false, nil
	}
	return f.nextID, true, nil
}

type fakeClassifier struct {
	classified []int64
}

func (f *fakeClassifier) ClassifyAndCommit(_ context.Context, messageID int64) error {
	f.classified = append(f.classified, messageID)
	return nil
}

type fakeAttachmentSink struct {
	records []*domain.Attachment
}

func (f *fakeAttachmentSink) Create(_ context.Context, _ *domain.Message) error { return nil }
func (f *fakeAttachmentSink) GetByID(_ context.Context, _ int64) (*domain.Message, error) {
	return nil, apperr.NotFound("message")
}
func (f *fakeAttachmentSink) GetByExternalID(_ context.Context, _ uuid.UUID, _ string) (*domain.Message, error) {
	return nil, apperr.NotFound("message")
}
func (f *fakeAttachmentSink) ApplyDecision(_ context.Context, _ int64, _ domain.Decision, _ []domain.ClassificationState) (bool, error) {
	return false, nil
}
func (f *fakeAttachmentSink) FindConversationCase(_ context.Context, _ uuid.UUID, _ string) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeAttachmentSink) ListReevaluable(_ context.Context, _ uuid.UUID, _ string, _ int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeAttachmentSink) ListClientInbox(_ context.Context, _ int64, _, _ int) ([]*domain.Message, int, error) {
	return nil, 0, nil
}
func (f *fakeAttachmentSink) UpdateVisibility(_ context.Context, _ int64, _ bool, _ uuid.UUID, _ time.Time) error {
	return nil
}
func (f *fakeAttachmentSink) CreateAttachment(_ context.Context, att *domain.Attachment) error {
	att.ID = int64(len(f.records) + 1)
	f.records = append(f.records, att)
	return nil
}
func (f *fakeAttachmentSink) GetAttachment(_ context.Context, _ int64) (*domain.Attachment, error) {
	return nil, apperr.NotFound("attachment")
}
func (f *fakeAttachmentSink) ListAttachments(_ context.Context, messageID int64) ([]*domain.Attachment, error) {
	var result []*domain.Attachment
	for _, att := range f.records {
		if att.MessageID == messageID {
			result = append(result, att)
		}
	}
	return result, nil
}
func (f *fakeAttachmentSink) UpdateAttachmentVisibility(_ context.Context, _ int64, _ bool, _ uuid.UUID, _ time.Time) error {
	return nil
}

type fakeArchive struct {
	archived []int64
}

func (f *fakeArchive) SaveBody(_ context.Context, _ int64, _ uuid.UUID, _, _ string) error {
	return nil
}
func (f *fakeArchive) GetBodyText(_ context.Context, _ int64) (string, error) {
	return "", apperr.NotFound("message body")
}
func (f *fakeArchive) SaveAttachment(_ context.Context, attachmentID, _ int64, _ string, _ []byte) error {
	f.archived = append(f.archived, attachmentID)
	return nil
}

type harness struct {
	svc        *Service
	jobs       *fakeJobs
	tokens     *fakeTokens
	provider   *fakeProvider
	locker     *fakeLocker
	ingestor   *fakeIngestor
	classifier *fakeClassifier
	archive    *fakeArchive
	sink       *fakeAttachmentSink
}

func testOptions() *Options {
	return &Options{
		BatchSize:         2,
		LeaseTTL:          time.Minute,
		HeartbeatInterval: time.Minute,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     time.Minute,
	}
}

func newHarness(job *domain.SyncJob, provider *fakeProvider) *harness {
	h := &harness{
		jobs:       newFakeJobs(job),
		tokens:     &fakeTokens{},
		provider:   provider,
		locker:     &fakeLocker{},
		ingestor:   &fakeIngestor{duplicates: make(map[string]bool)},
		classifier: &fakeClassifier{},
		archive:    &fakeArchive{},
		sink:       &fakeAttachmentSink{},
	}
	h.svc = NewService(h.jobs, h.sink, h.archive, h.provider, h.tokens,
		h.locker, h.ingestor, h.classifier, testOptions())
	return h
}

func pendingJob() *domain.SyncJob {
	return &domain.SyncJob{
		ID:             1,
		FirmID:         testFirm,
		ContactID:      100,
		ContactAddress: "client@acme.example",
		OwnerID:        uuid.New(),
		Status:         domain.SyncJobPending,
		MaxRetries:     3,
	}
}

func TestRunCompletesMultiPageJob(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {
			Messages: []*out.ProviderMessage{
				{ExternalID: "m1", BodyText: "body one"},
				{ExternalID: "m2", BodyText: "body two"},
			},
			NextPageToken: "page-2",
			TotalEstimate: 3,
		},
		"page-2": {
			Messages: []*out.ProviderMessage{
				{ExternalID: "m3", BodyText: "body three"},
			},
		},
	}}
	h := newHarness(pendingJob(), provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !h.jobs.completed {
		t.Fatal("job not marked completed")
	}
	if got := h.jobs.jobs[1].SyncedCount; got != 3 {
		t.Errorf("SyncedCount = %d, want 3", got)
	}
	if got := h.jobs.jobs[1].TotalCount; got != 3 {
		t.Errorf("TotalCount = %d, want estimate 3", got)
	}
	if len(h.classifier.classified) != 3 {
		t.Errorf("classified %d messages, want 3", len(h.classifier.classified))
	}
	// One token per provider call: two page listings, no message fetches, no
	// attachment downloads.
	if h.tokens.calls != 2 {
		t.Errorf("token calls = %d, want 2", h.tokens.calls)
	}
	if h.locker.released != 1 {
		t.Errorf("lease released %d times, want 1", h.locker.released)
	}
}

func TestRunFetchesBodyWhenListingOmitsIt(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {Messages: []*out.ProviderMessage{{ExternalID: "m1"}}},
	}}
	h := newHarness(pendingJob(), provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Listing token plus a separate fresh token for the message fetch.
	if h.tokens.calls != 2 {
		t.Errorf("token calls = %d, want 2", h.tokens.calls)
	}
	if len(h.ingestor.ingested) != 1 || h.ingestor.ingested[0] != "m1" {
		t.Errorf("ingested = %v, want [m1]", h.ingestor.ingested)
	}
}

func TestRunStoresAttachments(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {Messages: []*out.ProviderMessage{{
			ExternalID: "m1",
			BodyText:   "body",
			Attachments: []out.ProviderAttachmentRef{
				{ID: "a1", FileName: "claim.pdf", MimeType: "application/pdf"},
				{ID: "a2", FileName: "notes.txt", MimeType: "text/plain"},
			},
		}}},
	}}
	h := newHarness(pendingJob(), provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.jobs.jobs[1].AttachmentCount; got != 2 {
		t.Errorf("AttachmentCount = %d, want 2", got)
	}
	if len(h.archive.archived) != 2 {
		t.Errorf("archived %d attachments, want 2", len(h.archive.archived))
	}
	// Listing plus one fresh token per attachment download.
	if h.tokens.calls != 3 {
		t.Errorf("token calls = %d, want 3", h.tokens.calls)
	}
}

func TestRunSkipsDuplicateMessages(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {Messages: []*out.ProviderMessage{
			{ExternalID: "seen", BodyText: "body", Attachments: []out.ProviderAttachmentRef{{ID: "a1", FileName: "claim.pdf"}}},
		}},
	}}
	h := newHarness(pendingJob(), provider)
	h.ingestor.duplicates["seen"] = true
	// The earlier attempt already stored the attachment set in full.
	h.sink.records = append(h.sink.records, &domain.Attachment{ID: 1, MessageID: 1, FileName: "claim.pdf"})

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.archive.archived) != 0 {
		t.Error("attachments stored again for a complete duplicate")
	}
	if len(h.classifier.classified) != 0 {
		t.Error("duplicate message classified again")
	}
}

func TestRunRetryRepairsAttachmentsAfterPartialFailure(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {Messages: []*out.ProviderMessage{{
			ExternalID:  "m1",
			BodyText:    "body",
			Attachments: []out.ProviderAttachmentRef{{ID: "a1", FileName: "claim.pdf", MimeType: "application/pdf"}},
		}}},
	}}
	h := newHarness(pendingJob(), provider)

	// First attempt dies between ingest and the attachment download.
	provider.downloadErr = errors.New("connection reset")
	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.jobs.retryAt == nil {
		t.Fatal("no retry scheduled after the partial failure")
	}
	if len(h.sink.records) != 0 {
		t.Fatalf("stored %d attachments on the failed attempt, want 0", len(h.sink.records))
	}

	// The retry sees the message as a duplicate but must still complete the
	// attachment set.
	provider.downloadErr = nil
	h.ingestor.duplicates["m1"] = true
	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() retry error = %v", err)
	}
	if !h.jobs.completed {
		t.Fatal("job not completed on retry")
	}
	if len(h.sink.records) != 1 || h.sink.records[0].FileName != "claim.pdf" {
		t.Fatalf("attachment rows = %d, want the repaired claim.pdf", len(h.sink.records))
	}
	if len(h.archive.archived) != 1 {
		t.Errorf("archived %d payloads, want 1", len(h.archive.archived))
	}
	if got := h.jobs.jobs[1].AttachmentCount; got != 1 {
		t.Errorf("AttachmentCount = %d, want 1", got)
	}
}

func TestRunCancelBeforeStart(t *testing.T) {
	job := pendingJob()
	job.CancelRequested = true
	h := newHarness(job, &fakeProvider{})

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !h.jobs.cancelled {
		t.Error("job not marked cancelled")
	}
	if h.provider.listed != 0 {
		t.Error("provider called after cancellation")
	}
}

func TestRunCancelBetweenBatches(t *testing.T) {
	provider := &fakeProvider{pages: map[string]*out.ProviderPage{
		"": {
			Messages:      []*out.ProviderMessage{{ExternalID: "m1", BodyText: "body"}},
			NextPageToken: "page-2",
		},
	}}
	h := newHarness(pendingJob(), provider)

	// The operator cancel lands while the first batch is persisted; the loop
	// must notice on its next pass and stop without touching page two.
	h.jobs.onProgress = func(j *domain.SyncJob) {
		j.CancelRequested = true
	}

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !h.jobs.cancelled {
		t.Error("job not marked cancelled between batches")
	}
	if got := h.jobs.jobs[1].SyncedCount; got != 1 {
		t.Errorf("SyncedCount = %d, want 1", got)
	}
	if h.provider.listed != 1 {
		t.Errorf("provider listings = %d, want 1", h.provider.listed)
	}
}

func TestRunTransientErrorSchedulesRetry(t *testing.T) {
	provider := &fakeProvider{listErr: errors.New("connection reset")}
	h := newHarness(pendingJob(), provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.jobs.retryAt == nil {
		t.Fatal("no retry scheduled")
	}
	if h.jobs.jobs[1].Status == domain.SyncJobFailed {
		t.Error("transient failure marked the job failed")
	}
}

func TestRunFatalErrorFailsJob(t *testing.T) {
	provider := &fakeProvider{listErr: apperr.Unauthorized("grant revoked")}
	h := newHarness(pendingJob(), provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.jobs.jobs[1].Status != domain.SyncJobFailed {
		t.Errorf("status = %s, want failed", h.jobs.jobs[1].Status)
	}
	if h.jobs.retryAt != nil {
		t.Error("retry scheduled for a fatal error")
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	job := pendingJob()
	job.RetryCount = 3
	provider := &fakeProvider{listErr: errors.New("still down")}
	h := newHarness(job, provider)

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.jobs.jobs[1].Status != domain.SyncJobFailed {
		t.Errorf("status = %s, want failed after retry budget", h.jobs.jobs[1].Status)
	}
}

func TestRunLeaseUnavailable(t *testing.T) {
	h := newHarness(pendingJob(), &fakeProvider{})
	h.locker.unavailable = true

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.provider.listed != 0 {
		t.Error("provider called without a lease")
	}
	if h.jobs.jobs[1].Status != domain.SyncJobPending {
		t.Errorf("status = %s, want pending untouched", h.jobs.jobs[1].Status)
	}
}

func TestRunTerminalJobIsNoop(t *testing.T) {
	job := pendingJob()
	job.Status = domain.SyncJobCompleted
	h := newHarness(job, &fakeProvider{})

	if err := h.svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.locker.acquired != 0 {
		t.Error("lease acquired for a terminal job")
	}
}
