package backfill

import (
	"context"
	"errors"
	"testing"

	"caseroute/core/domain"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
)

type fakeContacts struct {
	byID map[int64]*domain.Contact
}

func (f *fakeContacts) GetByID(_ context.Context, id int64) (*domain.Contact, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("contact")
}

func (f *fakeContacts) ListMatching(_ context.Context, _ uuid.UUID, _ string) ([]*domain.Contact, error) {
	return nil, nil
}

func (f *fakeContacts) IsCourtSender(_ context.Context, _ uuid.UUID, _ string) (bool, error) {
	return false, nil
}

type fakeProducer struct {
	backfills []int64
	err       error
}

func (f *fakeProducer) PublishClassify(_ context.Context, _ uuid.UUID, _ int64) (string, error) {
	return "", nil
}

func (f *fakeProducer) PublishBackfill(_ context.Context, _ uuid.UUID, jobID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.backfills = append(f.backfills, jobID)
	return "msg-1", nil
}

func (f *fakeProducer) PublishReevaluate(_ context.Context, _ uuid.UUID, _ int64) (string, error) {
	return "", nil
}

func syncContact(firmID uuid.UUID) *domain.Contact {
	return &domain.Contact{
		ID:          100,
		FirmID:      firmID,
		Address:     "client@acme.example",
		SyncHistory: true,
	}
}

func TestManagerStart(t *testing.T) {
	jobs := newFakeJobs(&domain.SyncJob{ID: 99})
	contacts := &fakeContacts{byID: map[int64]*domain.Contact{100: syncContact(testFirm)}}
	producer := &fakeProducer{}
	mgr := NewManager(jobs, contacts, producer, 7)

	owner := uuid.New()
	job, err := mgr.Start(context.Background(), testFirm, owner, 100)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if job.Status != domain.SyncJobPending {
		t.Errorf("Status = %s, want pending", job.Status)
	}
	if job.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want the configured 7", job.MaxRetries)
	}
	if job.OwnerID != owner {
		t.Error("owner not recorded on the job")
	}
	if job.ContactAddress != "client@acme.example" {
		t.Errorf("ContactAddress = %q", job.ContactAddress)
	}
	if len(producer.backfills) != 1 {
		t.Errorf("published %d jobs, want 1", len(producer.backfills))
	}
}

func TestManagerStartEnqueueFailureKeepsJob(t *testing.T) {
	jobs := newFakeJobs(&domain.SyncJob{ID: 99})
	contacts := &fakeContacts{byID: map[int64]*domain.Contact{100: syncContact(testFirm)}}
	producer := &fakeProducer{err: errors.New("redis down")}
	mgr := NewManager(jobs, contacts, producer, 0)

	// The job row must survive a lost enqueue; the retry scheduler finds it.
	job, err := mgr.Start(context.Background(), testFirm, uuid.New(), 100)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := jobs.jobs[job.ID]; !ok {
		t.Error("job row missing after enqueue failure")
	}
}

func TestManagerStartRejections(t *testing.T) {
	otherFirm := uuid.New()
	noSync := syncContact(testFirm)
	noSync.ID = 101
	noSync.SyncHistory = false

	contacts := &fakeContacts{byID: map[int64]*domain.Contact{
		100: syncContact(otherFirm),
		101: noSync,
	}}
	mgr := NewManager(newFakeJobs(&domain.SyncJob{ID: 99}), contacts, &fakeProducer{}, 0)

	if _, err := mgr.Start(context.Background(), testFirm, uuid.New(), 100); !apperr.IsNotFound(err) {
		t.Errorf("cross-firm Start() = %v, want not found", err)
	}
	if _, err := mgr.Start(context.Background(), testFirm, uuid.New(), 101); err == nil {
		t.Error("Start() accepted a contact without history sync")
	}
	if _, err := mgr.Start(context.Background(), testFirm, uuid.New(), 404); !apperr.IsNotFound(err) {
		t.Errorf("unknown contact Start() = %v, want not found", err)
	}
}

func TestManagerGetIsFirmScoped(t *testing.T) {
	job := pendingJob()
	mgr := NewManager(newFakeJobs(job), &fakeContacts{}, &fakeProducer{}, 0)

	if _, err := mgr.Get(context.Background(), testFirm, job.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := mgr.Get(context.Background(), uuid.New(), job.ID); !apperr.IsNotFound(err) {
		t.Errorf("cross-firm Get() = %v, want not found", err)
	}
}

func TestManagerCancel(t *testing.T) {
	tests := []struct {
		name          string
		status        domain.SyncJobStatus
		wantErr       bool
		wantCancelled bool
		wantRequested bool
	}{
		{"pending cancels outright", domain.SyncJobPending, false, true, false},
		{"running requests cooperative stop", domain.SyncJobInProgress, false, false, true},
		{"finished conflicts", domain.SyncJobCompleted, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := pendingJob()
			job.Status = tt.status
			jobs := newFakeJobs(job)
			mgr := NewManager(jobs, &fakeContacts{}, &fakeProducer{}, 0)

			err := mgr.Cancel(context.Background(), testFirm, job.ID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Cancel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if jobs.cancelled != tt.wantCancelled {
				t.Errorf("cancelled = %v, want %v", jobs.cancelled, tt.wantCancelled)
			}
			if job.CancelRequested != tt.wantRequested {
				t.Errorf("CancelRequested = %v, want %v", job.CancelRequested, tt.wantRequested)
			}
		})
	}
}

func TestEnqueueDueRetries(t *testing.T) {
	due := []*domain.SyncJob{
		{ID: 1, FirmID: testFirm},
		{ID: 2, FirmID: testFirm},
	}
	jobs := newFakeJobs(&domain.SyncJob{ID: 99})
	jobs.pendingRetries = due
	producer := &fakeProducer{}
	mgr := NewManager(jobs, &fakeContacts{}, producer, 0)

	n, err := mgr.EnqueueDueRetries(context.Background(), 10)
	if err != nil {
		t.Fatalf("EnqueueDueRetries() error = %v", err)
	}
	if n != 2 {
		t.Errorf("published = %d, want 2", n)
	}
	if len(producer.backfills) != 2 {
		t.Errorf("producer saw %d jobs, want 2", len(producer.backfills))
	}
}
