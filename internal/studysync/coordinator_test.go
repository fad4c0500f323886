package studysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/studykit/studysync/internal/material"
)

type fakeClient struct {
	mu sync.Mutex

	listResult []material.Material
	listErr    error

	updates    []material.Material
	updatesErr error
	sinceSeen  []time.Time

	updated   material.Material
	updateErr error
	patches   []MaterialPatch

	uploaded  material.Material
	uploadErr error

	deleteErr  error
	deletedIDs []int64
}

func (f *fakeClient) ListMaterials(ctx context.Context) ([]material.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]material.Material(nil), f.listResult...), nil
}

func (f *fakeClient) ListUpdates(ctx context.Context, since time.Time) ([]material.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceSeen = append(f.sinceSeen, since)
	if f.updatesErr != nil {
		return nil, f.updatesErr
	}
	return append([]material.Material(nil), f.updates...), nil
}

func (f *fakeClient) UpdateMaterial(ctx context.Context, id int64, patch MaterialPatch) (material.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	if f.updateErr != nil {
		return material.Material{}, f.updateErr
	}
	return f.updated, nil
}

func (f *fakeClient) UploadMaterial(ctx context.Context, fileName string, content []byte) (material.Material, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return material.Material{}, f.uploadErr
	}
	return f.uploaded, nil
}

func (f *fakeClient) DeleteMaterial(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, id)
	return f.deleteErr
}

func seedMaterial(id int64, name string) material.Material {
	return material.Material{
		ID:               id,
		FileName:         name,
		UploadDate:       "2026-08-01T10:00:00Z",
		ProcessingStatus: material.StatusCompleted,
		UpdatedAt:        "2026-08-01T10:00:00Z",
	}
}

func TestStartLoadsInitialListAndSetsWatermark(t *testing.T) {
	client := &fakeClient{
		listResult: []material.Material{seedMaterial(1, "bio.pdf"), seedMaterial(2, "chem.pdf")},
	}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	before := time.Now().UTC()
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coord.Stop()

	if got := store.Len(); got != 2 {
		t.Fatalf("expected 2 materials after initial load, got %d", got)
	}
	if wm := coord.Watermark(); wm.Before(before) {
		t.Fatalf("expected watermark at or after start time, got %v", wm)
	}
}

func TestStartInitialLoadFailureLeavesNothingRunning(t *testing.T) {
	client := &fakeClient{listErr: fmt.Errorf("backend unreachable")}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	err = coord.Start(context.Background())
	if err == nil {
		t.Fatalf("expected initial load error")
	}
	if !errors.Is(err, client.listErr) {
		t.Fatalf("expected wrapped initial load error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after failed initial load")
	}

	// A failed start must not poison a retry.
	client.mu.Lock()
	client.listErr = nil
	client.listResult = []material.Material{seedMaterial(1, "bio.pdf")}
	client.mu.Unlock()
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("restart after failed load failed: %v", err)
	}
	coord.Stop()
}

func TestPollOnceAdvancesWatermarkOnSuccessOnly(t *testing.T) {
	client := &fakeClient{listResult: []material.Material{seedMaterial(1, "bio.pdf")}}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coord.Stop()

	initial := coord.Watermark()

	client.mu.Lock()
	client.updatesErr = fmt.Errorf("transient poll failure")
	client.mu.Unlock()
	coord.pollOnce(context.Background())

	if coord.PollErr() == nil {
		t.Fatalf("expected poll error to be recorded")
	}
	if got := coord.Watermark(); !got.Equal(initial) {
		t.Fatalf("watermark must not advance on failed poll: %v != %v", got, initial)
	}
	if coord.PollFailures() != 1 {
		t.Fatalf("expected 1 poll failure, got %d", coord.PollFailures())
	}

	client.mu.Lock()
	client.updatesErr = nil
	client.updates = []material.Material{seedMaterial(2, "chem.pdf")}
	client.mu.Unlock()
	coord.pollOnce(context.Background())

	if coord.PollErr() != nil {
		t.Fatalf("expected poll error cleared after success, got %v", coord.PollErr())
	}
	if got := coord.Watermark(); !got.After(initial) {
		t.Fatalf("expected watermark to advance after successful poll")
	}
	if store.Len() != 2 {
		t.Fatalf("expected update to be reconciled, store has %d", store.Len())
	}

	client.mu.Lock()
	sinceSeen := append([]time.Time(nil), client.sinceSeen...)
	client.mu.Unlock()
	if len(sinceSeen) != 2 {
		t.Fatalf("expected 2 update fetches, got %d", len(sinceSeen))
	}
	// Both fetches use the last successful watermark: the failed poll
	// must not have moved it.
	if !sinceSeen[0].Equal(initial) || !sinceSeen[1].Equal(initial) {
		t.Fatalf("expected both polls to use watermark %v, got %v and %v", initial, sinceSeen[0], sinceSeen[1])
	}
}

func TestPollOnceSkipsWhileFetchInFlight(t *testing.T) {
	client := &fakeClient{}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	coord.mu.Lock()
	coord.fetching = true
	coord.mu.Unlock()

	coord.pollOnce(context.Background())

	client.mu.Lock()
	fetches := len(client.sinceSeen)
	client.mu.Unlock()
	if fetches != 0 {
		t.Fatalf("expected overlapping poll to be skipped, saw %d fetches", fetches)
	}
}

func TestPollOnceDoesNotRecordContextCancellation(t *testing.T) {
	client := &fakeClient{updatesErr: context.Canceled}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	coord.pollOnce(context.Background())

	if coord.PollErr() != nil {
		t.Fatalf("cancellation must not surface as a poll error, got %v", coord.PollErr())
	}
	if coord.PollFailures() != 0 {
		t.Fatalf("cancellation must not count as a poll failure")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	coord.Stop()
	coord.Stop()

	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("restart after stop failed: %v", err)
	}
	coord.Stop()
}

func TestCoordinatorSeedsFromSnapshotAndSavesAfterSync(t *testing.T) {
	backend := NewMemorySnapshotBackend()
	if err := backend.Save(&Snapshot{
		Materials: []material.Material{seedMaterial(7, "cached.pdf")},
		Watermark: "2026-08-01T10:00:00Z",
	}); err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}

	client := &fakeClient{listErr: fmt.Errorf("backend unreachable")}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{Snapshot: backend})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	// Initial load fails, but the snapshot has already seeded the list so
	// the caller still has something to show.
	if err := coord.Start(context.Background()); err == nil {
		t.Fatalf("expected initial load error")
	}
	if store.Len() != 1 {
		t.Fatalf("expected snapshot-seeded store, got %d records", store.Len())
	}

	client.mu.Lock()
	client.listErr = nil
	client.listResult = []material.Material{seedMaterial(1, "bio.pdf"), seedMaterial(2, "chem.pdf")}
	client.mu.Unlock()
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	coord.Stop()

	saved, err := backend.Load()
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}
	if saved == nil || len(saved.Materials) != 2 {
		t.Fatalf("expected snapshot with 2 materials after sync, got %+v", saved)
	}
	if saved.Watermark == "" {
		t.Fatalf("expected snapshot watermark to be recorded")
	}
}

func TestSyncCountIncrementsPerSuccessfulPoll(t *testing.T) {
	client := &fakeClient{}
	store := material.NewStore()
	coord, err := NewCoordinator(client, store, CoordinatorOptions{})
	if err != nil {
		t.Fatalf("new coordinator failed: %v", err)
	}

	coord.pollOnce(context.Background())
	coord.pollOnce(context.Background())

	if got := coord.SyncCount(); got != 2 {
		t.Fatalf("expected 2 successful syncs, got %d", got)
	}
}
