package material

import (
	"testing"
)

func record(id int64, name string, status Status, updatedAt string) Material {
	return Material{
		ID:               id,
		FileName:         name,
		UploadDate:       "2026-05-01T09:00:00Z",
		ProcessingStatus: status,
		UpdatedAt:        updatedAt,
	}
}

func TestReconcileNeverDuplicatesIDs(t *testing.T) {
	store := NewStore()
	store.Reconcile(record(1, "A.pdf", StatusPending, "t1"))
	store.Reconcile(record(1, "A.pdf", StatusProcessing, "t2"))
	store.Reconcile(
		record(2, "B.pdf", StatusPending, "t2"),
		record(1, "A.pdf", StatusCompleted, "t3"),
		record(2, "B.pdf", StatusProcessing, "t3"),
	)

	seen := map[int64]int{}
	for _, rec := range store.List() {
		seen[rec.ID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("expected exactly one record for id %d, got %d", id, count)
		}
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", store.Len())
	}
}

func TestReconcileReplacesInPlaceAndAppendsNew(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{
		record(1, "A.pdf", StatusPending, "t1"),
		record(2, "B.pdf", StatusPending, "t1"),
		record(3, "C.pdf", StatusPending, "t1"),
	})

	store.Reconcile(record(2, "B-renamed.pdf", StatusCompleted, "t2"))
	store.Reconcile(record(4, "New.txt", StatusPending, "t2"))

	list := store.List()
	wantOrder := []int64{1, 2, 3, 4}
	if len(list) != len(wantOrder) {
		t.Fatalf("expected %d records, got %d", len(wantOrder), len(list))
	}
	for i, id := range wantOrder {
		if list[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d", i, id, list[i].ID)
		}
	}
	if list[1].FileName != "B-renamed.pdf" {
		t.Fatalf("expected replaced record at original position, got %q", list[1].FileName)
	}
}

func TestReconcileEmptyInputIsNoOp(t *testing.T) {
	store := NewStore()
	store.Reconcile(record(1, "A.pdf", StatusPending, "t1"))
	store.Reconcile()
	if store.Len() != 1 {
		t.Fatalf("expected 1 record after empty reconcile, got %d", store.Len())
	}
}

func TestCrossChannelConvergence(t *testing.T) {
	// A push update and a poll result carrying the same version must
	// converge to a single record in either arrival order.
	orders := [][]Material{
		{record(1, "A.pdf", StatusCompleted, "t2"), record(1, "A.pdf", StatusCompleted, "t2")},
	}
	for _, updates := range orders {
		store := NewStore()
		store.Replace([]Material{record(1, "A.pdf", StatusPending, "t1")})
		for _, update := range updates {
			store.Reconcile(update)
		}
		if store.Len() != 1 {
			t.Fatalf("expected 1 record, got %d", store.Len())
		}
		got, _ := store.Get(1)
		if got.ProcessingStatus != StatusCompleted {
			t.Fatalf("expected status completed, got %q", got.ProcessingStatus)
		}
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{
		record(1, "A.pdf", StatusPending, "t1"),
		record(2, "B.pdf", StatusPending, "t1"),
	})

	if !store.Remove(1) {
		t.Fatalf("expected first remove to report true")
	}
	after := store.List()
	if store.Remove(1) {
		t.Fatalf("expected second remove to report false")
	}
	again := store.List()
	if len(after) != len(again) || len(after) != 1 || after[0].ID != 2 {
		t.Fatalf("expected store unchanged by duplicate remove, got %v then %v", after, again)
	}
	if store.Remove(99) {
		t.Fatalf("expected remove of unknown id to report false")
	}
}

func TestRemoveKeepsIndexConsistent(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{
		record(1, "A.pdf", StatusPending, "t1"),
		record(2, "B.pdf", StatusPending, "t1"),
		record(3, "C.pdf", StatusPending, "t1"),
	})
	store.Remove(2)
	store.Reconcile(record(3, "C-renamed.pdf", StatusCompleted, "t2"))

	got, ok := store.Get(3)
	if !ok || got.FileName != "C-renamed.pdf" {
		t.Fatalf("expected id 3 reachable and updated after removal of id 2, got %v ok=%v", got, ok)
	}
	list := store.List()
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Fatalf("unexpected order after remove: %v", list)
	}
}

func TestAppendSummaryDropsOrphan(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{record(1, "A.pdf", StatusCompleted, "t1")})

	applied := store.AppendSummary(Summary{ID: 10, StudyMaterialID: 99, Content: "orphan"})
	if applied {
		t.Fatalf("expected orphan summary to be dropped")
	}
	if store.Len() != 1 {
		t.Fatalf("expected no new record from orphan child event, got %d", store.Len())
	}
	got, _ := store.Get(1)
	if len(got.Summaries) != 0 {
		t.Fatalf("expected no summaries on unrelated parent, got %d", len(got.Summaries))
	}
}

func TestAppendChildrenAreMonotonicAndDeduped(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{record(1, "A.pdf", StatusCompleted, "t1")})

	if !store.AppendSummary(Summary{ID: 10, StudyMaterialID: 1, Content: "first"}) {
		t.Fatalf("expected first summary to apply")
	}
	if store.AppendSummary(Summary{ID: 10, StudyMaterialID: 1, Content: "duplicate"}) {
		t.Fatalf("expected redelivered summary to be dropped")
	}
	if !store.AppendSummary(Summary{ID: 11, StudyMaterialID: 1, Content: "second"}) {
		t.Fatalf("expected second summary to apply")
	}
	if !store.AppendFlashcardSet(FlashcardSet{ID: 20, StudyMaterialID: 1, Cards: []Flashcard{{Question: "q", Answer: "a"}}}) {
		t.Fatalf("expected flashcard set to apply")
	}
	if store.AppendFlashcardSet(FlashcardSet{ID: 20, StudyMaterialID: 1}) {
		t.Fatalf("expected redelivered flashcard set to be dropped")
	}
	if !store.AppendQuiz(Quiz{ID: 30, StudyMaterialID: 1, Questions: []QuizQuestion{{Question: "q", Options: []string{"a", "b"}, Answer: "a"}}}) {
		t.Fatalf("expected quiz to apply")
	}

	got, _ := store.Get(1)
	if len(got.Summaries) != 2 || got.Summaries[0].Content != "first" || got.Summaries[1].Content != "second" {
		t.Fatalf("unexpected summaries: %v", got.Summaries)
	}
	if len(got.FlashcardSets) != 1 || len(got.Quizzes) != 1 {
		t.Fatalf("expected one flashcard set and one quiz, got %d and %d", len(got.FlashcardSets), len(got.Quizzes))
	}
}

func TestFullRecordRefreshReplacesNestedListsAtomically(t *testing.T) {
	store := NewStore()
	store.Replace([]Material{record(1, "A.pdf", StatusCompleted, "t1")})
	store.AppendSummary(Summary{ID: 10, StudyMaterialID: 1, Content: "stale"})

	refreshed := record(1, "A.pdf", StatusCompleted, "t2")
	refreshed.Summaries = []Summary{
		{ID: 10, StudyMaterialID: 1, Content: "fresh"},
		{ID: 11, StudyMaterialID: 1, Content: "also fresh"},
	}
	store.Reconcile(refreshed)

	got, _ := store.Get(1)
	if len(got.Summaries) != 2 || got.Summaries[0].Content != "fresh" {
		t.Fatalf("expected nested list replaced wholesale by record refresh, got %v", got.Summaries)
	}
}

func TestListAndGetReturnCopies(t *testing.T) {
	store := NewStore()
	parent := record(1, "A.pdf", StatusCompleted, "t1")
	parent.Summaries = []Summary{{ID: 10, StudyMaterialID: 1, Content: "original"}}
	store.Replace([]Material{parent})

	list := store.List()
	list[0].FileName = "tampered"
	list[0].Summaries[0].Content = "tampered"

	got, _ := store.Get(1)
	if got.FileName != "A.pdf" || got.Summaries[0].Content != "original" {
		t.Fatalf("store state leaked through List: %v", got)
	}

	got.Summaries[0].Content = "tampered again"
	fresh, _ := store.Get(1)
	if fresh.Summaries[0].Content != "original" {
		t.Fatalf("store state leaked through Get")
	}
}
