package domain

import (
	"testing"
	"time"
)

func cand(id string, offsetMinutes int) Candidate {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Candidate{ID: id, Timestamp: base.Add(time.Duration(offsetMinutes) * time.Minute)}
}

func TestSelectOldestOrdersBeforeTruncating(t *testing.T) {
	// Provider list order is newest-first; the oldest entries appear last.
	candidates := []Candidate{cand("e", 5), cand("c", 3), cand("a", 1), cand("b", 2), cand("d", 4)}

	selected, hasMore := SelectOldest(candidates, 2)
	if !hasMore {
		t.Error("Expected hasMore with 5 candidates and limit 2")
	}
	if len(selected) != 2 {
		t.Fatalf("Expected 2 selected, got %d", len(selected))
	}
	if selected[0].ID != "a" || selected[1].ID != "b" {
		t.Errorf("Expected the two oldest [a b], got [%s %s]", selected[0].ID, selected[1].ID)
	}
}

func TestSelectOldestLimitCoversAll(t *testing.T) {
	candidates := []Candidate{cand("b", 2), cand("a", 1)}

	selected, hasMore := SelectOldest(candidates, 5)
	if hasMore {
		t.Error("Expected no more candidates when limit exceeds count")
	}
	if len(selected) != 2 || selected[0].ID != "a" {
		t.Errorf("Expected all candidates sorted ascending, got %v", selected)
	}
}

func TestSelectOldestEmpty(t *testing.T) {
	selected, hasMore := SelectOldest(nil, 10)
	if len(selected) != 0 || hasMore {
		t.Errorf("Expected empty result, got %v hasMore=%v", selected, hasMore)
	}
}

func TestSelectOldestDoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{cand("b", 2), cand("a", 1)}
	SelectOldest(candidates, 1)
	if candidates[0].ID != "b" {
		t.Error("Expected input slice left untouched")
	}
}

func TestSelectOldestStableForEqualTimestamps(t *testing.T) {
	candidates := []Candidate{cand("first", 1), cand("second", 1), cand("third", 1)}
	selected, _ := SelectOldest(candidates, 3)
	if selected[0].ID != "first" || selected[1].ID != "second" || selected[2].ID != "third" {
		t.Errorf("Expected original order preserved for ties, got %v", selected)
	}
}

func TestSortMessagesAscending(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := []*Message{
		{ExternalID: "late", Timestamp: base.Add(2 * time.Hour)},
		{ExternalID: "early", Timestamp: base},
		{ExternalID: "mid", Timestamp: base.Add(time.Hour)},
	}
	SortMessages(messages)
	want := []string{"early", "mid", "late"}
	for i, id := range want {
		if messages[i].ExternalID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, messages[i].ExternalID)
		}
	}
}

func TestFilterAfterDropsCheckpointCoveredCandidates(t *testing.T) {
	since := cand("checkpoint", 2).Timestamp
	candidates := []Candidate{cand("before", 1), cand("equal", 2), cand("after", 3)}

	filtered := FilterAfter(candidates, &since)
	if len(filtered) != 1 || filtered[0].ID != "after" {
		t.Errorf("Expected only candidates strictly after the checkpoint, got %v", filtered)
	}
}

func TestFilterAfterNilSincePassesThrough(t *testing.T) {
	candidates := []Candidate{cand("a", 1), cand("b", 2)}
	if filtered := FilterAfter(candidates, nil); len(filtered) != 2 {
		t.Errorf("Expected all candidates without a checkpoint, got %v", filtered)
	}
}

func TestTruncateBeforeEndsBatchAtBarrier(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := []*Message{
		{ExternalID: "older", Timestamp: base.Add(1 * time.Minute)},
		{ExternalID: "atBarrier", Timestamp: base.Add(2 * time.Minute)},
		{ExternalID: "newer", Timestamp: base.Add(3 * time.Minute)},
	}

	kept := TruncateBefore(messages, base.Add(2*time.Minute))
	if len(kept) != 1 || kept[0].ExternalID != "older" {
		t.Errorf("Expected only messages strictly older than the barrier, got %v", kept)
	}
}
