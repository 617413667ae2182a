package jobstate

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSubmitted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRunning, false},
		{StatusSubmitted, StatusSubmitted, true},
		{StatusSubmitted, StatusRunning, true},
		{StatusSubmitted, StatusCompleted, true},
		{StatusSubmitted, StatusExpired, true},
		{StatusRunning, StatusSubmitted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusSubmitted, false},
		{StatusExpired, StatusFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPredecessors(t *testing.T) {
	got := predecessors(StatusCompleted)
	if len(got) != 2 || got[0] != StatusSubmitted || got[1] != StatusRunning {
		t.Fatalf("unexpected predecessors %v", got)
	}
	if len(predecessors(StatusPending)) != 1 {
		t.Fatalf("pending should only follow itself, got %v", predecessors(StatusPending))
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus(" RUNNING "); !ok || status != StatusRunning {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("paused"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestRecordValidate(t *testing.T) {
	valid := func() *Record {
		return &Record{
			Name:       "reviews",
			Status:     StatusSubmitted,
			InputCount: 5,
			SubBatches: []SubBatch{
				{BatchID: "b1", Offset: 0, Size: 3},
				{BatchID: "b2", Offset: 3, Size: 2},
			},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Record)
		want   string
	}{
		{"empty name", func(r *Record) { r.Name = " " }, "name required"},
		{"unknown status", func(r *Record) { r.Status = "paused" }, "unknown status"},
		{"gap", func(r *Record) { r.SubBatches[1].Offset = 4 }, "expected 3"},
		{"zero size", func(r *Record) { r.SubBatches[0].Size = 0 }, "size 0"},
		{"short coverage", func(r *Record) { r.InputCount = 6 }, "cover 5 of 6"},
		{"over coverage", func(r *Record) { r.InputCount = 4 }, "job has 4"},
		{"missing batch id", func(r *Record) { r.SubBatches[0].BatchID = "" }, "no batch id"},
		{"error on running", func(r *Record) { r.Status = StatusRunning; r.Error = "x" }, "error set"},
		{"upper-case status", func(r *Record) { r.Status = "COMPLETED" }, "unknown status"},
		{"short item ids", func(r *Record) { r.ItemIDs = []string{"a", "b"} }, "2 item ids for 5 inputs"},
		{"blank item id", func(r *Record) { r.ItemIDs = []string{"a", "b", " ", "d", "e"} }, "blank id"},
		{"duplicate item id", func(r *Record) { r.ItemIDs = []string{"a", "b", "c", "a", "e"} }, "duplicate item id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := valid()
			tc.mutate(rec)
			err := rec.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	keyed := valid()
	keyed.ItemIDs = []string{"r1", "r2", "r3", "r4", "r5"}
	if err := keyed.Validate(); err != nil {
		t.Fatalf("expected keyed record to be valid, got %v", err)
	}
	if keyed.ItemID(3) != "r4" || valid().ItemID(3) != "" {
		t.Fatalf("unexpected item ids %q / %q", keyed.ItemID(3), valid().ItemID(3))
	}

	partial := valid()
	partial.Status = StatusFailed
	partial.InputCount = 9
	partial.Error = "chunk at offset 5 rejected"
	if err := partial.Validate(); err != nil {
		t.Fatalf("failed record may cover a prefix, got %v", err)
	}
}
