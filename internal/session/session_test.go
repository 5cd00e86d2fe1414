package session

import "testing"

func TestAddScoreAccumulatesSignedDeltas(t *testing.T) {
	s := New("id1", "/spool/id1", 100)

	s.AddScore(-9, "keyword: free money")
	s.AddScore(-3, "bayes: likely spam")
	s.AddScore(2, "whitelist: trusted sender")

	if got, want := s.SpamScore, -10.0; got != want {
		t.Errorf("SpamScore = %v, want %v", got, want)
	}
	if len(s.SpamDetails) != 3 {
		t.Fatalf("SpamDetails = %v, want 3 entries", s.SpamDetails)
	}
}

func TestAddScoreSkipsEmptyDetail(t *testing.T) {
	s := New("id1", "/spool/id1", 100)
	s.AddScore(-1, "")
	if len(s.SpamDetails) != 0 {
		t.Errorf("SpamDetails = %v, want empty", s.SpamDetails)
	}
}

func TestFlags(t *testing.T) {
	s := New("id1", "/spool/id1", 100)
	if s.HasFlag("user_resolved") {
		t.Fatal("fresh session should have no flags set")
	}
	s.SetFlag("user_resolved")
	if !s.HasFlag("user_resolved") {
		t.Fatal("SetFlag did not stick")
	}
}

func TestIsTerminal(t *testing.T) {
	s := New("id1", "/spool/id1", 100)
	if s.IsTerminal() {
		t.Fatal("fresh session should not be terminal")
	}
	s.Virus = "EICAR-Test-Signature"
	if !s.IsTerminal() {
		t.Fatal("session with a virus label should be terminal")
	}
}

func TestMergeSnapshotPreservesExistingEnvelope(t *testing.T) {
	s := New("id2", "/spool/id2", 50)
	s.From = "sender@example.com"
	s.AddScore(-5, "local: prior hit")

	snap := Snapshot{
		SpamScore:   -20,
		SpamDetails: []string{"policy: prior classification"},
		Flags:       map[string]bool{"greylisted": true},
		From:        "other@example.com",
		PrevID:      "QUEUEPREV1",
	}
	s.MergeSnapshot(snap)

	if s.SpamScore != -25 {
		t.Errorf("SpamScore = %v, want -25", s.SpamScore)
	}
	if s.From != "sender@example.com" {
		t.Errorf("From got overwritten: %v", s.From)
	}
	if !s.HasFlag("greylisted") {
		t.Error("merged flag missing")
	}
	if s.PrevID != "QUEUEPREV1" {
		t.Errorf("PrevID = %v, want QUEUEPREV1", s.PrevID)
	}
	if len(s.SpamDetails) != 2 {
		t.Errorf("SpamDetails = %v, want 2 entries", s.SpamDetails)
	}
}

func TestToSnapshotRoundTrip(t *testing.T) {
	s := New("id3", "/spool/id3", 10)
	s.QueueID = "QUEUEABC"
	s.To = []string{"a@example.com", "b@example.com"}
	s.AddScore(-7, "spamd: 7.0/5.0")

	snap := s.ToSnapshot()
	if snap.QueueID != "QUEUEABC" {
		t.Errorf("QueueID = %v", snap.QueueID)
	}
	if snap.SpamScore != -7 {
		t.Errorf("SpamScore = %v", snap.SpamScore)
	}
	if len(snap.To) != 2 {
		t.Errorf("To = %v", snap.To)
	}

	// Mutating the session afterward must not retroactively change the
	// snapshot already taken (ToSnapshot copies slices/maps).
	s.AddScore(-1, "late")
	if snap.SpamScore != -7 {
		t.Errorf("snapshot mutated after capture: %v", snap.SpamScore)
	}
}
