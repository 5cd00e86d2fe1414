package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/mimemsg"
	"github.com/decency/contentfilter/internal/session"
)

func loadFixture(t *testing.T, subject, body string) *session.Session {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.eml")
	raw := "Subject: " + subject + "\r\nFrom: a@example.com\r\n\r\n" + body
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	mime, err := mimemsg.Load(path)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	sess := session.New("msg1", path, int64(len(raw)))
	sess.MIME = mime
	return sess
}

func TestHandleNoMatchReturnsOKAndNoScoreChange(t *testing.T) {
	sess := loadFixture(t, "Quarterly planning notes", "See attached agenda for Tuesday.")
	m := New("keyword", Lists{}, Weights{})

	out := m.Handle(context.Background(), sess)
	if out.Kind != filtermod.KindOK {
		t.Fatalf("Kind = %v, want KindOK", out.Kind)
	}
	if sess.SpamScore != 0 {
		t.Errorf("SpamScore = %v, want 0", sess.SpamScore)
	}
}

func TestHandleHighRiskMatchPushesScoreMoreSpammy(t *testing.T) {
	sess := loadFixture(t, "You have won the lottery!", "Act now, free money guaranteed income.")
	m := New("keyword", Lists{}, Weights{})

	out := m.Handle(context.Background(), sess)
	if out.Kind != filtermod.KindOK {
		t.Fatalf("Kind = %v, want KindOK", out.Kind)
	}
	if sess.SpamScore >= 0 {
		t.Errorf("SpamScore = %v, want negative (more-spammy)", sess.SpamScore)
	}
	if len(sess.SpamDetails) != 1 {
		t.Fatalf("SpamDetails = %v, want one entry", sess.SpamDetails)
	}
}

func TestHandleUsesCustomWeights(t *testing.T) {
	sess := loadFixture(t, "free offer inside", "")
	lists := Lists{LowRisk: []string{"free", "offer"}}
	weights := Weights{LowRisk: 1.5}
	m := New("keyword", lists, weights)

	m.Handle(context.Background(), sess)
	if got, want := sess.SpamScore, -3.0; got != want {
		t.Errorf("SpamScore = %v, want %v", got, want)
	}
}
