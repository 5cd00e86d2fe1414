package stats

import (
	"testing"
	"time"

	"github.com/decency/contentfilter/internal/filtermod"
)

func TestReportForAggregates(t *testing.T) {
	r := NewRecorder()
	r.Record("keyword", 10*time.Millisecond, filtermod.KindOK)
	r.Record("keyword", 20*time.Millisecond, filtermod.KindSpam)
	r.Record("keyword", 30*time.Millisecond, filtermod.KindError)

	rep := r.ReportFor("keyword")
	if rep.Count != 3 {
		t.Errorf("Count = %d, want 3", rep.Count)
	}
	if rep.Total != 60*time.Millisecond {
		t.Errorf("Total = %v, want 60ms", rep.Total)
	}
	if rep.Average != 20*time.Millisecond {
		t.Errorf("Average = %v, want 20ms", rep.Average)
	}
	if rep.Min != 10*time.Millisecond || rep.Max != 30*time.Millisecond {
		t.Errorf("Min/Max = %v/%v, want 10ms/30ms", rep.Min, rep.Max)
	}
	if rep.Spam != 1 || rep.Errors != 1 {
		t.Errorf("Spam/Errors = %d/%d, want 1/1", rep.Spam, rep.Errors)
	}
}

func TestReportForUnknownModuleIsEmpty(t *testing.T) {
	r := NewRecorder()
	rep := r.ReportFor("nope")
	if rep.Count != 0 {
		t.Errorf("Count = %d, want 0", rep.Count)
	}
}

func TestAllReportsSortedByName(t *testing.T) {
	r := NewRecorder()
	r.Record("spamd", time.Millisecond, filtermod.KindOK)
	r.Record("bayes", time.Millisecond, filtermod.KindOK)
	r.Record("clamav", time.Millisecond, filtermod.KindVirus)

	reports := r.AllReports()
	if len(reports) != 3 {
		t.Fatalf("AllReports() returned %d reports, want 3", len(reports))
	}
	names := []string{reports[0].Module, reports[1].Module, reports[2].Module}
	want := []string{"bayes", "clamav", "spamd"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("AllReports()[%d].Module = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestResetClearsSamples(t *testing.T) {
	r := NewRecorder()
	r.Record("keyword", time.Millisecond, filtermod.KindOK)
	r.Reset()
	if rep := r.ReportFor("keyword"); rep.Count != 0 {
		t.Errorf("Count after Reset = %d, want 0", rep.Count)
	}
}
