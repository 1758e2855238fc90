package cycle

import (
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
)

// Tally is the aggregate view of a cycle computed from its execution records
type Tally struct {
	Progress  float64
	Completed int
	Failed    int
}

// Aggregate computes cycle progress over the workflow steps.
// Completed and skipped steps contribute 100, in-flight steps contribute their
// fraction, everything else contributes 0. The denominator is the workflow length,
// so missing records never inflate the result.
func Aggregate(w Workflow, latest map[string]*jobexec.Record) Tally {
	var t Tally
	total := w.Len()
	if total == 0 {
		return t
	}

	sum := 0.0
	for _, step := range w.Steps {
		rec, ok := latest[step.StepID]
		if !ok || rec == nil {
			continue
		}
		switch {
		case rec.Status.IsDone():
			sum += 100
			t.Completed++
		case rec.Status.IsInFlight():
			sum += jobexec.ClampProgress(rec.Progress) * 100
		case rec.Status == jobexec.StatusFailed:
			t.Failed++
		}
	}

	t.Progress = ClampPercent(sum / float64(total))
	return t
}

// ClampPercent bounds a percentage to [0,100]
func ClampPercent(p float64) float64 {
	if p != p || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ResumeIndex returns the index of the first step whose record is missing or
// not done. Failed and cancelled records are not done. Returns Len() when every
// step is done.
func ResumeIndex(w Workflow, latest map[string]*jobexec.Record) int {
	for i, step := range w.Steps {
		rec, ok := latest[step.StepID]
		if !ok || rec == nil || !rec.Status.IsDone() {
			return i
		}
	}
	return w.Len()
}

// IsExhausted returns true when every step has a completed, failed or skipped record
func IsExhausted(w Workflow, latest map[string]*jobexec.Record) bool {
	if w.Len() == 0 {
		return false
	}
	for _, step := range w.Steps {
		rec, ok := latest[step.StepID]
		if !ok || rec == nil || !rec.Status.IsExhausted() {
			return false
		}
	}
	return true
}
