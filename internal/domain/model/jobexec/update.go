package jobexec

import (
	"encoding/json"
	"time"
)

// RecordUpdate is a partial update of a record. Only non-nil fields are written,
// so concurrent writers touching different fields never clobber each other.
type RecordUpdate struct {
	Status    *Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Progress  *float64
	Result    json.RawMessage
	Error     *string

	// SkipReason sets metadata.skipReason, leaving the other metadata fields alone
	SkipReason *string

	// ClearOutcome resets ended_at, error and result before a re-attempt
	ClearOutcome bool
}

// IsEmpty returns true if the update would not change anything
func (u RecordUpdate) IsEmpty() bool {
	return u.Status == nil && u.StartedAt == nil && u.EndedAt == nil &&
		u.Progress == nil && u.Result == nil && u.Error == nil && u.SkipReason == nil && !u.ClearOutcome
}

// Apply applies the update to an in-memory record
func (u RecordUpdate) Apply(r *Record, now time.Time) {
	if u.ClearOutcome {
		r.EndedAt = nil
		r.Error = ""
		r.Result = nil
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		r.StartedAt = &t
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		r.EndedAt = &t
	}
	if u.Progress != nil {
		r.Progress = ClampProgress(*u.Progress)
	}
	if u.Result != nil {
		r.Result = append(json.RawMessage(nil), u.Result...)
	}
	if u.Error != nil {
		r.Error = *u.Error
	}
	if u.SkipReason != nil {
		r.Metadata.SkipReason = *u.SkipReason
	}
	r.UpdatedAt = now
}

// SetStatus returns an update changing only the status
func SetStatus(s Status) RecordUpdate {
	return RecordUpdate{Status: &s}
}

// SetProgress returns an update changing only the progress
func SetProgress(fraction float64) RecordUpdate {
	p := ClampProgress(fraction)
	return RecordUpdate{Progress: &p}
}

// Finish returns an update moving a record into a terminal status
func Finish(s Status, endedAt time.Time, errMsg string) RecordUpdate {
	u := RecordUpdate{Status: &s, EndedAt: &endedAt}
	if errMsg != "" {
		u.Error = &errMsg
	}
	return u
}
