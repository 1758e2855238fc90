package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string   { return e.msg }
func (e *httpError) StatusCode() int { return e.code }

func TestQuotaClassifier_QuotaSignals(t *testing.T) {
	c := NewQuotaClassifier()

	var syntaxErr error
	var v map[string]any
	syntaxErr = json.Unmarshal([]byte("You exceeded your daily API requests limit."), &v)

	tests := []struct {
		name string
		err  error
	}{
		{"daily limit phrasing", errors.New("You exceeded your daily API requests limit")},
		{"daily limit lowercase", errors.New("you have exceeded your daily limit")},
		{"daily limit extra whitespace", errors.New("You  exceeded\tyour daily   API requests limit")},
		{"payment required text", errors.New("GET /v1/quotes: 402 Payment Required")},
		{"status 402", errors.New("unexpected status 402 from provider")},
		{"status coder 402", &httpError{code: 402, msg: "provider error"}},
		{"wrapped status coder", fmt.Errorf("sync quotes: %w", &httpError{code: 402, msg: "nope"})},
		{"serialization fault", syntaxErr},
		{"wrapped serialization fault", fmt.Errorf("decode: %w", syntaxErr)},
		{"daily api limit reached", errors.New("Daily API limit reached")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, c.IsQuotaSignal(tt.err))
		})
	}
}

func TestQuotaClassifier_OrdinaryFailures(t *testing.T) {
	c := NewQuotaClassifier()

	tests := []struct {
		name string
		err  error
	}{
		{"nil", nil},
		{"generic", errors.New("connection reset by peer")},
		{"timeout", context.DeadlineExceeded},
		{"status coder 500", &httpError{code: 500, msg: "internal error"}},
		{"status coder 429", &httpError{code: 429, msg: "slow down"}},
		{"other json fault", errors.New("invalid character '<' looking for beginning of value")},
		{"402 as a count", errors.New("processed 402 rows then failed")},
		{"monthly limit", errors.New("exceeded your monthly quota")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, c.IsQuotaSignal(tt.err))
		})
	}
}

func TestQuotaClassifier_ConcurrentUse(t *testing.T) {
	c := NewQuotaClassifier()
	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = c.IsQuotaSignal(errors.New("You exceeded your daily API requests limit"))
			}
			done <- true
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("classifier goroutines did not finish")
		}
	}
}

func TestNextUTCMidnight(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "afternoon",
			now:  time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC),
			want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight rolls to the next day",
			now:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "year end",
			now:  time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-UTC input",
			now:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("JST", 9*3600)),
			want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextUTCMidnight(tt.now)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
