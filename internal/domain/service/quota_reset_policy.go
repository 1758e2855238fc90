package service

import "time"

// QuotaResetPolicy returns the next moment the provider quota window rolls over
type QuotaResetPolicy func(now time.Time) time.Time

// NextUTCMidnight is the reset policy of providers with daily UTC quotas
func NextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
