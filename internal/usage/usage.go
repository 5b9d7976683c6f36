// Package usage reads rate limit information from the session logs the
// Codex CLI writes under $CODEX_HOME/sessions. Everything here is offline:
// it never talks to the usage API.
package usage

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Dicklesworthstone/codex_account_manager/internal/account"
)

// Valid reset timestamps lie between 2000-01-01 and 2100-01-01.
const (
	MinValidEpochMs int64 = 946684800000
	MaxValidEpochMs int64 = 4102444800000

	// Timestamps below this are taken to be in seconds.
	secondsThreshold int64 = 1_000_000_000_000
)

var (
	ErrNoRateLimits     = errors.New("no rate limits found in session file")
	ErrInvalidPercent   = errors.New("invalid used_percent in rate_limits")
	ErrInvalidTimestamp = errors.New("invalid reset timestamp")
)

// Window is one rate limit window as reported in a token_count event.
type Window struct {
	UsedPercent   float64 `json:"used_percent"`
	WindowMinutes int     `json:"window_minutes"`
	ResetsAt      int64   `json:"resets_at"`
}

// PercentLeft returns 100 minus the used percentage.
func (w Window) PercentLeft() float64 {
	return 100 - w.UsedPercent
}

// RateLimits carries the five-hour (primary) and weekly (secondary) windows.
type RateLimits struct {
	Primary   *Window `json:"primary"`
	Secondary *Window `json:"secondary"`
}

// NormalizeTimestampMs converts a unix timestamp in seconds or milliseconds
// to milliseconds and checks it is in a plausible range.
func NormalizeTimestampMs(ts int64) (int64, error) {
	if ts <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, ts)
	}
	ms := ts
	if ts < secondsThreshold {
		ms = ts * 1000
	}
	if ms < MinValidEpochMs || ms > MaxValidEpochMs {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidTimestamp, ts)
	}
	return ms, nil
}

// ValidateUsedPercent rejects NaN and values outside [0,100].
func ValidateUsedPercent(v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPercent, v)
	}
	return v, nil
}

// Snapshot converts rate limits into the stored usage form. The code review
// window is never present in session logs.
func (r RateLimits) Snapshot(updated time.Time, sourceFile string) (account.UsageSnapshot, error) {
	if r.Primary == nil {
		return account.UsageSnapshot{}, fmt.Errorf("%w: no primary window", ErrNoRateLimits)
	}
	if r.Secondary == nil {
		return account.UsageSnapshot{}, fmt.Errorf("%w: no secondary window", ErrNoRateLimits)
	}

	primaryUsed, err := ValidateUsedPercent(r.Primary.UsedPercent)
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	secondaryUsed, err := ValidateUsedPercent(r.Secondary.UsedPercent)
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	fiveHourReset, err := NormalizeTimestampMs(r.Primary.ResetsAt)
	if err != nil {
		return account.UsageSnapshot{}, err
	}
	weeklyReset, err := NormalizeTimestampMs(r.Secondary.ResetsAt)
	if err != nil {
		return account.UsageSnapshot{}, err
	}

	return account.UsageSnapshot{
		FiveHourPercentLeft: 100 - primaryUsed,
		FiveHourResetTimeMs: fiveHourReset,
		WeeklyPercentLeft:   100 - secondaryUsed,
		WeeklyResetTimeMs:   weeklyReset,
		LastUpdated:         strconv.FormatInt(updated.UnixMilli(), 10),
		SourceFile:          sourceFile,
	}, nil
}

// ResetTime converts a stored epoch-ms reset value to a time.
func ResetTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Summary renders a snapshot as "5h 75% · wk 40%", or "-" when there is
// none.
func Summary(u *account.UsageSnapshot) string {
	if u == nil {
		return "-"
	}
	return fmt.Sprintf("5h %.0f%% · wk %.0f%%", u.FiveHourPercentLeft, u.WeeklyPercentLeft)
}

// MinPercentLeft returns the tighter of the two windows.
func MinPercentLeft(u *account.UsageSnapshot) float64 {
	if u == nil {
		return 100
	}
	return math.Min(u.FiveHourPercentLeft, u.WeeklyPercentLeft)
}
