package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"

	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// ReplayMode controls how a feed paces bar delivery.
type ReplayMode string

const (
	// ReplayModeNormal delivers bars as fast as the consumer pulls them.
	ReplayModeNormal ReplayMode = "NORMAL"
	// ReplayModeRealtime sleeps the wall-clock delta between consecutive
	// bar timestamps, capped at MaxRealtimeSleep.
	ReplayModeRealtime ReplayMode = "REALTIME"
	// ReplayModeStepped blocks each Next until an explicit NextStep signal.
	ReplayModeStepped ReplayMode = "STEPPED"
)

// ParseReplayMode converts a configuration string into a ReplayMode.
func ParseReplayMode(s string) (ReplayMode, error) {
	switch ReplayMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ReplayModeNormal:
		return ReplayModeNormal, nil
	case ReplayModeRealtime:
		return ReplayModeRealtime, nil
	case ReplayModeStepped:
		return ReplayModeStepped, nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidReplayMode, "unknown replay mode: %q", s)
	}
}

// BarUnit is the calendar unit of a bar granularity.
type BarUnit string

const (
	BarUnitSecond BarUnit = "sec"
	BarUnitMinute BarUnit = "min"
	BarUnitHour   BarUnit = "hour"
	BarUnitDay    BarUnit = "day"
	BarUnitWeek   BarUnit = "week"
)

// Granularity is the size of one bar, e.g. {5, min} or {1, day}.
type Granularity struct {
	Size int
	Unit BarUnit
}

// ParseGranularity accepts strings like "1 day", "5 min", "30 sec".
func ParseGranularity(s string) (Granularity, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return Granularity{}, errors.Newf(errors.ErrCodeInvalidGranularity, "granularity must be \"<size> <unit>\", got %q", s)
	}

	size, err := strconv.Atoi(fields[0])
	if err != nil || size <= 0 {
		return Granularity{}, errors.Newf(errors.ErrCodeInvalidGranularity, "granularity size must be a positive integer, got %q", fields[0])
	}

	var unit BarUnit
	switch fields[1] {
	case "sec", "secs", "second", "seconds":
		unit = BarUnitSecond
	case "min", "mins", "minute", "minutes":
		unit = BarUnitMinute
	case "hour", "hours":
		unit = BarUnitHour
	case "day", "days":
		unit = BarUnitDay
	case "week", "weeks":
		unit = BarUnitWeek
	default:
		return Granularity{}, errors.Newf(errors.ErrCodeInvalidGranularity, "unknown granularity unit: %q", fields[1])
	}

	return Granularity{Size: size, Unit: unit}, nil
}

func (g Granularity) String() string {
	return fmt.Sprintf("%d %s", g.Size, g.Unit)
}

// Duration returns the wall-clock span of one bar.
func (g Granularity) Duration() time.Duration {
	var unit time.Duration
	switch g.Unit {
	case BarUnitSecond:
		unit = time.Second
	case BarUnitMinute:
		unit = time.Minute
	case BarUnitHour:
		unit = time.Hour
	case BarUnitDay:
		unit = 24 * time.Hour
	case BarUnitWeek:
		unit = 7 * 24 * time.Hour
	}

	return time.Duration(g.Size) * unit
}

// LoadLocation resolves an IANA timezone name, wrapping failures with a
// coded error so configuration problems surface uniformly.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidTimezone, err, "load timezone %q", name)
	}

	return loc, nil
}

// DataProvider is the capability surface every feed implementation exposes.
// The replay synchronizer and the orchestrator consume it; concrete feeds
// (CSV, DuckDB, live gateways) implement it.
type DataProvider interface {
	// PrepareData performs one-time setup (open files, validate schema).
	PrepareData() error
	// StartRequestData begins bar delivery; after it returns the provider
	// must eventually report IsDataReady.
	StartRequestData() error
	// TerminateRequestData stops delivery and releases resources.
	TerminateRequestData() error
	// IsDataReady reports whether Next may be called.
	IsDataReady() bool

	// Next returns the next bar in time order, or None when the feed is
	// exhausted. In REALTIME and STEPPED modes it may block.
	Next() optional.Option[types.Bar]
	// Rewind resets delivery to the first bar.
	Rewind() error
	// Rollback makes the most recently returned bar available again on the
	// next call to Next. Providers that cannot roll back return false.
	Rollback() bool

	// Resample derives a provider with the same data at a coarser
	// granularity.
	Resample(target Granularity) (DataProvider, error)

	Symbol() string
	Granularity() Granularity
	Timezone() string

	SetReplayMode(mode ReplayMode)
	// NextStep releases one blocked Next call in STEPPED mode.
	NextStep()
}
