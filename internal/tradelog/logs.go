package tradelog

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/polytrader/polytrader/pkg/types"
)

// Logs owns the three durable streams of spec.md §6: activity (trimmed),
// trades, and opportunities (never trimmed).
type Logs struct {
	Activity      *Stream
	Trades        *Stream
	Opportunities *Stream
}

func Open(dir string, activityMaxEntries int) (*Logs, error) {
	activity, err := OpenStream(filepath.Join(dir, "activity.stream"), activityMaxEntries)
	if err != nil {
		return nil, err
	}
	trades, err := OpenStream(filepath.Join(dir, "trades.stream"), 0)
	if err != nil {
		return nil, err
	}
	opps, err := OpenStream(filepath.Join(dir, "opportunities.stream"), 0)
	if err != nil {
		return nil, err
	}
	return &Logs{Activity: activity, Trades: trades, Opportunities: opps}, nil
}

// NewActivityEvent stamps a new ActivityEvent with the next id and the
// current UTC millisecond timestamp.
func (l *Logs) NewActivityEvent(kind types.ActivityEventKind, traceID string) types.ActivityEvent {
	return types.ActivityEvent{
		ID:        l.Activity.NextID(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	}
}

// LogActivity appends an ActivityEvent.
func (l *Logs) LogActivity(ev types.ActivityEvent) error {
	return l.Activity.Append(ev)
}

// LogTrade appends a Trade record (entry or close; corrections are new
// records, per spec.md §4.10 — never an update in place).
func (l *Logs) LogTrade(t types.Trade) error {
	return l.Trades.Append(t)
}

// LogOpportunity appends an Opportunity record.
func (l *Logs) LogOpportunity(o types.Opportunity) error {
	return l.Opportunities.Append(o)
}

// NewTraceID returns a fresh trace id correlating the events of one scan
// cycle.
func NewTraceID() string {
	return uuid.NewString()
}

func (l *Logs) Close() error {
	for _, s := range []*Stream{l.Activity, l.Trades, l.Opportunities} {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return nil
}
