package collector

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"klinecollector/internal/normalize"
	"klinecollector/pkg/kline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitError is an archive unit that could not be read for a reason other
// than absence. It carries enough to retry the unit out of band.
type UnitError struct {
	Unit    string
	Address string
	Err     error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("archive unit %s (%s): %v", e.Unit, e.Address, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// GapOutcome is one detected gap and what backfill made of it.
type GapOutcome struct {
	Gap       kline.Gap
	Recovered int
	Resolved  bool
	Residual  []kline.Gap
	Err       string
}

// StreamReport is the outcome of one (instrument, timeframe) stream.
type StreamReport struct {
	Stream kline.StreamKey
	Start  time.Time
	End    time.Time

	Units         int
	MissingUnits  []string // addresses absent after fallback
	FailedUnits   []UnitError
	RowsCollected int
	RowsRejected  int
	Rejections    []normalize.Rejection

	GapsFound      int
	GapsFilled     int
	GapsUnresolved int
	Gaps           []GapOutcome
	// Unresolved is what gap detection finds on the final series.
	Unresolved   []kline.Gap
	Completeness float64

	FundingAttached int
	RowsLoaded      int
	LocalFile       string
	Errors          []string // funding, local write and load failures
}

// OK reports whether the stream is complete and every sink accepted it.
func (s *StreamReport) OK() bool {
	return len(s.Unresolved) == 0 && s.GapsUnresolved == 0 && len(s.FailedUnits) == 0 && len(s.Errors) == 0
}

// Report is the structured outcome of a run. Partial success is spelled out
// per stream rather than collapsed into a single flag.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Streams    []StreamReport
}

type Totals struct {
	Streams        int
	RowsCollected  int
	RowsRejected   int
	GapsFound      int
	GapsFilled     int
	GapsUnresolved int
	FailedUnits    int
	MissingUnits   int
	RowsLoaded     int
	Errors         int
}

func (r *Report) Totals() Totals {
	t := Totals{Streams: len(r.Streams)}
	for _, s := range r.Streams {
		t.RowsCollected += s.RowsCollected
		t.RowsRejected += s.RowsRejected
		t.GapsFound += s.GapsFound
		t.GapsFilled += s.GapsFilled
		t.GapsUnresolved += s.GapsUnresolved
		t.FailedUnits += len(s.FailedUnits)
		t.MissingUnits += len(s.MissingUnits)
		t.RowsLoaded += s.RowsLoaded
		t.Errors += len(s.Errors)
	}
	return t
}

// OK reports whether every stream is OK.
func (r *Report) OK() bool {
	for i := range r.Streams {
		if !r.Streams[i].OK() {
			return false
		}
	}
	return true
}

// Stream returns the report of one stream, or nil.
func (r *Report) Stream(key kline.StreamKey) *StreamReport {
	for i := range r.Streams {
		if r.Streams[i].Stream == key {
			return &r.Streams[i]
		}
	}
	return nil
}

func (r *Report) sortStreams() {
	sort.Slice(r.Streams, func(i, j int) bool {
		return r.Streams[i].Stream.String() < r.Streams[j].Stream.String()
	})
}

// Log writes the run summary and every defect to logger.
func (r *Report) Log(logger *zap.Logger) {
	t := r.Totals()
	logger.Info("run finished",
		zap.String("run_id", r.RunID.String()),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
		zap.Int("streams", t.Streams),
		zap.Int("rows_collected", t.RowsCollected),
		zap.Int("rows_rejected", t.RowsRejected),
		zap.Int("gaps_found", t.GapsFound),
		zap.Int("gaps_filled", t.GapsFilled),
		zap.Int("gaps_unresolved", t.GapsUnresolved),
		zap.Int("failed_units", t.FailedUnits),
		zap.Int("rows_loaded", t.RowsLoaded),
	)
	for _, s := range r.Streams {
		for _, g := range s.Unresolved {
			logger.Error("unresolved gap",
				zap.String("stream", s.Stream.String()),
				zap.Time("start", g.Start),
				zap.Time("end", g.End),
				zap.Int("missing", g.Missing()),
			)
		}
		for _, u := range s.FailedUnits {
			logger.Error("failed archive unit",
				zap.String("stream", s.Stream.String()),
				zap.String("unit", u.Unit),
				zap.String("address", u.Address),
				zap.Error(u.Err),
			)
		}
		for _, e := range s.Errors {
			logger.Error("stream error", zap.String("stream", s.Stream.String()), zap.String("error", e))
		}
	}
}

// WriteTable prints a per-stream summary.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", r.RunID)
	fmt.Fprintln(tw, "STREAM\tROWS\tREJECTED\tGAPS\tFILLED\tUNRESOLVED\tFAILED UNITS\tLOADED\tCOMPLETENESS")
	for _, s := range r.Streams {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.4f\n",
			s.Stream, s.RowsCollected, s.RowsRejected, s.GapsFound, s.GapsFilled,
			s.GapsUnresolved, len(s.FailedUnits), s.RowsLoaded, s.Completeness)
	}
	t := r.Totals()
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
		t.RowsCollected, t.RowsRejected, t.GapsFound, t.GapsFilled, t.GapsUnresolved, t.FailedUnits, t.RowsLoaded)
	return tw.Flush()
}
