package postgres

import (
	"context"
	"fmt"
	"strings"

	"klinecollector/internal/binance/collector"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// SaveReport writes the run, its streams and every gap in one transaction.
// A run already in the ledger is left untouched.
func (p *PostgresClient) SaveReport(ctx context.Context, r *collector.Report) error {
	run, streams, gaps := ToRecords(r)

	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).Create(&run)
		if res.Error != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // already recorded
		}

		if len(streams) > 0 {
			if err := tx.CreateInBatches(streams, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert streams of run %s: %w", run.RunID, err)
			}
		}
		if len(gaps) > 0 {
			if err := tx.CreateInBatches(gaps, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert gaps of run %s: %w", run.RunID, err)
			}
		}
		return nil
	})
}

// UnresolvedGaps lists the gaps the most recent run of a stream left
// unresolved, oldest first. Gaps of earlier runs are superseded by that run.
func (p *PostgresClient) UnresolvedGaps(ctx context.Context, stream string) ([]GapRecord, error) {
	db := p.DB.WithContext(ctx)
	latest := db.Model(&StreamRecord{}).
		Select("collect_stream.run_id").
		Joins("JOIN collect_run ON collect_run.run_id = collect_stream.run_id").
		Where("collect_stream.stream = ?", stream).
		Order("collect_run.started_at DESC, collect_run.run_id DESC").
		Limit(1)

	var gaps []GapRecord
	err := db.
		Where("stream = ? AND resolved = ? AND run_id = (?)", stream, false, latest).
		Order("start ASC").
		Find(&gaps).Error
	if err != nil {
		return nil, fmt.Errorf("query unresolved gaps of %s: %w", stream, err)
	}
	return gaps, nil
}

// ToRecords flattens a report into ledger rows.
func ToRecords(r *collector.Report) (RunRecord, []StreamRecord, []GapRecord) {
	id := r.RunID.String()
	t := r.Totals()
	run := RunRecord{
		RunID:          id,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Streams:        t.Streams,
		RowsCollected:  t.RowsCollected,
		RowsRejected:   t.RowsRejected,
		GapsFound:      t.GapsFound,
		GapsFilled:     t.GapsFilled,
		GapsUnresolved: t.GapsUnresolved,
		FailedUnits:    t.FailedUnits,
		MissingUnits:   t.MissingUnits,
		RowsLoaded:     t.RowsLoaded,
		OK:             r.OK(),
	}

	var (
		streams []StreamRecord
		gaps    []GapRecord
	)
	for _, s := range r.Streams {
		name := s.Stream.String()
		streams = append(streams, StreamRecord{
			RunID:          id,
			Stream:         name,
			Market:         s.Stream.Market.String(),
			Symbol:         s.Stream.Symbol,
			Interval:       string(s.Stream.Interval),
			RangeStart:     s.Start,
			RangeEnd:       s.End,
			RowsCollected:  s.RowsCollected,
			RowsRejected:   s.RowsRejected,
			GapsFound:      s.GapsFound,
			GapsFilled:     s.GapsFilled,
			GapsUnresolved: s.GapsUnresolved,
			FailedUnits:    len(s.FailedUnits),
			MissingUnits:   len(s.MissingUnits),
			RowsLoaded:     s.RowsLoaded,
			Completeness:   s.Completeness,
			LocalFile:      s.LocalFile,
			Errors:         strings.Join(s.Errors, "\n"),
		})
		for _, g := range s.Gaps {
			gaps = append(gaps, GapRecord{
				RunID:     id,
				Stream:    name,
				Start:     g.Gap.Start,
				End:       g.Gap.End,
				Missing:   g.Gap.Missing(),
				Recovered: g.Recovered,
				Resolved:  g.Resolved,
				Error:     g.Err,
			})
		}
	}
	return run, streams, gaps
}
