package postgres

import "time"

// RunRecord is one collection run.
type RunRecord struct {
	ID uint `gorm:"primaryKey"`

	RunID      string    `gorm:"type:uuid;not null;uniqueIndex:idx_run_id"`
	StartedAt  time.Time `gorm:"not null;index:idx_run_started_at"`
	FinishedAt time.Time `gorm:"not null"`

	Streams        int  `gorm:"not null"`
	RowsCollected  int  `gorm:"not null"`
	RowsRejected   int  `gorm:"not null"`
	GapsFound      int  `gorm:"not null"`
	GapsFilled     int  `gorm:"not null"`
	GapsUnresolved int  `gorm:"not null"`
	FailedUnits    int  `gorm:"not null"`
	MissingUnits   int  `gorm:"not null"`
	RowsLoaded     int  `gorm:"not null"`
	OK             bool `gorm:"not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (RunRecord) TableName() string {
	return "collect_run"
}

// StreamRecord is the outcome of one stream within a run.
type StreamRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	RunID  string `gorm:"type:uuid;not null;index:idx_stream_run_stream,unique"`
	Stream string `gorm:"type:text;not null;index:idx_stream_run_stream,unique;index:idx_stream_stream"`

	Market   string `gorm:"type:varchar(16);not null"`
	Symbol   string `gorm:"type:text;not null"`
	Interval string `gorm:"type:varchar(8);not null"`

	RangeStart time.Time `gorm:"not null"`
	RangeEnd   time.Time `gorm:"not null"`

	RowsCollected  int     `gorm:"not null"`
	RowsRejected   int     `gorm:"not null"`
	GapsFound      int     `gorm:"not null"`
	GapsFilled     int     `gorm:"not null"`
	GapsUnresolved int     `gorm:"not null"`
	FailedUnits    int     `gorm:"not null"`
	MissingUnits   int     `gorm:"not null"`
	RowsLoaded     int     `gorm:"not null"`
	Completeness   float64 `gorm:"type:numeric;not null"`
	LocalFile      string  `gorm:"type:text"`
	Errors         string  `gorm:"type:text"`
}

func (StreamRecord) TableName() string {
	return "collect_stream"
}

// GapRecord is one detected gap, resolved or not.
type GapRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	RunID  string    `gorm:"type:uuid;not null;index:idx_gap_run_stream_start,unique"`
	Stream string    `gorm:"type:text;not null;index:idx_gap_run_stream_start,unique;index:idx_gap_stream_resolved"`
	Start  time.Time `gorm:"not null;index:idx_gap_run_stream_start,unique"`

	End       time.Time `gorm:"not null"`
	Missing   int       `gorm:"not null"`
	Recovered int       `gorm:"not null"`
	Resolved  bool      `gorm:"not null;index:idx_gap_stream_resolved"`
	Error     string    `gorm:"type:text"`
}

func (GapRecord) TableName() string {
	return "collect_gap"
}
