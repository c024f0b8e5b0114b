// Package localstore keeps one parquet file per stream and merges new
// candles into it without ever leaving a half-written file behind.
//
// A merge backs up the current file and manifest, writes the merged rows to
// a temporary file in the same directory, reads the temporary file back to
// validate it, and renames it over the original. The new manifest is staged
// next to the old one and renamed last. Any failure restores the backup.
//
// The writer does no locking: merges into the same stream must be
// serialized by the caller.
package localstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"klinecollector/pkg/kline"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

const (
	dataExt   = ".parquet"
	backupDir = ".backup"

	DefaultBackups = 3
)

// Stats is the gap analysis recorded in the manifest.
type Stats struct {
	GapsFound      int
	GapsFilled     int
	GapsUnresolved int
	Completeness   float64
}

// MergeResult describes a completed merge.
type MergeResult struct {
	Path     string
	Rows     int
	Added    int
	Manifest Manifest
}

type Writer struct {
	dir     string
	backups int
	logger  *zap.Logger
	now     func() time.Time

	// beforeReplace runs after the temporary file is validated and before
	// it replaces the original.
	beforeReplace func(tmp string) error
}

type Option func(*Writer)

// WithBackups sets how many backups are retained per stream file.
func WithBackups(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.backups = n
		}
	}
}

func New(dir string, logger *zap.Logger, opts ...Option) *Writer {
	w := &Writer{dir: dir, backups: DefaultBackups, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path is the data file of a stream:
//
//	<dir>/<market>/<SYMBOL>/<archive token>.parquet
//
// The archive token keeps 1m and 1M apart on case-insensitive filesystems.
func (w *Writer) Path(inst kline.Instrument, tf kline.Timeframe) string {
	return filepath.Join(w.dir, inst.Market.String(), strings.ToUpper(inst.Symbol), tf.ArchiveToken+dataExt)
}

// Read loads a stream file after checking it against its manifest. A missing
// file yields no candles and a nil manifest.
func (w *Writer) Read(inst kline.Instrument, tf kline.Timeframe) ([]kline.Candle, *Manifest, error) {
	return w.read(w.Path(inst, tf))
}

func (w *Writer) read(path string) ([]kline.Candle, *Manifest, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	m, err := w.checkIntegrity(path)
	if err != nil {
		return nil, nil, err
	}
	candles, err := readCandles(path)
	if err != nil {
		return nil, nil, err
	}
	return candles, m, nil
}

// checkIntegrity compares the data file with its manifest. When they
// disagree but a staged manifest matches, the interrupted merge had already
// replaced the data file and the staged manifest is promoted.
func (w *Writer) checkIntegrity(path string) (*Manifest, error) {
	got, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}

	m, err := readManifest(ManifestPath(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if m != nil && m.Fingerprint == got {
		os.Remove(pendingPath(path))
		return m, nil
	}

	pending, perr := readManifest(pendingPath(path))
	if perr == nil && pending.Fingerprint == got {
		if err := os.Rename(pendingPath(path), ManifestPath(path)); err != nil {
			return nil, fmt.Errorf("promote staged manifest: %w", err)
		}
		w.logger.Warn("promoted staged manifest", zap.String("path", path))
		return pending, nil
	}

	want := ""
	if m != nil {
		want = m.Fingerprint
	}
	return nil, &IntegrityError{Path: path, Want: want, Got: got}
}

// Merge merges incoming candles of one stream into its file. On success the
// file holds the union ordered by open time, incoming rows winning on equal
// open times. On failure the previous file and manifest are left as they
// were.
func (w *Writer) Merge(inst kline.Instrument, tf kline.Timeframe, incoming []kline.Candle, stats Stats) (MergeResult, error) {
	path := w.Path(inst, tf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return MergeResult{}, err
	}

	existing, _, err := w.read(path)
	if err != nil {
		return MergeResult{}, err
	}
	merged := kline.Merge(existing, incoming)

	bak, err := w.backup(path)
	if err != nil {
		return MergeResult{}, fmt.Errorf("backup %s: %w", path, err)
	}

	res, err := w.replace(path, inst, tf, merged, stats)
	if err != nil {
		if rerr := w.rollback(path, bak); rerr != nil {
			w.logger.Error("rollback failed", zap.String("path", path), zap.Error(rerr))
			return MergeResult{}, fmt.Errorf("merge %s: %w (rollback: %v)", path, err, rerr)
		}
		w.logger.Warn("merge rolled back", zap.String("path", path), zap.Error(err))
		return MergeResult{}, fmt.Errorf("merge %s: %w", path, err)
	}
	res.Added = len(merged) - len(existing)

	w.prune(path)
	return res, nil
}

func (w *Writer) replace(path string, inst kline.Instrument, tf kline.Timeframe, merged []kline.Candle, stats Stats) (MergeResult, error) {
	tmp, err := writeTemp(path, merged)
	if err != nil {
		return MergeResult{}, err
	}
	defer os.Remove(tmp)

	if err := validate(tmp, len(merged)); err != nil {
		return MergeResult{}, err
	}

	sum, err := Fingerprint(tmp)
	if err != nil {
		return MergeResult{}, err
	}
	m := Manifest{
		Stream:         kline.StreamKey{Instrument: inst, Interval: tf.Interval}.String(),
		Rows:           len(merged),
		GapsFound:      stats.GapsFound,
		GapsFilled:     stats.GapsFilled,
		GapsUnresolved: stats.GapsUnresolved,
		Completeness:   stats.Completeness,
		Fingerprint:    sum,
		UpdatedAt:      w.now().UTC(),
	}
	if len(merged) > 0 {
		m.FirstOpen = merged[0].OpenTime
		m.LastOpen = merged[len(merged)-1].OpenTime
	}
	if err := writeManifest(pendingPath(path), &m); err != nil {
		return MergeResult{}, fmt.Errorf("stage manifest: %w", err)
	}

	if w.beforeReplace != nil {
		if err := w.beforeReplace(tmp); err != nil {
			return MergeResult{}, err
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return MergeResult{}, fmt.Errorf("replace: %w", err)
	}
	if err := os.Rename(pendingPath(path), ManifestPath(path)); err != nil {
		return MergeResult{}, fmt.Errorf("commit manifest: %w", err)
	}
	syncDir(filepath.Dir(path))

	return MergeResult{Path: path, Rows: len(merged), Manifest: m}, nil
}

func writeTemp(path string, candles []kline.Candle) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	records := make([]Record, len(candles))
	for i, c := range candles {
		records[i] = toRecord(c)
	}
	if err := parquet.Write(f, records); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// validate reads the file back and checks row count, order and uniqueness.
func validate(path string, want int) error {
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if len(records) != want {
		return fmt.Errorf("validate %s: %d rows, want %d", path, len(records), want)
	}
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1].OpenTime, records[i].OpenTime
		switch {
		case cur == prev:
			return fmt.Errorf("validate %s: duplicate open time %d at row %d", path, cur, i)
		case cur < prev:
			return fmt.Errorf("validate %s: open time %d at row %d precedes %d", path, cur, i, prev)
		}
	}
	return nil
}

func readCandles(path string) ([]kline.Candle, error) {
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]kline.Candle, 0, len(records))
	for _, r := range records {
		c, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// backupSet is one generation of backups. Empty paths mean the file did
// not exist at backup time.
type backupSet struct {
	data     string
	manifest string
}

func (w *Writer) backup(path string) (backupSet, error) {
	var set backupSet
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}

	dir := filepath.Join(filepath.Dir(path), backupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return set, err
	}
	stamp := w.now().UTC().Format("20060102T150405.000000000")
	set.data = filepath.Join(dir, filepath.Base(path)+"."+stamp+".bak")
	if err := copyFile(path, set.data); err != nil {
		return backupSet{}, err
	}

	mp := ManifestPath(path)
	if _, err := os.Stat(mp); err == nil {
		set.manifest = set.data + manifestSuffix
		if err := copyFile(mp, set.manifest); err != nil {
			return backupSet{}, err
		}
	}
	return set, nil
}

// rollback puts the pre-merge data file and manifest back in place.
func (w *Writer) rollback(path string, set backupSet) error {
	os.Remove(pendingPath(path))

	if set.data == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.Remove(ManifestPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	want, err := Fingerprint(set.data)
	if err != nil {
		return err
	}
	if got, err := Fingerprint(path); err != nil || got != want {
		if err := restore(set.data, path); err != nil {
			return err
		}
	}
	if set.manifest != "" {
		if err := restore(set.manifest, ManifestPath(path)); err != nil {
			return err
		}
	}
	return nil
}

// restore copies src next to dst and renames it into place.
func restore(src, dst string) error {
	tmp := dst + ".restore"
	if err := copyFile(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// prune keeps the newest w.backups generations of a file's backups.
func (w *Writer) prune(path string) {
	dir := filepath.Join(filepath.Dir(path), backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	prefix := filepath.Base(path) + "."
	var gens []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".bak") {
			gens = append(gens, name)
		}
	}
	if len(gens) <= w.backups {
		return
	}
	sort.Strings(gens)
	for _, name := range gens[:len(gens)-w.backups] {
		os.Remove(filepath.Join(dir, name))
		os.Remove(filepath.Join(dir, name+manifestSuffix))
	}
}

// Backups lists the retained backups of a stream file, oldest first.
func (w *Writer) Backups(inst kline.Instrument, tf kline.Timeframe) ([]string, error) {
	path := w.Path(inst, tf)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), backupDir, filepath.Base(path)+".*.bak"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
