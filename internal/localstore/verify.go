package localstore

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// VerifyResult is the outcome of checking one stream file.
type VerifyResult struct {
	Path string
	Rows int
	Err  error
}

// Verify checks every stream file under the writer's directory against its
// manifest and re-validates row order. Backups are skipped.
func (w *Writer) Verify() ([]VerifyResult, error) {
	var results []VerifyResult
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == backupDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, dataExt) {
			return nil
		}
		results = append(results, w.verifyFile(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (w *Writer) verifyFile(path string) VerifyResult {
	res := VerifyResult{Path: path}
	m, err := w.checkIntegrity(path)
	if err != nil {
		res.Err = err
		return res
	}
	if err := validate(path, m.Rows); err != nil {
		res.Err = err
		return res
	}
	res.Rows = m.Rows
	return res
}
