package localstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the sidecar of a stream file: what the last merge found and a
// fingerprint of the data file it describes.
type Manifest struct {
	Stream         string    `yaml:"stream"`
	Rows           int       `yaml:"rows"`
	FirstOpen      time.Time `yaml:"first_open"`
	LastOpen       time.Time `yaml:"last_open"`
	GapsFound      int       `yaml:"gaps_found"`
	GapsFilled     int       `yaml:"gaps_filled"`
	GapsUnresolved int       `yaml:"gaps_unresolved"`
	Completeness   float64   `yaml:"completeness"`
	Fingerprint    string    `yaml:"fingerprint"` // sha256 of the data file
	UpdatedAt      time.Time `yaml:"updated_at"`
}

const (
	manifestSuffix = ".manifest.yaml"
	pendingSuffix  = ".pending"
)

// ManifestPath is the sidecar location of a data file.
func ManifestPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, dataExt) + manifestSuffix
}

func pendingPath(dataPath string) string {
	return ManifestPath(dataPath) + pendingSuffix
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

func writeManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeFileSync(path, data)
}

// Fingerprint returns the hex SHA-256 of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IntegrityError means a data file no longer matches its manifest.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: fingerprint %s, manifest records %s", e.Path, e.Got, e.Want)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
