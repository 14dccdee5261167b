// Package manifest describes a snapshot in a JSON sidecar next to it.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Ext is appended to the snapshot file name to form the sidecar name.
const Ext = ".manifest"

const Version = "1"

type Manifest struct {
	ID          string           `json:"id"`
	App         string           `json:"app"`
	FileName    string           `json:"file_name"`
	Year        string           `json:"year,omitempty"`
	Description string           `json:"description,omitempty"`
	Trigger     string           `json:"trigger"`
	Version     string           `json:"version"`
	Checksum    string           `json:"checksum"` // SHA-256 of the snapshot file
	Size        int64            `json:"size"`
	RowCounts   map[string]int64 `json:"row_counts,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Mirror      string           `json:"mirror,omitempty"` // remote location once mirrored
}

func New(id, app, fileName string) *Manifest {
	return &Manifest{
		ID:        id,
		App:       app,
		FileName:  fileName,
		Version:   Version,
		CreatedAt: time.Now(),
	}
}

func (m *Manifest) Serialize() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Deserialize(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// PathFor returns the sidecar path of the snapshot at snapshotPath.
func PathFor(snapshotPath string) string {
	return snapshotPath + Ext
}

// Write stores m next to snapshotPath via a temp file and rename.
func Write(snapshotPath string, m *Manifest) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	target := PathFor(snapshotPath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize manifest: %w", err)
	}
	return nil
}

// Read loads the sidecar of snapshotPath. A missing sidecar returns
// (nil, nil): snapshots taken by older tools have none.
func Read(snapshotPath string) (*Manifest, error) {
	data, err := os.ReadFile(PathFor(snapshotPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

func CalculateChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileChecksum hashes the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return CalculateChecksum(f)
}

// VerifyFile compares the checksum of the file at path against m.
func (m *Manifest) VerifyFile(path string) error {
	if m.Checksum == "" {
		return nil
	}
	sum, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if sum != m.Checksum {
		return fmt.Errorf("checksum mismatch: manifest %s, file %s", m.Checksum, sum)
	}
	return nil
}
