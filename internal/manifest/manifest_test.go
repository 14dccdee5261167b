package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_SerializeDeserialize(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)

	m := &Manifest{
		ID:          "123-abc",
		App:         "eraport",
		FileName:    "backup_eraport_2025-07-01_08-00-00_Year-2024-2025.sqlite",
		Year:        "2024/2025",
		Description: "before prune",
		Trigger:     "manual",
		Version:     Version,
		Checksum:    "deadbeef",
		Size:        1024,
		RowCounts:   map[string]int64{"grades": 10},
		CreatedAt:   now,
	}

	data, err := m.Serialize()
	require.NoError(t, err)

	m2, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, m.ID, m2.ID)
	assert.Equal(t, m.Year, m2.Year)
	assert.Equal(t, m.FileName, m2.FileName)
	assert.Equal(t, m.RowCounts, m2.RowCounts)
	assert.True(t, m.CreatedAt.Equal(m2.CreatedAt), "times should match")
}

func TestManifest_Deserialize_Invalid(t *testing.T) {
	_, err := Deserialize([]byte(`{invalid json`))
	assert.Error(t, err)
}

func TestManifest_WriteReadVerify(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "snap.sqlite")
	require.NoError(t, os.WriteFile(snap, []byte("payload"), 0o600))

	missing, err := Read(snap)
	require.NoError(t, err)
	assert.Nil(t, missing)

	sum, err := FileChecksum(snap)
	require.NoError(t, err)

	m := New("id-1", "eraport", "snap.sqlite")
	m.Checksum = sum
	require.NoError(t, Write(snap, m))

	got, err := Read(snap)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NoError(t, got.VerifyFile(snap))

	require.NoError(t, os.WriteFile(snap, []byte("tampered"), 0o600))
	err = got.VerifyFile(snap)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "checksum mismatch"))
}

func TestCalculateChecksum(t *testing.T) {
	sum, err := CalculateChecksum(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
}
