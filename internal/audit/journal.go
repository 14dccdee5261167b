package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// JournalName is the journal file inside the snapshot directory.
const JournalName = "audit.jsonl"

type journalRecord struct {
	Entry
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

func (r *journalRecord) digest() string {
	h := sha256.New()
	h.Write([]byte(r.Timestamp.UTC().Format(time.RFC3339Nano)))
	if r.ActorID != nil {
		h.Write([]byte(strconv.FormatInt(*r.ActorID, 10)))
	}
	for _, s := range []string{string(r.Action), r.Target, r.Detail, r.IPAddress, string(r.Status), r.OperationID, r.PrevHash} {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Journal is an append-only JSON-lines file where every line carries the
// hash of the previous one.
type Journal struct {
	path string
	mu   sync.Mutex
}

func NewJournal(dir string) *Journal {
	return &Journal{path: filepath.Join(dir, JournalName)}
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) read() ([]journalRecord, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []journalRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

// Append chains e onto the journal.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.read()
	if err != nil {
		return err
	}
	rec := journalRecord{Entry: e}
	if n := len(records); n > 0 {
		rec.PrevHash = records[n-1].Hash
	}
	rec.Hash = rec.digest()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Entries returns every journaled entry, oldest first.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	records, err := j.read()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(records))
	for i, r := range records {
		out[i] = r.Entry
	}
	return out, nil
}

// BrokenChainError points at the first record whose hash does not match.
type BrokenChainError struct {
	Index int
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("audit journal chain broken at entry %d", e.Index+1)
}

// Verify recomputes the chain and returns the number of intact entries.
func (j *Journal) Verify() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	records, err := j.read()
	if err != nil {
		return 0, err
	}
	prev := ""
	for i := range records {
		r := &records[i]
		if r.PrevHash != prev || r.digest() != r.Hash {
			return i, &BrokenChainError{Index: i}
		}
		prev = r.Hash
	}
	return len(records), nil
}
