package db

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// Verification is the outcome of checking one candidate file.
type Verification struct {
	OK      bool
	Message string
	Tables  int
}

// Verifier structurally checks database files before they are accepted as
// a snapshot or as the live store.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify opens path read-only and runs PRAGMA integrity_check. Problems with
// the candidate are reported in the result, not as an error.
func (v *Verifier) Verify(ctx context.Context, path string) Verification {
	info, err := os.Stat(path)
	if err != nil {
		return Verification{Message: "file not found"}
	}
	if info.IsDir() {
		return Verification{Message: "path is a directory"}
	}
	if info.Size() == 0 {
		return Verification{Message: "file is empty"}
	}

	if err := checkHeader(path); err != nil {
		return Verification{Message: err.Error()}
	}

	conn, err := OpenReadOnly(ctx, path)
	if err != nil {
		return Verification{Message: fmt.Sprintf("cannot open database: %v", err)}
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return Verification{Message: fmt.Sprintf("integrity check failed: %v", err)}
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return Verification{Message: fmt.Sprintf("integrity check failed: %v", err)}
		}
		problems = append(problems, line)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return Verification{Message: fmt.Sprintf("integrity check failed: %v", err)}
	}
	if len(problems) != 1 || problems[0] != "ok" {
		return Verification{Message: "integrity check reported: " + strings.Join(problems, "; ")}
	}

	tables, err := ListTables(ctx, conn)
	if err != nil {
		return Verification{Message: fmt.Sprintf("cannot read schema: %v", err)}
	}
	if len(tables) == 0 {
		return Verification{Message: "database contains no tables"}
	}

	return Verification{OK: true, Message: "ok", Tables: len(tables)}
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open file: %v", err)
	}
	defer f.Close()

	buf := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("file too short for a database header")
	}
	if !bytes.Equal(buf, sqliteHeader) {
		return fmt.Errorf("not a SQLite database")
	}
	return nil
}
