package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	SnapshotExt    = ".sqlite"
	TempExt        = ".tmp"
	RestoreTempExt = ".restore_temp"

	timestampLayout = "2006-01-02_15-04-05"
	yearMarker      = "_Year-"
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	dotRuns     = regexp.MustCompile(`\.{2,}`)
	nameRe      = regexp.MustCompile(`^backup_(.+?)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})(?:_Year-(\d{4}-\d{4}))?(?:_(.*?))?(?:_(\d+))?\.sqlite$`)
)

// SecureFilename reduces s to an ASCII file name without path components:
// whitespace and separators become underscores, anything outside
// [A-Za-z0-9_.-] is dropped, runs of dots collapse to one and leading or
// trailing dots and underscores are trimmed. The result may be empty.
func SecureFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		if r == '/' || r == '\\' {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeChars.ReplaceAllString(s, "")
	s = dotRuns.ReplaceAllString(s, ".")
	return strings.Trim(s, "._")
}

// SnapshotName builds backup_<app>_<timestamp>[_Year-<year>][_<desc>].sqlite.
// The year "2023/2024" is encoded as "2023-2024".
func SnapshotName(app string, at time.Time, year, description string) string {
	app = SecureFilename(app)
	if app == "" {
		app = "eraport"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "backup_%s_%s", app, at.Format(timestampLayout))
	if y := SecureFilename(strings.ReplaceAll(year, "/", "-")); y != "" {
		b.WriteString(yearMarker + y)
	}
	if d := SecureFilename(description); d != "" {
		b.WriteString("_" + d)
	}
	b.WriteString(SnapshotExt)
	return b.String()
}

// NameInfo is what can be recovered from a snapshot file name alone.
type NameInfo struct {
	App         string
	TakenAt     time.Time
	Year        string
	Description string
}

// ParseSnapshotName decodes a name produced by SnapshotName. ok is false for
// foreign names, which are still listed.
func ParseSnapshotName(name string) (NameInfo, bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return NameInfo{}, false
	}
	at, err := time.ParseInLocation(timestampLayout, m[2], time.Local)
	if err != nil {
		return NameInfo{}, false
	}
	info := NameInfo{App: m[1], TakenAt: at, Description: m[4]}
	if m[3] != "" {
		info.Year = strings.Replace(m[3], "-", "/", 1)
	}
	return info, true
}

// withSuffix turns backup_x.sqlite into backup_x_<n>.sqlite.
func withSuffix(name string, n int) string {
	base := strings.TrimSuffix(name, SnapshotExt)
	return fmt.Sprintf("%s_%d%s", base, n, SnapshotExt)
}
