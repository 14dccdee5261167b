package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

func render(name, tmpl string, ev Event) ([]byte, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := struct {
		Event
		FormattedDuration string
		FormattedSize     string
	}{
		Event:             ev,
		FormattedDuration: ev.Duration.Truncate(time.Millisecond).String(),
		FormattedSize:     formatSize(ev.Size),
	}
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
