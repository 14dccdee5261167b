package backup

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressWriter tracks bytes written and updates an mpb.Bar.
type ProgressWriter struct {
	w   io.Writer
	bar *mpb.Bar
}

func NewProgressWriter(w io.Writer, bar *mpb.Bar) *ProgressWriter {
	return &ProgressWriter{w: w, bar: bar}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 && pw.bar != nil {
		pw.bar.IncrBy(n)
	}
	return n, err
}

func NewProgressContainer(out io.Writer) *mpb.Progress {
	return mpb.New(mpb.WithWidth(64), mpb.WithOutput(out))
}

// AddCopyBar adds a bar for copying total bytes. It returns nil when p is nil.
func AddCopyBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	if p == nil {
		return nil
	}
	return p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.Percentage(),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.CountersKibiByte("% .2f / % .2f"),
				"DONE",
			),
		),
	)
}

// wrapProgress returns w unchanged when there is no progress container.
func wrapProgress(p *mpb.Progress, w io.Writer, name string, total int64) (io.Writer, func()) {
	bar := AddCopyBar(p, name, total)
	if bar == nil {
		return w, func() {}
	}
	return NewProgressWriter(w, bar), func() {
		bar.SetTotal(-1, true)
	}
}
