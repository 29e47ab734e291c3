package progress

import "io"

// Writer wraps an io.Writer and reports the cumulative byte count after every
// successful write.
type Writer struct {
	Writer     io.Writer
	Total      int64 // expected size, <= 0 when unknown
	OnProgress func(written int64, total int64)
	written    int64
}

func NewWriter(w io.Writer, total int64, cb func(written int64, total int64)) *Writer {
	return &Writer{
		Writer:     w,
		Total:      total,
		OnProgress: cb,
	}
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.written += int64(n)
		if pw.OnProgress != nil {
			pw.OnProgress(pw.written, pw.Total)
		}
	}

	return n, err
}

// Written returns the number of bytes written so far.
func (pw *Writer) Written() int64 {
	return pw.written
}

// Fraction returns written/total capped at 1, or -1 when total is unknown.
func Fraction(written, total int64) float64 {
	if total <= 0 {
		return -1
	}

	f := float64(written) / float64(total)
	if f > 1 {
		return 1
	}

	return f
}
