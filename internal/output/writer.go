package output

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Writer handles output formatting and writing.
type Writer struct {
	mu        sync.Mutex
	formatter Formatter
	output    io.Writer
	isTTY     bool
}

// NewWriter creates a writer to stdout. Colors are disabled when stdout
// is not a terminal.
func NewWriter(format Format, config Config) *Writer {
	isTTY := isTerminal(os.Stdout)
	if !isTTY {
		config.Colors = false
	}

	return &Writer{
		formatter: NewFormatter(format, config),
		output:    os.Stdout,
		isTTY:     isTTY,
	}
}

// NewWriterWithFormatter creates a writer with a specific formatter.
func NewWriterWithFormatter(formatter Formatter, output io.Writer) *Writer {
	isTTY := false
	if f, ok := output.(*os.File); ok {
		isTTY = isTerminal(f)
	}

	return &Writer{
		formatter: formatter,
		output:    output,
		isTTY:     isTTY,
	}
}

// Write formats and writes one record.
func (w *Writer) Write(r *Record) error {
	data, err := w.formatter.Format(r)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.output.Write(data)
	return err
}

// IsTTY returns whether the output is a terminal.
func (w *Writer) IsTTY() bool {
	return w.isTTY
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return isTerminal(f)
}
