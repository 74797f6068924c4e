package reporting

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xkilldash9x/mender/api/schemas"
)

// Reporter defines the interface for writing fix run summaries to an output.
type Reporter interface {
	// Write records the outcome of one fixture.
	Write(name string, result *schemas.OrchestratorResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return &jsonReporter{w: writer}, nil
	case "text", "":
		return &textReporter{w: writer}, nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// NewWithWriter builds a reporter over an existing writer. The writer is not
// closed by the reporter.
func NewWithWriter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "json":
		return &jsonReporter{w: &nopWriteCloser{w}}, nil
	case "text", "":
		return &textReporter{w: &nopWriteCloser{w}}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type runLine struct {
	Fixture string `json:"fixture"`
	*schemas.OrchestratorResult
}

// jsonReporter writes one JSON object per line. The fixed document is left
// out; the driver stores it next to the result file.
type jsonReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (r *jsonReporter) Write(name string, result *schemas.OrchestratorResult) error {
	if result == nil {
		return fmt.Errorf("nil result for %s", name)
	}
	trimmed := *result
	trimmed.FixedHTML = ""
	data, err := json.Marshal(runLine{Fixture: name, OrchestratorResult: &trimmed})
	if err != nil {
		return fmt.Errorf("failed to encode result for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(append(data, '\n'))
	return err
}

func (r *jsonReporter) Close() error { return r.w.Close() }

type textReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (r *textReporter) Write(name string, result *schemas.OrchestratorResult) error {
	if result == nil {
		return fmt.Errorf("nil result for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.w, "%s: %s\n", name, result.Describe())
	return err
}

func (r *textReporter) Close() error { return r.w.Close() }
