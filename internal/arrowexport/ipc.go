package arrowexport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WriteStream writes rec as a single-record Arrow IPC stream.
func WriteStream(w io.Writer, mem memory.Allocator, rec arrow.Record) error {
	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	return wr.Close()
}

// ReadStream reads every record of an IPC stream. Callers release the
// returned records.
func ReadStream(r io.Reader, mem memory.Allocator) ([]arrow.Record, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer rdr.Release()

	var out []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		for _, rec := range out {
			rec.Release()
		}
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return out, nil
}

// DirSink writes each record kind to <dir>/<kind>.arrows.
type DirSink struct {
	Dir string
	Mem memory.Allocator
}

func (d *DirSink) Name() string { return "ipc" }

func (d *DirSink) Put(_ context.Context, kind string, rec arrow.Record) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(filepath.Join(d.Dir, kind+".arrows"))
	if err != nil {
		return fmt.Errorf("failed to create %s export: %w", kind, err)
	}
	if err := WriteStream(f, d.Mem, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
