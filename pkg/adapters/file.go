package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/HatiCode/steadystate/pkg/series"
)

// FileAdapter reads the sample list a benchmark harness appends to after each
// round. The file holds any format accepted by series.Parse. The lookback is
// ignored: the whole file is the sequence.
type FileAdapter struct {
	Path string
}

func (f *FileAdapter) Name() string { return "file" }

// Collect implements Adapter.
func (f *FileAdapter) Collect(ctx context.Context, _ time.Duration) (Series, error) {
	if f.Path == "" {
		return nil, errors.New("file adapter: path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("file adapter: %w", err)
	}
	defer fh.Close()

	values, err := series.Read(fh)
	if err != nil {
		return nil, fmt.Errorf("file adapter %s: %w", f.Path, err)
	}

	out := make(Series, len(values))
	for i, v := range values {
		out[i].Value = v
	}
	return out, nil
}
