// Package artifact reads optional side artifacts such as the blacklist and
// the deduction snapshot.
package artifact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const bom = "\ufeff"

// CSV reads delimited text files. The delimiter is sniffed from the first
// line among comma, semicolon and tab.
type CSV struct {
	logger logger.Logger
}

// Option applies a configuration option to the CSV reader.
type Option func(*CSV)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *CSV) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCSV creates a CSV reader.
func NewCSV(opts ...Option) *CSV {
	c := &CSV{logger: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ model.ArtifactReader = (*CSV)(nil)

// Read returns every record of the file at path. An empty path or a missing
// file yields nil records and no error. When strict CSV parsing fails the
// file is re-read positionally; only when that also fails is an error
// wrapping model.ErrMalformedArtifact returned.
func (c *CSV) Read(ctx context.Context, path string) ([][]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug(ctx, "side artifact absent", logger.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrMalformedArtifact, path, err)
	}
	data = bytes.TrimPrefix(data, []byte(bom))

	records, err := parseStrict(data)
	if err == nil {
		return records, nil
	}
	strictErr := err

	records, err = ParseLoose(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrMalformedArtifact, path, errors.Join(strictErr, err))
	}
	metrics.RecordSideArtifactWarning(filepath.Base(path))
	c.logger.Warn(ctx, "side artifact is not valid csv, parsed positionally",
		logger.String("path", path),
		logger.Int("records", len(records)),
		logger.Error(strictErr),
	)
	return records, nil
}

func parseStrict(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniff(data)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = false

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		out = append(out, trimAll(rec))
	}
}

// ParseLoose splits each non-blank line on the first delimiter it contains,
// falling back to whitespace. Quotes are stripped, not interpreted. It fails
// only on content that is not text.
func ParseLoose(data []byte) ([][]string, error) {
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, errors.New("content is not text")
	}
	var out [][]string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var fields []string
		if i := strings.IndexAny(line, ",;\t|"); i >= 0 {
			fields = strings.Split(line, string(line[i]))
		} else {
			fields = strings.Fields(line)
		}
		for j, f := range fields {
			fields[j] = strings.Trim(strings.TrimSpace(f), `"'`)
		}
		if blank(fields) {
			continue
		}
		out = append(out, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sniff(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, n := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if c := bytes.Count(line, []byte(string(d))); c > n {
			best, n = d, c
		}
	}
	return best
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, f := range rec {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
