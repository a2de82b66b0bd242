// Package sink persists tables as CSV or XLSX files.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
)

const defaultSheet = "Sheet1"

// Files writes tables to files. The destination extension selects the
// format: ".xlsx" writes a workbook, anything else writes CSV. Writes go to
// a temporary file in the destination directory which is renamed into
// place, so a failed run never leaves a truncated artifact.
type Files struct {
	logger logger.Logger
	sheet  string
}

// Option applies a configuration option to Files.
type Option func(*Files)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Files) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSheet names the worksheet used for XLSX output.
func WithSheet(name string) Option {
	return func(f *Files) {
		if name != "" {
			f.sheet = name
		}
	}
}

// New creates a file sink.
func New(opts ...Option) *Files {
	f := &Files{logger: logger.Nop(), sheet: defaultSheet}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Write persists t at dest.
func (f *Files) Write(ctx context.Context, t model.Table, dest string) error {
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("%w: empty destination", ErrWrite)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	encode := writeCSV
	if strings.EqualFold(filepath.Ext(dest), ".xlsx") {
		encode = f.writeXLSX
	}
	if err := atomicWrite(dest, func(w io.Writer) error { return encode(w, t) }); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, dest, err)
	}

	f.logger.Info(ctx, "saved", logger.String("path", dest), logger.Int("rows", t.Len()))
	return nil
}

func atomicWrite(dest string, encode func(io.Writer) error) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = encode(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func writeCSV(w io.Writer, t model.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func (f *Files) writeXLSX(w io.Writer, t model.Table) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	sheet := defaultSheet
	if f.sheet != defaultSheet {
		if err := book.SetSheetName(defaultSheet, f.sheet); err != nil {
			return err
		}
		sheet = f.sheet
	}

	if err := setRow(book, sheet, 1, t.Columns); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := setRow(book, sheet, i+2, row); err != nil {
			return err
		}
	}

	if len(t.Columns) > 0 {
		bold, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(t.Columns), 1)
		if err != nil {
			return err
		}
		if err := book.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return err
		}
		if err := book.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	return book.Write(w)
}

func setRow(book *excelize.File, sheet string, n int, cells []string) error {
	if len(cells) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	vals := make([]any, len(cells))
	for i, c := range cells {
		vals[i] = c
	}
	return book.SetSheetRow(sheet, cell, &vals)
}
