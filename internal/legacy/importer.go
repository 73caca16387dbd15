// internal/legacy/importer.go
package legacy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/policy"
)

// Adder is the catalog-add path records are fed into.
type Adder interface {
	AddAsset(ctx context.Context, asset *catalog.Asset) (*catalog.Asset, error)
}

// LineError ties a failure to its input line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// Result summarizes an import run.
type Result struct {
	Imported []*catalog.Asset
	Errors   []LineError
}

// Importer reads legacy exports into the catalog.
type Importer struct {
	adder  Adder
	rates  policy.Rates
	logger *slog.Logger
	now    func() time.Time
}

func NewImporter(adder Adder, rates policy.Rates, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{adder: adder, rates: rates, logger: logger, now: time.Now}
}

// MaxLineLength bounds a single legacy record. Longer lines are reported as
// ErrLineTooLong and skipped.
const MaxLineLength = 64 * 1024

var ErrLineTooLong = fmt.Errorf("line longer than %d bytes", MaxLineLength)

// Import adds every record in r. Bad lines are collected and skipped; blank
// lines and lines starting with '#' are ignored. The returned error is only
// set when r itself cannot be read.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	var res Result
	br := bufio.NewReaderSize(r, MaxLineLength)
	for line := 1; ; line++ {
		raw, err := br.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			res.Errors = append(res.Errors, LineError{Line: line, Err: ErrLineTooLong})
			err = skipLine(br)
		case len(raw) > 0:
			im.importLine(ctx, &res, line, string(raw))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read legacy records: %w", err)
		}
	}
	im.logger.InfoContext(ctx, "legacy import finished", "imported", len(res.Imported), "failed", len(res.Errors))
	return res, nil
}

func (im *Importer) importLine(ctx context.Context, res *Result, line int, raw string) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, "#") {
		return
	}
	rec, err := ParseRecord(text)
	if err != nil {
		res.Errors = append(res.Errors, LineError{Line: line, Err: err})
		return
	}
	added, err := im.adder.AddAsset(ctx, rec.Asset(im.now(), im.rates, im.logger))
	if err != nil {
		res.Errors = append(res.Errors, LineError{Line: line, Err: err})
		return
	}
	res.Imported = append(res.Imported, added)
}

// skipLine discards the rest of an overlong line.
func skipLine(br *bufio.Reader) error {
	for {
		if _, err := br.ReadSlice('\n'); !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
