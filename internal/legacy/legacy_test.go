package legacy

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
	"libranexus-lending/internal/storage/memory"
)

func TestParseRecord(t *testing.T) {
	r, err := ParseRecord("Mystic Runes; Eldoria ;ISBN001;Available;AncientScript")
	require.NoError(t, err)
	assert.Equal(t, Record{Title: "Mystic Runes", Author: "Eldoria", ISBN: "ISBN001", Status: "Available", Type: "AncientScript"}, r)

	_, err = ParseRecord("too;few;fields")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = ParseRecord("a;b;c;d;e;f")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = ParseRecord("a;b; ;Available;General")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRecordAsset(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	rare := Record{ISBN: "ISBN002", Status: "Borrowed", Type: TypeRareBook}.Asset(now, policy.DefaultRates, logger)
	assert.Equal(t, lifecycle.Borrowed, rare.State)
	require.NotNil(t, rare.DueDate)
	assert.Equal(t, now.AddDate(0, 0, 14), *rare.DueDate)
	assert.Equal(t, lifecycle.MetaAccessRestricted, rare.Metadata[lifecycle.MetaAccess])

	ancient := Record{ISBN: "ISBN001", Status: "RestorationNeeded", Type: TypeAncientScript}.Asset(now, policy.DefaultRates, logger)
	assert.Equal(t, lifecycle.RestorationNeeded, ancient.State)
	assert.Nil(t, ancient.DueDate)
	assert.Equal(t, lifecycle.MetaPreservationHigh, ancient.Metadata[lifecycle.MetaPreservation])

	lost := Record{ISBN: "ISBN009", Status: "Lost", Type: "Pamphlet"}.Asset(now, policy.DefaultRates, logger)
	assert.Equal(t, lifecycle.Available, lost.State)
	assert.Equal(t, TypeGeneral, lost.Metadata[MetaType])
	assert.Contains(t, logs.String(), "unknown status")
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	svc := circulation.NewService(memory.New(), nil)
	input := strings.Join([]string{
		"# exported from the card catalog",
		"Mystic Runes;Eldoria;ISBN001;Available;AncientScript",
		"",
		"Secrets of the Sphinx;Ibrahim;ISBN002;Borrowed;RareBook",
		"broken line",
		"Clean Code;Robert Martin;ISBN003;Shelved;General",
	}, "\n")

	res, err := NewImporter(svc, policy.DefaultRates, nil).Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, res.Imported, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].Line)
	assert.ErrorIs(t, res.Errors[0], ErrInvalidRecord)

	a, err := svc.GetAsset(ctx, "ISBN002")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Borrowed, a.State)

	a, err = svc.GetAsset(ctx, "ISBN003")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, a.State)

	_, err = svc.Borrow(ctx, "ISBN001", "anyone", policy.Public)
	assert.Error(t, err, "ancient scripts stay in the archive")
}

func TestImportSkipsOverlongLines(t *testing.T) {
	ctx := context.Background()
	svc := circulation.NewService(memory.New(), nil)
	input := strings.Join([]string{
		"Mystic Runes;Eldoria;ISBN001;Available;AncientScript",
		"Endless Notes;Anon;ISBN009;Available;" + strings.Repeat("x", MaxLineLength+10),
		"broken line",
		"Clean Code;Robert Martin;ISBN003;Available;General",
	}, "\n")

	res, err := NewImporter(svc, policy.DefaultRates, nil).Import(ctx, strings.NewReader(input))
	require.NoError(t, err, "an overlong record does not abort the import")
	require.Len(t, res.Imported, 2)
	assert.Equal(t, "ISBN003", res.Imported[1].ID)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.ErrorIs(t, res.Errors[0], ErrLineTooLong)
	assert.Equal(t, 3, res.Errors[1].Line)
	assert.ErrorIs(t, res.Errors[1], ErrInvalidRecord)

	_, err = svc.GetAsset(ctx, "ISBN009")
	assert.ErrorIs(t, err, catalog.ErrAssetNotFound)
}

func TestReimportReportsExistingAssets(t *testing.T) {
	ctx := context.Background()
	svc := circulation.NewService(memory.New(), nil)
	input := "Mystic Runes;Eldoria;ISBN001;Available;General\n"
	im := NewImporter(svc, policy.DefaultRates, nil)

	_, err := im.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, "ISBN001", "reader", policy.Public)
	require.NoError(t, err)

	res, err := im.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], catalog.ErrAssetExists)

	a, err := svc.GetAsset(ctx, "ISBN001")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Borrowed, a.State, "a re-import does not reset circulation state")
}
