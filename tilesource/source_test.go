package tilesource

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/pathviewer/wsiview/pyramid"
)

type testURLs struct{}

func (testURLs) FrameURL(ref pyramid.FrameRef) string {
	return fmt.Sprintf("instances/%s/frames/%d/rendered", ref.PlaneID, ref.FrameNumber)
}

// Finest level 2048 wide with 2x2 tiles of 1024, coarse level 1024 wide with a single tile.
func twoLevelSource(t *testing.T) *Source {
	instances := []pyramid.Instance{
		{
			PlaneID:     "fine",
			TotalWidth:  2048,
			TotalHeight: 2048,
			TileWidth:   1024,
			TileHeight:  1024,
			Frames:      []pyramid.Frame{{ColumnOffset: 1, RowOffset: 1}, {ColumnOffset: 1025, RowOffset: 1}, {ColumnOffset: 1, RowOffset: 1025}, {ColumnOffset: 1025, RowOffset: 1025}},
		},
		{
			PlaneID:     "coarse",
			TotalWidth:  1024,
			TotalHeight: 1024,
			TileWidth:   1024,
			TileHeight:  1024,
			Frames:      []pyramid.Frame{{ColumnOffset: 1, RowOffset: 1}},
		},
	}
	idx, err := pyramid.Build(instances, pyramid.Options{})
	if err != nil {
		t.Fatalf("unable to build two-level pyramid: %v\n", err)
	}
	return New(idx, testURLs{})
}

func TestTwoLevelSource(t *testing.T) {
	src := twoLevelSource(t)
	if src.Width() != 2048 || src.Height() != 2048 {
		t.Errorf("expected 2048 x 2048 source, got %d x %d\n", src.Width(), src.Height())
	}
	if src.TileSize() != 1024 || src.TileHeight() != 1024 {
		t.Errorf("bad tile size %d x %d\n", src.TileSize(), src.TileHeight())
	}
	if src.MinLevel() != 0 || src.MaxLevel() != 1 {
		t.Errorf("expected levels [0,1], got [%d,%d]\n", src.MinLevel(), src.MaxLevel())
	}

	url, err := src.TileURL(1, 0, 0)
	if err != nil {
		t.Fatalf("error getting finest tile: %v\n", err)
	}
	if url != "instances/fine/frames/1/rendered" {
		t.Errorf("bad url for finest tile: %s\n", url)
	}
	url, err = src.TileURL(1, 1, 0)
	if err != nil {
		t.Fatalf("error getting tile (1,1,0): %v\n", err)
	}
	if url != "instances/fine/frames/2/rendered" {
		t.Errorf("row 1 should address horizontal offset 1025, got %s\n", url)
	}
	key, err := src.Key(1, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if key != (pyramid.TileKey{X: 1, Y: 1025, Level: 0}) {
		t.Errorf("bad key for (1,0,1): %s\n", key)
	}
	ref, err := src.Frame(0, 0, 0)
	if err != nil {
		t.Fatalf("error getting coarse tile: %v\n", err)
	}
	if ref != (pyramid.FrameRef{PlaneID: "coarse", FrameNumber: 1}) {
		t.Errorf("bad coarse frame: %v\n", ref)
	}

	scale, err := src.LevelScale(0)
	if err != nil || scale != 0.5 {
		t.Errorf("expected coarse scale 0.5, got %f (%v)\n", scale, err)
	}
	scale, err = src.LevelScale(1)
	if err != nil || scale != 1.0 {
		t.Errorf("expected finest scale 1.0, got %f (%v)\n", scale, err)
	}
}

func TestSingleLevelSource(t *testing.T) {
	idx, err := pyramid.Build([]pyramid.Instance{{
		PlaneID:     "only",
		TotalWidth:  500,
		TotalHeight: 300,
		TileWidth:   256,
		TileHeight:  256,
		Frames:      []pyramid.Frame{{ColumnOffset: 1, RowOffset: 1}, {ColumnOffset: 257, RowOffset: 1}, {ColumnOffset: 1, RowOffset: 257}, {ColumnOffset: 257, RowOffset: 257}},
	}}, pyramid.Options{})
	if err != nil {
		t.Fatalf("unable to build single level pyramid: %v\n", err)
	}
	src := New(idx, nil)
	if src.MinLevel() != 0 || src.MaxLevel() != 0 {
		t.Errorf("single level should have min == max == 0, got %d, %d\n", src.MinLevel(), src.MaxLevel())
	}
	scale, err := src.LevelScale(0)
	if err != nil || scale != 1.0 {
		t.Errorf("expected scale 1.0, got %f (%v)\n", scale, err)
	}
	if _, err := src.TileURL(0, 1, 1); err == nil {
		t.Errorf("expected error for tile URL without formatter\n")
	}
	ref, err := src.Frame(0, 1, 1)
	if err != nil || ref.FrameNumber != 4 {
		t.Errorf("bad frame (0,1,1): %v (%v)\n", ref, err)
	}
}

func TestLevelScaleBounds(t *testing.T) {
	src := twoLevelSource(t)
	levels := src.Index().LevelWidths()
	lowest, err := src.LevelScale(src.MinLevel())
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	expected := float64(levels[len(levels)-1]) / float64(src.Width())
	if math.Abs(lowest-expected) > 1e-12 {
		t.Errorf("expected min level scale %f, got %f\n", expected, lowest)
	}
	for _, level := range []int{-1, 2} {
		_, err := src.LevelScale(level)
		var rangeErr *LevelRangeError
		if !errors.As(err, &rangeErr) {
			t.Errorf("expected LevelRangeError for level %d, got %v\n", level, err)
		}
		if _, err := src.Key(level, 0, 0); !errors.As(err, &rangeErr) {
			t.Errorf("expected LevelRangeError from Key for level %d, got %v\n", level, err)
		}
	}
}

func TestTileNotFound(t *testing.T) {
	src := twoLevelSource(t)
	tests := []struct {
		level, row, col int
		kind            string
	}{
		{0, 0, 1, "missing"},
		{0, 1, 0, "grid"},
		{1, 2, 0, "grid"},
		{1, 0, 5, "grid"},
		{1, -1, 0, "grid"},
		{1, 0, -1, "grid"},
		{1, 1 << 54, 0, "grid"},
		{1, 0, math.MaxInt, "grid"},
		{1, math.MinInt, 0, "grid"},
		{5, 0, 0, "level"},
		{2, 0, 0, "level"},
		{-1, 0, 0, "level"},
	}
	for _, tc := range tests {
		url, err := src.TileURL(tc.level, tc.row, tc.col)
		if err == nil {
			t.Errorf("expected error for tile (%d, %d, %d), got url %s\n", tc.level, tc.row, tc.col, url)
			continue
		}
		var (
			notFound *pyramid.TileNotFoundError
			gridErr  *TileRangeError
			rangeErr *LevelRangeError
		)
		switch tc.kind {
		case "missing":
			if !errors.As(err, &notFound) {
				t.Errorf("expected TileNotFoundError for (%d, %d, %d), got %v\n", tc.level, tc.row, tc.col, err)
			}
		case "grid":
			if !errors.As(err, &gridErr) {
				t.Errorf("expected TileRangeError for (%d, %d, %d), got %v\n", tc.level, tc.row, tc.col, err)
			}
		case "level":
			if !errors.As(err, &rangeErr) {
				t.Errorf("expected LevelRangeError for (%d, %d, %d), got %v\n", tc.level, tc.row, tc.col, err)
			}
		}
		if _, ferr := src.Frame(tc.level, tc.row, tc.col); ferr == nil || ferr.Error() != err.Error() {
			t.Errorf("Frame and TileURL disagree for (%d, %d, %d): %v vs %v\n", tc.level, tc.row, tc.col, ferr, err)
		}
		if pyramid.IsStructural(err) {
			t.Errorf("missing tile should not be a structural error\n")
		}
	}
}

func TestTileCoordRoundTrip(t *testing.T) {
	src := twoLevelSource(t)
	for _, key := range src.Index().Keys() {
		level, row, col, err := src.TileCoord(key)
		if err != nil {
			t.Fatalf("error inverting key %s: %v\n", key, err)
		}
		back, err := src.Key(level, row, col)
		if err != nil {
			t.Fatalf("error getting key for (%d,%d,%d): %v\n", level, row, col, err)
		}
		if back != key {
			t.Errorf("round trip of %s gave %s\n", key, back)
		}
		if _, err := src.TileURL(level, row, col); err != nil {
			t.Errorf("tile URL failed for indexed key %s: %v\n", key, err)
		}
	}
	if _, _, _, err := src.TileCoord(pyramid.TileKey{X: 2, Y: 1, Level: 0}); err == nil {
		t.Errorf("expected error for unaligned key\n")
	}
	var rangeErr *LevelRangeError
	if _, _, _, err := src.TileCoord(pyramid.TileKey{X: 1, Y: 1, Level: 3}); !errors.As(err, &rangeErr) {
		t.Errorf("expected LevelRangeError for key outside pyramid levels, got %v\n", err)
	}
}

func TestConcurrentLookups(t *testing.T) {
	src := twoLevelSource(t)
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, col := i%2, (i/2)%2
			if _, err := src.TileURL(1, row, col); err != nil {
				errs <- err
			}
			if _, err := src.LevelScale(i % 2); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent lookup failed: %v\n", err)
	}
}

func TestDescriptor(t *testing.T) {
	src := twoLevelSource(t)
	d := src.Descriptor("/api/session/abc/tile/{level}/{row}/{col}")
	if d.Width != 2048 || d.TileSize != 1024 || d.MaxLevel != 1 || d.NumTiles != 5 {
		t.Errorf("bad descriptor: %+v\n", d)
	}
	if len(d.LevelScales) != 2 || d.LevelScales[0] != 0.5 || d.LevelScales[1] != 1.0 {
		t.Errorf("bad level scales in descriptor: %v\n", d.LevelScales)
	}
	if len(d.LevelWidths) != 2 || d.LevelWidths[0] != 1024 || d.LevelWidths[1] != 2048 {
		t.Errorf("bad level widths: %v\n", d.LevelWidths)
	}
}
