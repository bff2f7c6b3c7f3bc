package pyramid

import (
	"sort"

	"github.com/pathviewer/wsiview/wsi"
)

// Options modify how an Index is built.
type Options struct {
	// LastWriteWins lets a later frame replace an earlier frame with the same tile key
	// instead of failing with a DuplicateTileError.  Only use for compatibility with
	// collections known to repeat tiles.
	LastWriteWins bool
}

// Scan holds the pyramid geometry gathered in a single pass over the instances.
type Scan struct {
	// Levels are the distinct total widths sorted descending.  Index 0 is the finest level.
	Levels []int

	Width    int
	Height   int
	TileSize TileSize
}

// ScanInstances makes one pass over the instances, collecting distinct level widths,
// the maximum total width and height, and the tile size which must be uniform.
func ScanInstances(instances []Instance) (*Scan, error) {
	if len(instances) == 0 {
		return nil, ErrEmptyPyramid
	}
	widths := make(map[int]struct{})
	tileSizes := make(map[TileSize]struct{})
	var sizeOrder []TileSize
	scan := new(Scan)
	for i, inst := range instances {
		if err := checkInstance(i, inst); err != nil {
			return nil, err
		}
		widths[inst.TotalWidth] = struct{}{}
		if inst.TotalWidth > scan.Width {
			scan.Width = inst.TotalWidth
		}
		if inst.TotalHeight > scan.Height {
			scan.Height = inst.TotalHeight
		}
		ts := TileSize{inst.TileWidth, inst.TileHeight}
		if _, found := tileSizes[ts]; !found {
			tileSizes[ts] = struct{}{}
			sizeOrder = append(sizeOrder, ts)
		}
	}
	if len(sizeOrder) != 1 {
		return nil, &NonUniformTileSizeError{Sizes: sizeOrder}
	}
	scan.TileSize = sizeOrder[0]

	scan.Levels = make([]int, 0, len(widths))
	for w := range widths {
		scan.Levels = append(scan.Levels, w)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(scan.Levels)))
	return scan, nil
}

func checkInstance(i int, inst Instance) error {
	var reason string
	switch {
	case inst.PlaneID == "":
		reason = "missing plane identifier"
	case inst.TotalWidth <= 0 || inst.TotalHeight <= 0:
		reason = "total pixel matrix size must be positive"
	case inst.TileWidth <= 0 || inst.TileHeight <= 0:
		reason = "tile size must be positive"
	default:
		return nil
	}
	return &MalformedInstanceError{Index: i, PlaneID: inst.PlaneID, Reason: reason}
}

// Index is an immutable lookup from tile keys to stored frames.  It is safe for
// concurrent use once returned by Build or Scan.Index.
type Index struct {
	levels   []int
	width    int
	height   int
	tileSize TileSize
	frames   map[TileKey]FrameRef
}

// Index makes the second pass over the instances, assigning each instance a level by
// exact width match and inserting each of its frames.  The instances should be the
// same collection passed to ScanInstances.
func (s *Scan) Index(instances []Instance, opts Options) (*Index, error) {
	if len(instances) == 0 {
		return nil, ErrEmptyPyramid
	}
	levelOf := make(map[int]int, len(s.Levels))
	for z, w := range s.Levels {
		levelOf[w] = z
	}
	var numFrames int
	for _, inst := range instances {
		numFrames += len(inst.Frames)
	}
	idx := &Index{
		levels:   append([]int(nil), s.Levels...),
		width:    s.Width,
		height:   s.Height,
		tileSize: s.TileSize,
		frames:   make(map[TileKey]FrameRef, numFrames),
	}
	var overwrites int
	for _, inst := range instances {
		z, found := levelOf[inst.TotalWidth]
		if !found {
			return nil, &InconsistentLevelError{PlaneID: inst.PlaneID, Width: inst.TotalWidth, Levels: idx.levels}
		}
		for j, frame := range inst.Frames {
			key := TileKey{X: frame.ColumnOffset, Y: frame.RowOffset, Level: z}
			ref := FrameRef{PlaneID: inst.PlaneID, FrameNumber: j + 1}
			if existing, dup := idx.frames[key]; dup {
				if !opts.LastWriteWins {
					return nil, &DuplicateTileError{Key: key, Existing: existing, Conflict: ref}
				}
				overwrites++
			}
			idx.frames[key] = ref
		}
	}
	if overwrites > 0 {
		wsi.Warningf("Pyramid build overwrote %d duplicate tile keys (last write wins)\n", overwrites)
	}
	return idx, nil
}

// Build scans the instances and builds an Index in two passes.
func Build(instances []Instance, opts Options) (*Index, error) {
	timedLog := wsi.NewTimeLog()
	scan, err := ScanInstances(instances)
	if err != nil {
		return nil, err
	}
	idx, err := scan.Index(instances, opts)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Built pyramid of %d levels, %d x %d pixels, %d tiles from %d instances",
		idx.NumLevels(), idx.width, idx.height, len(idx.frames), len(instances))
	return idx, nil
}

// LevelWidths returns the distinct level widths, descending.
func (idx *Index) LevelWidths() []int {
	return append([]int(nil), idx.levels...)
}

// NumLevels returns the number of distinct levels.
func (idx *Index) NumLevels() int {
	return len(idx.levels)
}

// LevelWidth returns the total width of the given level where 0 is finest.
func (idx *Index) LevelWidth(level int) (width int, ok bool) {
	if level < 0 || level >= len(idx.levels) {
		return 0, false
	}
	return idx.levels[level], true
}

// Width returns the pixel width of the finest level.
func (idx *Index) Width() int {
	return idx.width
}

// Height returns the largest total pixel height across instances.
func (idx *Index) Height() int {
	return idx.height
}

// TileSize returns the uniform tile size.
func (idx *Index) TileSize() TileSize {
	return idx.tileSize
}

// NumTiles returns the number of tile keys in the index.
func (idx *Index) NumTiles() int {
	return len(idx.frames)
}

// Lookup returns the frame stored for a tile key.
func (idx *Index) Lookup(key TileKey) (FrameRef, error) {
	ref, found := idx.frames[key]
	if !found {
		return FrameRef{}, &TileNotFoundError{Key: key}
	}
	return ref, nil
}

// Keys returns all tile keys in the index in level, row, column order.
func (idx *Index) Keys() []TileKey {
	keys := make([]TileKey, 0, len(idx.frames))
	for k := range idx.frames {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return keys
}
