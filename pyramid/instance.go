/*
Package pyramid reconstructs the multi-resolution structure of a whole-slide image from
a flat collection of tiled image instances and provides constant-time lookup from a
tile position at a given level to the stored plane and frame holding its pixels.

Levels are identified solely by the total pixel width of the level.  Level 0 is the
widest (finest) level.  Frame positions use the 1-based pixel offsets recorded with
each frame, so the tile at the top-left corner of any level has key (1, 1, level).
*/
package pyramid

import "fmt"

// Frame gives the placement of one stored tile within the total pixel matrix of its level.
// Offsets are 1-based pixel positions of the tile's top-left corner.
type Frame struct {
	ColumnOffset int
	RowOffset    int
}

// Instance is one stored image object holding one or more tiles of a single level.
type Instance struct {
	// PlaneID uniquely identifies the stored object, e.g., a SOP Instance UID.
	PlaneID string

	// TotalWidth and TotalHeight are the pixel dimensions of the full level.
	TotalWidth  int
	TotalHeight int

	// TileWidth and TileHeight are the pixel dimensions of each tile.
	TileWidth  int
	TileHeight int

	// Frames are in stored order; frame number i+1 corresponds to Frames[i].
	Frames []Frame
}

func (inst Instance) String() string {
	return fmt.Sprintf("instance %s (%d x %d, tile %d x %d, %d frames)", inst.PlaneID,
		inst.TotalWidth, inst.TotalHeight, inst.TileWidth, inst.TileHeight, len(inst.Frames))
}

// TileKey locates a tile by the 1-based pixel offset of its top-left corner and the
// level index where 0 is the finest level.
type TileKey struct {
	X     int
	Y     int
	Level int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.X, k.Y, k.Level)
}

// FrameRef identifies the stored pixels for a tile.
type FrameRef struct {
	PlaneID     string
	FrameNumber int // 1-based
}

func (ref FrameRef) String() string {
	return fmt.Sprintf("%s frame %d", ref.PlaneID, ref.FrameNumber)
}

// TileSize is the pixel width and height of a tile.
type TileSize struct {
	Width  int
	Height int
}

func (ts TileSize) String() string {
	return fmt.Sprintf("%d x %d", ts.Width, ts.Height)
}
