/*
Package tilesource presents a pyramid index through the data-source contract of a
deep-zoom tile viewer, where viewer level 0 is the coarsest level and the maximum
level is the finest.  A Source performs no I/O; it only translates coordinates and
formats retrieval URLs, so it is safe for concurrent use.
*/
package tilesource

import (
	"fmt"

	"github.com/pathviewer/wsiview/pyramid"
)

// FrameURLer formats the retrieval URL of a stored frame.
type FrameURLer interface {
	FrameURL(ref pyramid.FrameRef) string
}

// LevelRangeError is returned for a viewer level outside [MinLevel, MaxLevel].
type LevelRangeError struct {
	Level    int
	MaxLevel int
}

func (e *LevelRangeError) Error() string {
	return fmt.Sprintf("viewer level %d outside of range [0, %d]", e.Level, e.MaxLevel)
}

// TileRangeError is returned for a row or column outside the tile grid of a level.
type TileRangeError struct {
	Level int
	Row   int
	Col   int
	Rows  int
	Cols  int
}

func (e *TileRangeError) Error() string {
	return fmt.Sprintf("tile (%d, %d) outside %d x %d tile grid of viewer level %d",
		e.Row, e.Col, e.Rows, e.Cols, e.Level)
}

// Source adapts a pyramid.Index to viewer coordinates.
type Source struct {
	index *pyramid.Index
	urls  FrameURLer
}

// New returns a Source for the index.  The urls formatter may be nil if only frame
// lookups are needed.
func New(index *pyramid.Index, urls FrameURLer) *Source {
	return &Source{index: index, urls: urls}
}

// Index returns the underlying pyramid index.
func (s *Source) Index() *pyramid.Index {
	return s.index
}

func (s *Source) Width() int {
	return s.index.Width()
}

func (s *Source) Height() int {
	return s.index.Height()
}

// TileSize returns the tile width, which viewers treat as the tile size.
func (s *Source) TileSize() int {
	return s.index.TileSize().Width
}

func (s *Source) TileHeight() int {
	return s.index.TileSize().Height
}

func (s *Source) MinLevel() int {
	return 0
}

func (s *Source) MaxLevel() int {
	return s.index.NumLevels() - 1
}

// gridSize returns the number of tile positions along each axis of a valid viewer level.
// Columns are bounded by the finest level's height since instances only record the
// height of their own level.
func (s *Source) gridSize(level int) (rows, cols int) {
	ts := s.index.TileSize()
	width, _ := s.index.LevelWidth(s.MaxLevel() - level)
	return (width-1)/ts.Width + 1, (s.index.Height()-1)/ts.Height + 1
}

// Key returns the pyramid tile key for a viewer tile request.  The row argument selects
// the horizontal pixel offset and col the vertical one, matching how tile viewers pass
// (level, x, y) to their URL callbacks.  Levels outside [MinLevel, MaxLevel] return a
// *LevelRangeError and positions outside the level's tile grid a *TileRangeError.
func (s *Source) Key(level, row, col int) (pyramid.TileKey, error) {
	if level < s.MinLevel() || level > s.MaxLevel() {
		return pyramid.TileKey{}, &LevelRangeError{Level: level, MaxLevel: s.MaxLevel()}
	}
	rows, cols := s.gridSize(level)
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return pyramid.TileKey{}, &TileRangeError{Level: level, Row: row, Col: col, Rows: rows, Cols: cols}
	}
	ts := s.index.TileSize()
	return pyramid.TileKey{
		X:     1 + ts.Width*row,
		Y:     1 + ts.Height*col,
		Level: s.MaxLevel() - level,
	}, nil
}

// Frame returns the stored frame for a viewer tile request.  Besides the errors of Key,
// a position inside the grid without a stored tile returns a *pyramid.TileNotFoundError.
func (s *Source) Frame(level, row, col int) (pyramid.FrameRef, error) {
	key, err := s.Key(level, row, col)
	if err != nil {
		return pyramid.FrameRef{}, err
	}
	return s.index.Lookup(key)
}

// TileURL returns the retrieval URL for the frame holding a viewer tile.
func (s *Source) TileURL(level, row, col int) (string, error) {
	ref, err := s.Frame(level, row, col)
	if err != nil {
		return "", err
	}
	if s.urls == nil {
		return "", fmt.Errorf("no frame URL formatter for tile source")
	}
	return s.urls.FrameURL(ref), nil
}

// LevelScale returns the width of a viewer level relative to the finest level.
func (s *Source) LevelScale(level int) (float64, error) {
	if level < s.MinLevel() || level > s.MaxLevel() {
		return 0, &LevelRangeError{Level: level, MaxLevel: s.MaxLevel()}
	}
	width, _ := s.index.LevelWidth(s.MaxLevel() - level)
	return float64(width) / float64(s.index.Width()), nil
}

// TileCoord inverts Key, returning the viewer level, row, and column of a tile key.
func (s *Source) TileCoord(key pyramid.TileKey) (level, row, col int, err error) {
	ts := s.index.TileSize()
	if key.Level < 0 || key.Level > s.MaxLevel() {
		err = &LevelRangeError{Level: s.MaxLevel() - key.Level, MaxLevel: s.MaxLevel()}
		return
	}
	if (key.X-1)%ts.Width != 0 || (key.Y-1)%ts.Height != 0 {
		err = fmt.Errorf("tile key %s is not aligned to %s tiles", key, ts)
		return
	}
	return s.MaxLevel() - key.Level, (key.X - 1) / ts.Width, (key.Y - 1) / ts.Height, nil
}
