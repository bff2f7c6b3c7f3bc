package pyramid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPyramid is returned when no instances are supplied.
var ErrEmptyPyramid = errors.New("no image instances supplied for pyramid")

// InconsistentLevelError is returned when an instance's level width is not among
// the level widths of the pyramid.
type InconsistentLevelError struct {
	PlaneID string
	Width   int
	Levels  []int
}

func (e *InconsistentLevelError) Error() string {
	return fmt.Sprintf("instance %s has total width %d which is not among pyramid levels %v",
		e.PlaneID, e.Width, e.Levels)
}

// DuplicateTileError is returned when two frames map to the same tile key.
type DuplicateTileError struct {
	Key      TileKey
	Existing FrameRef
	Conflict FrameRef
}

func (e *DuplicateTileError) Error() string {
	return fmt.Sprintf("tile %s claimed by both %s and %s", e.Key, e.Existing, e.Conflict)
}

// NonUniformTileSizeError is returned when instances disagree on tile dimensions.
type NonUniformTileSizeError struct {
	Sizes []TileSize
}

func (e *NonUniformTileSizeError) Error() string {
	sizes := make([]string, len(e.Sizes))
	for i, ts := range e.Sizes {
		sizes[i] = ts.String()
	}
	return fmt.Sprintf("tile size is not uniform across pyramid: %s", strings.Join(sizes, ", "))
}

// MalformedInstanceError is returned when an instance lacks a field needed to build
// the pyramid or has a nonsensical value.
type MalformedInstanceError struct {
	Index   int // position in the input collection, or -1 if unknown
	PlaneID string
	Reason  string
}

func (e *MalformedInstanceError) Error() string {
	if e.PlaneID != "" {
		return fmt.Sprintf("malformed instance %d (%s): %s", e.Index, e.PlaneID, e.Reason)
	}
	return fmt.Sprintf("malformed instance %d: %s", e.Index, e.Reason)
}

// TileNotFoundError is returned when a tile key has no frame in the index.
type TileNotFoundError struct {
	Key TileKey
}

func (e *TileNotFoundError) Error() string {
	return fmt.Sprintf("no frame stored for tile %s", e.Key)
}

// IsStructural returns true if the error denotes a pyramid that cannot be built from
// its instances, as opposed to a lookup miss or a transport failure.
func IsStructural(err error) bool {
	if errors.Is(err, ErrEmptyPyramid) {
		return true
	}
	var (
		inconsistent *InconsistentLevelError
		duplicate    *DuplicateTileError
		nonuniform   *NonUniformTileSizeError
		malformed    *MalformedInstanceError
	)
	return errors.As(err, &inconsistent) || errors.As(err, &duplicate) ||
		errors.As(err, &nonuniform) || errors.As(err, &malformed)
}
