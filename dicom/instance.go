package dicom

import (
	"fmt"

	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/wsi"
)

func malformed(i int, planeID, format string, args ...interface{}) error {
	return &pyramid.MalformedInstanceError{Index: i, PlaneID: planeID, Reason: fmt.Sprintf(format, args...)}
}

// ParseInstance extracts the pyramid fields from the i-th instance dataset.  Any missing
// or badly typed field yields a *pyramid.MalformedInstanceError.
func ParseInstance(i int, obj Object) (pyramid.Instance, error) {
	var inst pyramid.Instance
	var err error
	if inst.PlaneID, err = obj.String(TagSOPInstanceUID); err != nil {
		return inst, malformed(i, "", "%v", err)
	}
	fields := []struct {
		tag Tag
		dst *int
	}{
		{TagTotalPixelMatrixColumns, &inst.TotalWidth},
		{TagTotalPixelMatrixRows, &inst.TotalHeight},
		{TagColumns, &inst.TileWidth},
		{TagRows, &inst.TileHeight},
	}
	for _, f := range fields {
		if *f.dst, err = obj.Int(f.tag); err != nil {
			return inst, malformed(i, inst.PlaneID, "%v", err)
		}
	}

	if obj.Has(TagPerFrameFunctionalGroups) {
		inst.Frames, err = parsePerFrame(obj)
		if err != nil {
			return inst, malformed(i, inst.PlaneID, "%v", err)
		}
	} else {
		inst.Frames, err = tiledFullFrames(obj, inst)
		if err != nil {
			return inst, malformed(i, inst.PlaneID, "%v", err)
		}
	}
	if obj.Has(TagNumberOfFrames) {
		n, err := obj.Int(TagNumberOfFrames)
		if err != nil {
			return inst, malformed(i, inst.PlaneID, "%v", err)
		}
		if n < len(inst.Frames) {
			return inst, malformed(i, inst.PlaneID, "%d frame positions but only %d frames", len(inst.Frames), n)
		}
	}
	return inst, nil
}

// parsePerFrame reads the plane position of each frame from the per-frame functional groups.
func parsePerFrame(obj Object) ([]pyramid.Frame, error) {
	groups, err := obj.Sequence(TagPerFrameFunctionalGroups)
	if err != nil {
		return nil, err
	}
	frames := make([]pyramid.Frame, len(groups))
	for j, group := range groups {
		positions, err := group.Sequence(TagPlanePositionSlideSequence)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %v", j+1, err)
		}
		if len(positions) == 0 {
			return nil, fmt.Errorf("frame %d: empty plane position sequence", j+1)
		}
		if frames[j].ColumnOffset, err = positions[0].Int(TagColumnPositionInTotalMatrix); err != nil {
			return nil, fmt.Errorf("frame %d: %v", j+1, err)
		}
		if frames[j].RowOffset, err = positions[0].Int(TagRowPositionInTotalMatrix); err != nil {
			return nil, fmt.Errorf("frame %d: %v", j+1, err)
		}
	}
	return frames, nil
}

// tiledFullFrames computes frame positions for TILED_FULL instances that omit per-frame
// positions.  Frames fill the level in row-major order; frames beyond one full grid belong
// to other focal planes or optical paths and are not indexed.
func tiledFullFrames(obj Object, inst pyramid.Instance) ([]pyramid.Frame, error) {
	org, err := obj.String(TagDimensionOrganizationType)
	if err != nil {
		return nil, fmt.Errorf("no per-frame functional groups and %v", err)
	}
	if org != TiledFull {
		return nil, fmt.Errorf("no per-frame functional groups for dimension organization %q", org)
	}
	numFrames, err := obj.Int(TagNumberOfFrames)
	if err != nil {
		return nil, err
	}
	if inst.TileWidth <= 0 || inst.TileHeight <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d x %d", inst.TileWidth, inst.TileHeight)
	}
	cols := (inst.TotalWidth + inst.TileWidth - 1) / inst.TileWidth
	rows := (inst.TotalHeight + inst.TileHeight - 1) / inst.TileHeight
	if numFrames > cols*rows {
		wsi.Debugf("Instance %s has %d frames, indexing first %d of %d x %d grid\n",
			inst.PlaneID, numFrames, cols*rows, cols, rows)
		numFrames = cols * rows
	}
	frames := make([]pyramid.Frame, numFrames)
	for n := range frames {
		frames[n] = pyramid.Frame{
			ColumnOffset: 1 + (n%cols)*inst.TileWidth,
			RowOffset:    1 + (n/cols)*inst.TileHeight,
		}
	}
	return frames, nil
}

// ParseInstances validates and parses a DICOM JSON array of instance datasets.
func ParseInstances(data []byte) ([]pyramid.Instance, error) {
	if err := ValidateInstances(data); err != nil {
		return nil, err
	}
	objs, err := DecodeObjects(data)
	if err != nil {
		return nil, &pyramid.MalformedInstanceError{Index: -1, Reason: err.Error()}
	}
	instances := make([]pyramid.Instance, len(objs))
	for i, obj := range objs {
		if instances[i], err = ParseInstance(i, obj); err != nil {
			return nil, err
		}
	}
	return instances, nil
}
