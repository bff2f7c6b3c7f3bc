/*
	This file contains functions useful for testing in other packages that need
	DICOM JSON payloads, e.g., fake DICOMweb servers.
*/

package dicom

import (
	"encoding/json"

	"github.com/pathviewer/wsiview/pyramid"
)

func attr(vr string, values ...interface{}) map[string]interface{} {
	return map[string]interface{}{"vr": vr, "Value": values}
}

// MarshalInstances returns the DICOM JSON array for the given instances using per-frame
// plane positions.
func MarshalInstances(instances []pyramid.Instance) ([]byte, error) {
	objs := make([]map[Tag]interface{}, len(instances))
	for i, inst := range instances {
		groups := make([]interface{}, len(inst.Frames))
		for j, frame := range inst.Frames {
			groups[j] = map[Tag]interface{}{
				TagPlanePositionSlideSequence: attr("SQ", map[Tag]interface{}{
					TagColumnPositionInTotalMatrix: attr("SL", frame.ColumnOffset),
					TagRowPositionInTotalMatrix:    attr("SL", frame.RowOffset),
				}),
			}
		}
		objs[i] = map[Tag]interface{}{
			TagSOPInstanceUID:           attr("UI", inst.PlaneID),
			TagNumberOfFrames:           attr("IS", len(inst.Frames)),
			TagRows:                     attr("US", inst.TileHeight),
			TagColumns:                  attr("US", inst.TileWidth),
			TagTotalPixelMatrixColumns:  attr("UL", inst.TotalWidth),
			TagTotalPixelMatrixRows:     attr("UL", inst.TotalHeight),
			TagPerFrameFunctionalGroups: attr("SQ", groups...),
		}
	}
	return json.Marshal(objs)
}

// MarshalStrings returns a DICOM JSON array where every attribute holds a single string,
// as in QIDO-RS study and series search results.
func MarshalStrings(rows []map[Tag]string) ([]byte, error) {
	objs := make([]map[Tag]interface{}, len(rows))
	for i, row := range rows {
		objs[i] = make(map[Tag]interface{}, len(row))
		for tag, value := range row {
			objs[i][tag] = attr("LO", value)
		}
	}
	return json.Marshal(objs)
}
