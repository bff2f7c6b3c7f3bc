/*
Package dicom extracts the fields needed to build a tile pyramid from DICOM JSON
(PS3.18 Annex F) instance metadata returned by QIDO-RS and WADO-RS.
*/
package dicom

// Tag is an attribute tag in the 8 hex digit form used as DICOM JSON keys.
type Tag string

const (
	TagSOPInstanceUID              Tag = "00080018"
	TagStudyDate                   Tag = "00080020"
	TagModality                    Tag = "00080060"
	TagStudyDescription            Tag = "00081030"
	TagSeriesDescription           Tag = "0008103E"
	TagStudyInstanceUID            Tag = "0020000D"
	TagSeriesInstanceUID           Tag = "0020000E"
	TagDimensionOrganizationType   Tag = "00209311"
	TagNumberOfFrames              Tag = "00280008"
	TagRows                        Tag = "00280010" // tile height
	TagColumns                     Tag = "00280011" // tile width
	TagTotalPixelMatrixColumns     Tag = "00480006"
	TagTotalPixelMatrixRows        Tag = "00480007"
	TagPlanePositionSlideSequence  Tag = "0048021A"
	TagColumnPositionInTotalMatrix Tag = "0048021E"
	TagRowPositionInTotalMatrix    Tag = "0048021F"
	TagPerFrameFunctionalGroups    Tag = "52009230"
)

// SlideMicroscopyModality is the modality of whole-slide image series.
const SlideMicroscopyModality = "SM"

// TiledFull is the dimension organization where frames are implicitly laid out in
// row-major order and per-frame positions may be omitted.
const TiledFull = "TILED_FULL"
