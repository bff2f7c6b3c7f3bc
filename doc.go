/*
Wsiview serves whole-slide microscopy images stored as DICOM VL Whole Slide Microscopy
instances in a DICOMweb store, such as a Google Cloud Healthcare API DICOM store, as
tile pyramids for deep-zoom viewers.

The pieces are layered:

	wsi         logging, serialization, and command-line helpers
	dicom       DICOM JSON parsing of whole-slide instance metadata
	pyramid     reconstruction of the level structure and tile lookup
	tilesource  viewer-facing level, row, and column addressing
	dicomweb    QIDO-RS, WADO-RS, and Healthcare API browsing plus instance collection
	storage     metadata cache, instance archive, and activity log
	server      HTTP sessions and tile serving

The wsiview command in cmd/wsiview runs the server and offline indexing.
*/
package wsiview
