package dicomweb

import (
	"testing"

	"github.com/pathviewer/wsiview/dicom"
	"github.com/pathviewer/wsiview/pyramid"
)

const (
	testStudy = "1.2.3"
	testToken = "secret-token"
)

func testInstances() []pyramid.Instance {
	return []pyramid.Instance{
		{
			PlaneID:     "1.2.3.4.1",
			TotalWidth:  2048,
			TotalHeight: 2048,
			TileWidth:   1024,
			TileHeight:  1024,
			Frames:      []pyramid.Frame{{ColumnOffset: 1, RowOffset: 1}, {ColumnOffset: 1025, RowOffset: 1}, {ColumnOffset: 1, RowOffset: 1025}, {ColumnOffset: 1025, RowOffset: 1025}},
		},
		{
			PlaneID:     "1.2.3.4.2",
			TotalWidth:  1024,
			TotalHeight: 1024,
			TileWidth:   1024,
			TileHeight:  1024,
			Frames:      []pyramid.Frame{{ColumnOffset: 1, RowOffset: 1}},
		},
	}
}

// newTestService returns a fake with study 1.2.3 holding an "OT" series and the "SM"
// series 1.2.3.4, and a study "empty" without series.
func newTestService(t *testing.T) *TestService {
	data, err := dicom.MarshalInstances(testInstances())
	if err != nil {
		t.Fatalf("unable to marshal test instances: %v\n", err)
	}
	f := NewTestService(t)
	f.AddStudy(testStudy,
		TestSeries{UID: "1.2.3.9", Modality: "OT", Instances: []byte("[]")},
		TestSeries{UID: "1.2.3.4", Modality: "SM", Instances: data},
	)
	f.AddStudy("empty")
	return f
}

func testClient(t *testing.T, f *TestService, mode MetadataMode) *Client {
	cfg := f.Config()
	cfg.MetadataMode = mode
	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("unable to create client: %v\n", err)
	}
	return c
}
