package dicomweb

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pathviewer/wsiview/pyramid"
)

// ProjectName returns the Healthcare API resource name of a project.
func ProjectName(project string) string {
	return "projects/" + project
}

// LocationName returns the resource name of a location within a project.
func LocationName(project, location string) string {
	return fmt.Sprintf("projects/%s/locations/%s", project, location)
}

// DatasetName returns the resource name of a dataset.
func DatasetName(project, location, dataset string) string {
	return fmt.Sprintf("%s/datasets/%s", LocationName(project, location), dataset)
}

// StoreName returns the resource name of a DICOM store.
func StoreName(project, location, dataset, store string) string {
	return fmt.Sprintf("%s/dicomStores/%s", DatasetName(project, location, dataset), store)
}

// ResourceID returns the last path element of a resource name.
func ResourceID(name string) string {
	return path.Base(name)
}

// StorePath is a DICOM store resource name relative to the base URL, e.g.,
// "projects/p/locations/l/datasets/d/dicomStores/s".
type StorePath string

// DicomWeb returns the DICOMweb root URL of the store.
func (s StorePath) DicomWeb(base string) string {
	return fmt.Sprintf("%s/%s/dicomWeb", strings.TrimRight(base, "/"), strings.Trim(string(s), "/"))
}

// SeriesPath addresses one series within a DICOM store.
type SeriesPath struct {
	Base   string
	Store  StorePath
	Study  string
	Series string
}

// StudyURL returns the DICOMweb URL of the study.
func (p SeriesPath) StudyURL() string {
	return fmt.Sprintf("%s/studies/%s", p.Store.DicomWeb(p.Base), p.Study)
}

// URL returns the DICOMweb URL of the series.
func (p SeriesPath) URL() string {
	return fmt.Sprintf("%s/series/%s", p.StudyURL(), p.Series)
}

// FrameURL returns the WADO-RS rendered frame URL for a stored frame.
func (p SeriesPath) FrameURL(ref pyramid.FrameRef) string {
	return fmt.Sprintf("%s/instances/%s/frames/%d/rendered", p.URL(), ref.PlaneID, ref.FrameNumber)
}

// Key returns a key for caching and archiving the series that is unique across
// services and stores: "<host>[/<base path>]/<store>/<study>/<series>".
func (p SeriesPath) Key() string {
	service := p.Base
	if u, err := url.Parse(p.Base); err == nil && u.Host != "" {
		service = u.Host + u.Path
	}
	parts := []string{strings.Trim(service, "/"), strings.Trim(string(p.Store), "/"), p.Study, p.Series}
	return strings.Trim(strings.Join(parts, "/"), "/")
}

func (p SeriesPath) String() string {
	return p.URL()
}
