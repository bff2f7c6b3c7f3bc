/*
	This file contains a fake DICOMweb and Healthcare API service useful for testing
	in this and other packages.  These functions are exported and contain the "Test"
	keyword since *_test.go files are not available to other packages.
*/

package dicomweb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pathviewer/wsiview/dicom"
)

// TestStore is the only DICOM store of a TestService.
const TestStore StorePath = "projects/p/locations/us/datasets/d1/dicomStores/s1"

// TestFrame is the rendered frame returned for any known frame request.
var TestFrame = []byte{0xff, 0xd8, 0xff, 0xe0, 'f', 'a', 'k', 'e', 0xff, 0xd9}

// TestSeries is a series served by a TestService.
type TestSeries struct {
	UID       string
	Modality  string
	Instances []byte // DICOM JSON instance metadata
}

// TestService is a fake service serving one project "p" with location "us", dataset
// "d1", and DICOM store "s1".
type TestService struct {
	*httptest.Server

	InstanceRequests int32
	MetadataRequests int32
	FrameRequests    int32

	// EmptyOK answers searches without matches with 200 and an empty body instead
	// of 204 No Content.
	EmptyOK bool

	mu       sync.Mutex
	hold     chan struct{}
	studies  map[string][]TestSeries
	order    []string
	lastAuth string
}

// NewTestService starts a fake service that is closed when the test completes.
func NewTestService(t *testing.T) *TestService {
	f := &TestService{studies: make(map[string][]TestSeries)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Config returns an anonymous client configuration for the service.
func (f *TestService) Config() Config {
	return Config{BaseURL: f.URL + "/v1", Project: "p", Anonymous: true}
}

// AddStudy adds or replaces a study and its series.
func (f *TestService) AddStudy(study string, series ...TestSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, found := f.studies[study]; !found {
		f.order = append(f.order, study)
	}
	f.studies[study] = series
}

// HoldInstances makes instance and metadata requests wait until the returned release
// function is called or the request is cancelled.
func (f *TestService) HoldInstances() (release func()) {
	hold := make(chan struct{})
	f.mu.Lock()
	f.hold = hold
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(hold) })
	}
}

func (f *TestService) waitForRelease(r *http.Request) bool {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold == nil {
		return true
	}
	select {
	case <-hold:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (f *TestService) writeEmpty(w http.ResponseWriter) {
	if f.EmptyOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

// LastAuthorization returns the Authorization header of the last request.
func (f *TestService) LastAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *TestService) findSeries(study, uid string) (TestSeries, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.studies[study] {
		if s.UID == uid {
			return s, true
		}
	}
	return TestSeries{}, false
}

func writeTestJSON(w http.ResponseWriter, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	json.NewEncoder(w).Encode(v)
}

func (f *TestService) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastAuth = r.Header.Get("Authorization")
	f.mu.Unlock()

	p := r.URL.Path
	switch p {
	case "/v1/projects/p/locations":
		writeTestJSON(w, "application/json", map[string]interface{}{
			"locations": []map[string]string{{"name": "projects/p/locations/us", "locationId": "us"}},
		})
		return
	case "/v1/projects/p/locations/us/datasets":
		writeTestJSON(w, "application/json", map[string]interface{}{
			"datasets": []map[string]string{{"name": "projects/p/locations/us/datasets/d1"}},
		})
		return
	case "/v1/projects/p/locations/us/datasets/d1/dicomStores":
		writeTestJSON(w, "application/json", map[string]interface{}{
			"dicomStores": []map[string]string{{"name": string(TestStore)}},
		})
		return
	}

	web := "/v1/" + string(TestStore) + "/dicomWeb/studies"
	if !strings.HasPrefix(p, web) {
		http.Error(w, "not found: "+p, http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(p, web), "/"), "/")
	var rows []map[dicom.Tag]string
	switch {
	case len(parts) == 1 && parts[0] == "":
		f.mu.Lock()
		for _, study := range f.order {
			rows = append(rows, map[dicom.Tag]string{dicom.TagStudyInstanceUID: study})
		}
		f.mu.Unlock()

	case len(parts) == 2 && parts[1] == "series":
		f.mu.Lock()
		series, found := f.studies[parts[0]]
		f.mu.Unlock()
		if !found {
			http.Error(w, "unknown study "+parts[0], http.StatusNotFound)
			return
		}
		if len(series) == 0 {
			f.writeEmpty(w)
			return
		}
		for _, s := range series {
			rows = append(rows, map[dicom.Tag]string{dicom.TagSeriesInstanceUID: s.UID, dicom.TagModality: s.Modality})
		}

	case len(parts) >= 4 && parts[1] == "series":
		series, found := f.findSeries(parts[0], parts[2])
		if !found {
			http.Error(w, "unknown series "+parts[2], http.StatusNotFound)
			return
		}
		switch {
		case len(parts) == 4 && parts[3] == "instances" && r.URL.Query().Get("includefield") == "all":
			atomic.AddInt32(&f.InstanceRequests, 1)
		case len(parts) == 4 && parts[3] == "metadata":
			atomic.AddInt32(&f.MetadataRequests, 1)
		case len(parts) == 8 && parts[3] == "instances" && parts[5] == "frames" && parts[7] == "rendered":
			atomic.AddInt32(&f.FrameRequests, 1)
			if r.Header.Get("Accept") != imageJPEG {
				http.Error(w, "only image/jpeg available", http.StatusNotAcceptable)
				return
			}
			w.Header().Set("Content-Type", imageJPEG)
			w.Write(TestFrame)
			return
		default:
			http.Error(w, "not found: "+p, http.StatusNotFound)
			return
		}
		if !f.waitForRelease(r) {
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.Write(series.Instances)
		return

	default:
		http.Error(w, "not found: "+p, http.StatusNotFound)
		return
	}

	if len(rows) == 0 {
		f.writeEmpty(w)
		return
	}
	data, err := dicom.MarshalStrings(rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", dicomJSON)
	w.Write(data)
}
