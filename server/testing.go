/*
	This file contains functions useful for testing wsiview in other packages.
	Unfortunately, due to the way Go handles compilation of *_test.go files,
	these functions cannot be in server_test.go since they will be unavailable
	to test files in external packages.  So these functions are exported and
	contain the "Test" keyword.
*/

package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pathviewer/wsiview/dicomweb"
)

// OpenTest initializes a server using the given DICOMweb settings and defaults for
// everything else.
func OpenTest(dwc dicomweb.Config) error {
	tc = defaultConfig()
	tc.DicomWeb = dwc
	tcLocation = ""
	tcContent = ""
	return Initialize(context.Background())
}

// CloseTest shuts down a server opened with OpenTest.
func CloseTest() {
	Shutdown()
	tc = defaultConfig()
}

// TestHTTPResponse returns a response from a test run of the wsiview server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	ServeSingleHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with an error status code and returns the code.
func TestBadHTTP(t *testing.T, method, urlStr string, payload io.Reader) int {
	resp := TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code == http.StatusOK {
		t.Fatalf("Expected bad server response to %s on %q, got %d instead.\n", method, urlStr, resp.Code)
	}
	return resp.Code
}
