package dicomweb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/pathviewer/wsiview/pyramid"
)

func TestConfig(t *testing.T) {
	var c Config
	if c.Base() != DefaultBaseURL {
		t.Errorf("expected default base URL, got %s\n", c.Base())
	}
	if c.HealthcareEndpoint() != "" {
		t.Errorf("expected default healthcare endpoint, got %s\n", c.HealthcareEndpoint())
	}
	if c.Timeout() != time.Minute {
		t.Errorf("expected default timeout of 1 minute, got %s\n", c.Timeout())
	}
	if mode, err := c.Mode(); err != nil || mode != QIDOMode {
		t.Errorf("expected default qido mode, got %q (%v)\n", mode, err)
	}
	c = Config{BaseURL: "http://localhost:8000/", MetadataMode: "WADO", TimeoutSeconds: 5}
	if c.Base() != "http://localhost:8000" {
		t.Errorf("base URL should lose trailing slash: %s\n", c.Base())
	}
	if c.HealthcareEndpoint() != "http://localhost:8000/" {
		t.Errorf("bad healthcare endpoint: %s\n", c.HealthcareEndpoint())
	}
	if ep := (Config{BaseURL: "http://localhost:8000/v1"}).HealthcareEndpoint(); ep != "http://localhost:8000/" {
		t.Errorf("bad healthcare endpoint for versioned base: %s\n", ep)
	}
	if mode, err := c.Mode(); err != nil || mode != WADOMode {
		t.Errorf("expected wado mode, got %q (%v)\n", mode, err)
	}
	if c.Timeout() != 5*time.Second {
		t.Errorf("bad timeout: %s\n", c.Timeout())
	}
	c.MetadataMode = "bulk"
	if _, err := NewClient(c, nil); err == nil {
		t.Errorf("expected error for unknown metadata mode\n")
	}
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	ts, err := NewTokenSource(ctx, Config{Anonymous: true, Token: "ignored"})
	if err != nil || ts != nil {
		t.Errorf("anonymous config should have nil token source, got %v (%v)\n", ts, err)
	}
	ts, err = NewTokenSource(ctx, Config{Token: testToken})
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != testToken {
		t.Errorf("bad static token: %v (%v)\n", tok, err)
	}
	if _, err := NewTokenSource(ctx, Config{CredentialsFile: "/no/such/credentials.json"}); err == nil {
		t.Errorf("expected error for missing credentials file\n")
	}
}

func TestSeriesPath(t *testing.T) {
	sp := SeriesPath{Base: "https://example.com/v1/", Store: "projects/p/locations/l/datasets/d/dicomStores/s", Study: "1.2", Series: "1.2.3"}
	expected := "https://example.com/v1/projects/p/locations/l/datasets/d/dicomStores/s/dicomWeb/studies/1.2/series/1.2.3/instances/9.9/frames/4/rendered"
	if u := sp.FrameURL(pyramid.FrameRef{PlaneID: "9.9", FrameNumber: 4}); u != expected {
		t.Errorf("bad frame URL:\n  got %s\n  expected %s\n", u, expected)
	}
	if key := sp.Key(); key != "example.com/v1/projects/p/locations/l/datasets/d/dicomStores/s/1.2/1.2.3" {
		t.Errorf("bad series key: %s\n", key)
	}
	other := sp
	other.Store = "projects/p/locations/l/datasets/d/dicomStores/s2"
	if other.Key() == sp.Key() {
		t.Errorf("series in different stores should have different keys\n")
	}
	other = sp
	other.Base = "http://localhost:8042/dicom-web"
	if key := other.Key(); key != "localhost:8042/dicom-web/projects/p/locations/l/datasets/d/dicomStores/s/1.2/1.2.3" {
		t.Errorf("bad series key for other service: %s\n", key)
	}
	if name := StoreName("p", "l", "d", "s"); name != string(sp.Store) {
		t.Errorf("bad store name: %s\n", name)
	}
	if id := ResourceID(DatasetName("p", "l", "d")); id != "d" {
		t.Errorf("bad resource id: %s\n", id)
	}
}

func TestSearch(t *testing.T) {
	fake := newTestService(t)
	c := testClient(t, fake, QIDOMode)
	ctx := context.Background()

	studies, err := c.Studies(ctx, TestStore)
	if err != nil {
		t.Fatalf("error searching studies: %v\n", err)
	}
	if len(studies) != 2 || studies[0].UID != testStudy || studies[1].UID != "empty" {
		t.Errorf("bad studies: %v\n", studies)
	}
	series, err := c.Series(ctx, TestStore, testStudy)
	if err != nil {
		t.Fatalf("error searching series: %v\n", err)
	}
	if len(series) != 2 || series[1].Modality != "SM" {
		t.Errorf("bad series: %v\n", series)
	}
	if picked, ok := PickSeries(series); !ok || picked.UID != "1.2.3.4" {
		t.Errorf("expected SM series picked, got %v\n", picked)
	}
	if picked, ok := PickSeries(series[:1]); !ok || picked.UID != "1.2.3.9" {
		t.Errorf("expected fallback to first series, got %v\n", picked)
	}
	if _, ok := PickSeries(nil); ok {
		t.Errorf("expected no series picked from empty list\n")
	}
	for _, emptyOK := range []bool{false, true} {
		fake.EmptyOK = emptyOK
		series, err = c.Series(ctx, TestStore, "empty")
		if err != nil || len(series) != 0 {
			t.Errorf("empty search (200 body %t) should return no series, got %v (%v)\n", emptyOK, series, err)
		}
	}
}

func TestEmptyStore(t *testing.T) {
	fake := NewTestService(t)
	c := testClient(t, fake, QIDOMode)
	studies, err := c.Studies(context.Background(), TestStore)
	if err != nil {
		t.Fatalf("204 No Content search should not fail: %v\n", err)
	}
	if len(studies) != 0 {
		t.Errorf("expected no studies in empty store, got %v\n", studies)
	}
}

func TestStatusError(t *testing.T) {
	fake := newTestService(t)
	c := testClient(t, fake, QIDOMode)
	_, err := c.Series(context.Background(), TestStore, "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v\n", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 status, got %d\n", statusErr.StatusCode)
	}
}

func TestFetchFrame(t *testing.T) {
	fake := newTestService(t)
	ctx := context.Background()
	ts, err := NewTokenSource(ctx, Config{Token: testToken})
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	cfg := Config{BaseURL: fake.URL + "/v1"}
	c, err := NewClient(cfg, NewHTTPClient(ctx, ts, cfg.Timeout()))
	if err != nil {
		t.Fatalf("unable to create client: %v\n", err)
	}
	sp := SeriesPath{Base: c.Base(), Store: TestStore, Study: testStudy, Series: "1.2.3.4"}
	body, contentType, err := c.FetchFrame(ctx, sp.FrameURL(pyramid.FrameRef{PlaneID: "1.2.3.4.1", FrameNumber: 2}))
	if err != nil {
		t.Fatalf("error fetching frame: %v\n", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("error reading frame: %v\n", err)
	}
	if !bytes.Equal(data, TestFrame) || contentType != imageJPEG {
		t.Errorf("bad frame returned: %v (%s)\n", data, contentType)
	}
	if auth := fake.LastAuthorization(); auth != "Bearer "+testToken {
		t.Errorf("expected bearer token on frame request, got %q\n", auth)
	}
}
