package dicomweb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pathviewer/wsiview/dicom"
	"github.com/pathviewer/wsiview/wsi"
)

const (
	dicomJSON = "application/dicom+json"
	imageJPEG = "image/jpeg"

	// maximum bytes of an upstream error body kept in a StatusError
	maxErrorBody = 1024
)

// StatusError is returned when the DICOMweb service responds with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Study is a study found by QIDO-RS.
type Study struct {
	UID         string `json:"uid"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

// Series is a series found by QIDO-RS.
type Series struct {
	UID         string `json:"uid"`
	Modality    string `json:"modality,omitempty"`
	Description string `json:"description,omitempty"`
}

// Client makes DICOMweb requests.  It is safe for concurrent use.
type Client struct {
	base   string
	mode   MetadataMode
	client *http.Client
}

// NewClient returns a client for the configured service using the given HTTP client,
// which should add any needed Authorization headers.
func NewClient(c Config, client *http.Client) (*Client, error) {
	mode, err := c.Mode()
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{base: c.Base(), mode: mode, client: client}, nil
}

// Base returns the base URL of the service.
func (c *Client) Base() string {
	return c.base
}

func (c *Client) get(ctx context.Context, u, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error requesting %s: %w", u, err)
	}
	ok := resp.StatusCode == http.StatusOK ||
		(resp.StatusCode == http.StatusNoContent && accept == dicomJSON)
	if !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, u string) ([]byte, error) {
	timedLog := wsi.NewTimeLog()
	resp, err := c.get(ctx, u, dicomJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", u, err)
	}
	timedLog.Debugf("GET %s returned %s", u, wsi.HumanBytes(len(data)))
	return data, nil
}

// getObjects returns the decoded DICOM JSON array at the URL.  An empty response body,
// including a 204 No Content which QIDO-RS allows for searches without matches, is an
// empty array.
func (c *Client) getObjects(ctx context.Context, u string) ([]dicom.Object, error) {
	data, err := c.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	objs, err := dicom.DecodeObjects(data)
	if err != nil {
		return nil, fmt.Errorf("bad DICOM JSON from %s: %w", u, err)
	}
	return objs, nil
}

// Studies searches the studies in a DICOM store.
func (c *Client) Studies(ctx context.Context, store StorePath) ([]Study, error) {
	objs, err := c.getObjects(ctx, store.DicomWeb(c.base)+"/studies")
	if err != nil {
		return nil, err
	}
	studies := make([]Study, 0, len(objs))
	for _, obj := range objs {
		uid, err := obj.String(dicom.TagStudyInstanceUID)
		if err != nil {
			return nil, fmt.Errorf("bad study in store %s: %v", store, err)
		}
		date, _ := obj.String(dicom.TagStudyDate)
		desc, _ := obj.String(dicom.TagStudyDescription)
		studies = append(studies, Study{UID: uid, Date: date, Description: desc})
	}
	return studies, nil
}

// Series searches the series of a study.
func (c *Client) Series(ctx context.Context, store StorePath, study string) ([]Series, error) {
	u := fmt.Sprintf("%s/studies/%s/series", store.DicomWeb(c.base), url.PathEscape(study))
	objs, err := c.getObjects(ctx, u)
	if err != nil {
		return nil, err
	}
	series := make([]Series, 0, len(objs))
	for _, obj := range objs {
		uid, err := obj.String(dicom.TagSeriesInstanceUID)
		if err != nil {
			return nil, fmt.Errorf("bad series in study %s: %v", study, err)
		}
		modality, _ := obj.String(dicom.TagModality)
		desc, _ := obj.String(dicom.TagSeriesDescription)
		series = append(series, Series{UID: uid, Modality: modality, Description: desc})
	}
	return series, nil
}

// InstancesURL returns the URL used to retrieve instance metadata of a series.
func (c *Client) InstancesURL(series SeriesPath) string {
	if c.mode == WADOMode {
		return series.URL() + "/metadata"
	}
	return series.URL() + "/instances?includefield=all"
}

// Instances returns the raw DICOM JSON metadata of all instances in a series.
func (c *Client) Instances(ctx context.Context, series SeriesPath) ([]byte, error) {
	return c.getJSON(ctx, c.InstancesURL(series))
}

// FetchFrame requests a rendered JPEG frame.  The caller must close the returned body.
func (c *Client) FetchFrame(ctx context.Context, frameURL string) (body io.ReadCloser, contentType string, err error) {
	resp, err := c.get(ctx, frameURL, imageJPEG)
	if err != nil {
		return nil, "", err
	}
	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = imageJPEG
	}
	return resp.Body, contentType, nil
}
