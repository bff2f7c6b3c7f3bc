/*
Package dicomweb retrieves whole-slide image metadata and frames from a DICOMweb
service, by default the Google Cloud Healthcare API.  Studies, series, and instances
are found with QIDO-RS, instance metadata may alternatively come from WADO-RS
metadata requests, and frames are fetched as rendered JPEG from WADO-RS.
*/
package dicomweb

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultBaseURL is the Cloud Healthcare API endpoint under which DICOM stores live.
	DefaultBaseURL = "https://healthcare.googleapis.com/v1"

	// HealthcareScope is the OAuth2 scope needed to read DICOM stores.
	HealthcareScope = "https://www.googleapis.com/auth/cloud-healthcare"

	defaultTimeout = 60 * time.Second
)

// MetadataMode selects how instance metadata is requested for a series.
type MetadataMode string

const (
	// QIDOMode searches instances with includefield=all.
	QIDOMode MetadataMode = "qido"

	// WADOMode retrieves the series metadata resource.
	WADOMode MetadataMode = "wado"
)

// Config is the [dicomweb] section of the server configuration.
type Config struct {
	BaseURL         string       `toml:"base_url"`
	Project         string       `toml:"project"`
	CredentialsFile string       `toml:"credentials_file"`
	Token           string       `toml:"token"`
	Anonymous       bool         `toml:"anonymous"`
	Scopes          []string     `toml:"scopes"`
	MetadataMode    MetadataMode `toml:"metadata_mode"`
	TimeoutSeconds  int          `toml:"timeout_seconds"`
}

// Base returns the base URL without a trailing slash, using DefaultBaseURL if unset.
func (c Config) Base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// HealthcareEndpoint returns the root endpoint of the Healthcare API implied by the base
// URL, i.e., the base URL without its version path, or the empty string for the default.
func (c Config) HealthcareEndpoint() string {
	if c.BaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.Base(), "/v1") + "/"
}

// Timeout returns the timeout for a single request.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Mode returns the metadata mode, defaulting to QIDOMode.
func (c Config) Mode() (MetadataMode, error) {
	switch strings.ToLower(string(c.MetadataMode)) {
	case "", string(QIDOMode):
		return QIDOMode, nil
	case string(WADOMode):
		return WADOMode, nil
	default:
		return "", fmt.Errorf("unknown dicomweb metadata_mode %q, must be %q or %q", c.MetadataMode, QIDOMode, WADOMode)
	}
}

func (c Config) scopes() []string {
	if len(c.Scopes) == 0 {
		return []string{HealthcareScope}
	}
	return c.Scopes
}

// NewTokenSource returns the token source for outbound requests.  A static token takes
// precedence, then a service account JSON file, then Google application default
// credentials.  Anonymous configurations return a nil token source.
func NewTokenSource(ctx context.Context, c Config) (oauth2.TokenSource, error) {
	switch {
	case c.Anonymous:
		return nil, nil
	case c.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token}), nil
	case c.CredentialsFile != "":
		jwtdata, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("cannot load credentials file (%s): %v", c.CredentialsFile, err)
		}
		conf, err := google.JWTConfigFromJSON(jwtdata, c.scopes()...)
		if err != nil {
			return nil, fmt.Errorf("cannot establish JWT config from credentials file %s: %v", c.CredentialsFile, err)
		}
		return conf.TokenSource(ctx), nil
	default:
		ts, err := google.DefaultTokenSource(ctx, c.scopes()...)
		if err != nil {
			return nil, fmt.Errorf("cannot find default Google credentials: %v", err)
		}
		return ts, nil
	}
}

// NewHTTPClient returns an HTTP client that adds Authorization headers from the token
// source, or a plain client if the token source is nil.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	var client *http.Client
	if ts == nil {
		client = &http.Client{}
	} else {
		client = oauth2.NewClient(ctx, ts)
	}
	client.Timeout = timeout
	return client
}
