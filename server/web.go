package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/pathviewer/wsiview/dicomweb"
	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/storage"
	"github.com/pathviewer/wsiview/tilesource"
	"github.com/pathviewer/wsiview/wsi"
)

const (
	// WebAPIPath is the prefix of all HTTP API requests.
	WebAPIPath = "/api/"

	// message for any structural pyramid error
	unsupportedPyramid = "cannot display this pyramid: malformed or unsupported layout"
)

const webHelp = `
wsiview %s server at %s

All API requests are prefixed by /api.  If an [auth] secret_key is configured, requests
require an "Authorization: Bearer <JWT>" header.  If an [auth] auth_file is also
configured, users need the "read" privilege for GET requests and the "write"
privilege for other requests outside /api/session.  "readwrite" allows both.  Session
requests, including POST and DELETE, are allowed for any privilege.

GET  /api/help
	Returns this help.

GET  /api/server/info
	Returns JSON with server settings, open session count, and cache statistics.

POST /api/server/cache/clear
	Clears the series metadata cache.  Requires write privileges.

GET  /api/browse/locations
GET  /api/browse/<location>/datasets
GET  /api/browse/<location>/<dataset>/stores
GET  /api/browse/<location>/<dataset>/<store>/studies
	Lists Healthcare API resources of the configured [dicomweb] project.  Studies are
	found using QIDO-RS on the DICOM store.

POST /api/session
	Creates a viewing session and returns {"id": <session id>}.

DELETE /api/session/<id>
	Closes a session.

POST /api/session/<id>/open
	Opens the slide series of a study.  The JSON body is
	{"store": "projects/<p>/locations/<l>/datasets/<d>/dicomStores/<s>", "study": "<study uid>"}.
	Returns the tile source description.  Structural defects in the series return
	status 422.

GET  /api/session/<id>/info
	Returns the tile source description of the opened pyramid: width, height, tileSize,
	tileHeight, minLevel, maxLevel, levelScales, levelWidths, numTiles, and
	tileUrlTemplate.  levelScales and levelWidths are indexed by viewer level, so
	element 0 is the coarsest level.

GET  /api/session/<id>/tile/<level>/<row>/<col>
	Returns the rendered JPEG tile where level 0 is the coarsest level, row selects the
	horizontal tile position, and col the vertical.  Missing tiles return status 404.

GET  /api/session/<id>/scale/<level>
	Returns {"level": <level>, "scale": <width of level relative to finest level>}.

GET  /api/session/<id>/tileurl/<level>/<row>/<col>
	Returns {"url": <DICOMweb rendered frame URL>} for the tile.

GET  /metrics
	Prometheus metrics.
`

var mainMux *web.Mux

func initRoutes() {
	mux := web.New()
	mux.Use(middleware.EnvInit)
	mux.Use(middleware.Recoverer)
	mux.Use(isAuthorized)

	mux.Get("/metrics", promhttp.Handler())

	mux.Get("/api/help", instrument("help", helpHandler))
	mux.Get("/api/server/info", instrument("server_info", serverInfoHandler))
	mux.Post("/api/server/cache/clear", instrument("cache_clear", cacheClearHandler))

	mux.Get("/api/browse/locations", instrument("browse", locationsHandler))
	mux.Get("/api/browse/:location/datasets", instrument("browse", datasetsHandler))
	mux.Get("/api/browse/:location/:dataset/stores", instrument("browse", storesHandler))
	mux.Get("/api/browse/:location/:dataset/:store/studies", instrument("browse", studiesHandler))

	mux.Post("/api/session", instrument("session_new", newSessionHandler))
	mux.Delete("/api/session/:id", instrument("session_close", closeSessionHandler))
	mux.Post("/api/session/:id/open", instrument("session_open", openHandler))
	mux.Get("/api/session/:id/info", instrument("session_info", infoHandler))
	mux.Get("/api/session/:id/tile/:level/:row/:col", instrument("tile", tileHandler))
	mux.Get("/api/session/:id/scale/:level", instrument("scale", scaleHandler))
	mux.Get("/api/session/:id/tileurl/:level/:row/:col", instrument("tileurl", tileURLHandler))

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no handler for %s %s", r.Method, r.URL.Path)
	})
	mainMux = mux
}

// ServeSingleHTTP fulfills one request using the default web Mux.
func ServeSingleHTTP(w http.ResponseWriter, r *http.Request) {
	mainMux.ServeHTTP(w, r)
}

func httpError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	if status >= http.StatusInternalServerError {
		wsi.Errorf(errorMsg + "\n")
	} else {
		wsi.Infof(errorMsg + "\n")
	}
	http.Error(w, errorMsg, status)
}

// BadRequest writes a 400 status with the formatted message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, format, args...)
}

// Unauthorized writes a 401 status with the formatted message and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusUnauthorized, format, args...)
}

// Forbidden writes a 403 status with the formatted message and logs it.
func Forbidden(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusForbidden, format, args...)
}

// NotFound writes a 404 status with the formatted message and logs it.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusNotFound, format, args...)
}

// ErrorStatus returns the HTTP status and client message for an error.  All structural
// pyramid errors are reported with one message since none can be partially displayed.
func ErrorStatus(err error) (int, string) {
	var (
		notFound  *pyramid.TileNotFoundError
		gridErr   *tilesource.TileRangeError
		rangeErr  *tilesource.LevelRangeError
		statusErr *dicomweb.StatusError
	)
	switch {
	case errors.Is(err, ErrNoPyramid), errors.Is(err, dicomweb.ErrNoSeries),
		errors.As(err, &notFound), errors.As(err, &gridErr):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &rangeErr):
		return http.StatusBadRequest, err.Error()
	case pyramid.IsStructural(err):
		return http.StatusUnprocessableEntity, unsupportedPyramid
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, err.Error()
		}
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := ErrorStatus(err)
	if status == http.StatusUnprocessableEntity {
		wsi.Errorf("%s: %v (%s)\n", unsupportedPyramid, err, r.URL.Path)
		http.Error(w, message, status)
		return
	}
	httpError(w, r, status, "%s", message)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "unable to encode JSON: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func helpHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, webHelp, Version, Host())
}

func serverInfoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	info := map[string]interface{}{
		"Version":        Version,
		"Host":           Host(),
		"Note":           Note(),
		"Config":         ConfigLocation(),
		"DICOMweb":       s.client.Base(),
		"Browsing":       s.browser != nil,
		"TileMode":       TileMode(),
		"Sessions":       s.sessions.Len(),
		"LastWriteWins":  tc.Pyramid.LastWriteWins,
		"Started":        s.started.Format(time.RFC3339),
		"Uptime":         time.Since(s.started).Round(time.Second).String(),
		"AuthRequired":   AuthRequired(),
		"KafkaAvailable": KafkaAvailable(),
	}
	if KafkaAvailable() {
		info["KafkaActivityTopic"] = storage.KafkaActivityTopic()
	}
	if s.cache != nil {
		info["MetadataCache"] = s.cache.Stats()
	}
	if s.archive != nil {
		info["Archive"] = tc.Archive.Bucket
	}
	writeJSON(w, r, info)
}

func cacheClearHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.cache == nil {
		BadRequest(w, r, "no [cache] metadata_mb configured")
		return
	}
	s.cache.Clear()
	wsi.Infof("Cleared metadata cache by request of %v\n", c.Env["user"])
}

// browser returns the running server's browser, writing an error if unavailable.
func browser(w http.ResponseWriter, r *http.Request) (*serverT, bool) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if s.browser == nil {
		BadRequest(w, r, "browsing requires a [dicomweb] project setting")
		return nil, false
	}
	return s, true
}

func locationsHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, ok := browser(w, r)
	if !ok {
		return
	}
	resources, err := s.browser.Locations(r.Context(), dicomweb.ProjectName(tc.DicomWeb.Project))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, resources)
}

func datasetsHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, ok := browser(w, r)
	if !ok {
		return
	}
	location := dicomweb.LocationName(tc.DicomWeb.Project, c.URLParams["location"])
	resources, err := s.browser.Datasets(r.Context(), location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, resources)
}

func storesHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, ok := browser(w, r)
	if !ok {
		return
	}
	dataset := dicomweb.DatasetName(tc.DicomWeb.Project, c.URLParams["location"], c.URLParams["dataset"])
	resources, err := s.browser.DicomStores(r.Context(), dataset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, resources)
}

func studiesHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, ok := browser(w, r)
	if !ok {
		return
	}
	store := dicomweb.StoreName(tc.DicomWeb.Project, c.URLParams["location"], c.URLParams["dataset"], c.URLParams["store"])
	studies, err := s.client.Studies(r.Context(), dicomweb.StorePath(store))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, studies)
}

func newSessionHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := s.sessions.New()
	wsi.Debugf("Created session %s for user %v\n", session.ID, c.Env["user"])
	writeJSON(w, r, map[string]string{"id": session.ID})
}

func closeSessionHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.sessions.Close(c.URLParams["id"]) {
		NotFound(w, r, "no session %q", c.URLParams["id"])
	}
}

// getSession returns the session in the URL, writing an error if not found.
func getSession(c web.C, w http.ResponseWriter, r *http.Request) (*serverT, *Session, bool) {
	s, err := current()
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}
	session, found := s.sessions.Get(c.URLParams["id"])
	if !found {
		NotFound(w, r, "no session %q", c.URLParams["id"])
		return nil, nil, false
	}
	return s, session, true
}

type sessionInfo struct {
	ID     string    `json:"id"`
	Store  string    `json:"store"`
	Study  string    `json:"study"`
	Series string    `json:"series"`
	Opened time.Time `json:"opened"`
	tilesource.Descriptor
}

func describe(session *Session, p *Pyramid) sessionInfo {
	template := fmt.Sprintf("%ssession/%s/tile/{level}/{row}/{col}", WebAPIPath, session.ID)
	return sessionInfo{
		ID:         session.ID,
		Store:      string(p.Store),
		Study:      p.Study,
		Series:     p.Series.Series,
		Opened:     p.Opened,
		Descriptor: p.Source.Descriptor(template),
	}
}

func openHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	_, session, ok := getSession(c, w, r)
	if !ok {
		return
	}
	var req struct {
		Store string `json:"store"`
		Study string `json:"study"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "bad open request JSON: %v", err)
		return
	}
	if req.Store == "" || req.Study == "" {
		BadRequest(w, r, "open request requires \"store\" and \"study\"")
		return
	}
	p, err := session.Open(r.Context(), dicomweb.StorePath(req.Store), req.Study)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, describe(session, p))
}

func infoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	_, session, ok := getSession(c, w, r)
	if !ok {
		return
	}
	p, err := session.Pyramid()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, describe(session, p))
}

// intParams parses the named URL parameters as integers.
func intParams(c web.C, names ...string) ([]int, error) {
	values := make([]int, len(names))
	for i, name := range names {
		v, err := strconv.Atoi(c.URLParams[name])
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: must be an integer", name, c.URLParams[name])
		}
		values[i] = v
	}
	return values, nil
}

// tileURL returns the frame URL for the tile in the request, counting the lookup outcome.
func tileURL(c web.C, w http.ResponseWriter, r *http.Request) (*serverT, string, bool) {
	s, session, ok := getSession(c, w, r)
	if !ok {
		return nil, "", false
	}
	coords, err := intParams(c, "level", "row", "col")
	if err != nil {
		BadRequest(w, r, "%v", err)
		return nil, "", false
	}
	src, err := session.Source()
	if err != nil {
		tileLookups.WithLabelValues(tileNoIndex).Inc()
		writeError(w, r, err)
		return nil, "", false
	}
	url, err := src.TileURL(coords[0], coords[1], coords[2])
	if err != nil {
		var rangeErr *tilesource.LevelRangeError
		if errors.As(err, &rangeErr) {
			tileLookups.WithLabelValues(tileBadLevel).Inc()
		} else {
			tileLookups.WithLabelValues(tileMiss).Inc()
		}
		writeError(w, r, err)
		return nil, "", false
	}
	tileLookups.WithLabelValues(tileHit).Inc()
	return s, url, true
}

func tileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s, url, ok := tileURL(c, w, r)
	if !ok {
		return
	}
	if TileMode() == DirectTiles {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}
	body, contentType, err := s.client.FetchFrame(r.Context(), url)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, body); err != nil {
		wsi.Errorf("Error proxying tile %s: %v\n", url, err)
	}
}

func tileURLHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	_, url, ok := tileURL(c, w, r)
	if !ok {
		return
	}
	writeJSON(w, r, map[string]string{"url": url})
}

func scaleHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	_, session, ok := getSession(c, w, r)
	if !ok {
		return
	}
	level, err := intParams(c, "level")
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	src, err := session.Source()
	if err != nil {
		writeError(w, r, err)
		return
	}
	scale, err := src.LevelScale(level[0])
	if err != nil {
		tileLookups.WithLabelValues(tileBadLevel).Inc()
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, map[string]interface{}{"level": level[0], "scale": scale})
}
