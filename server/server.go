package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/pathviewer/wsiview/dicomweb"
	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/storage"
	"github.com/pathviewer/wsiview/wsi"
)

// Version is the version of the wsiview server.
const Version = "0.9.0"

// serverT holds the services built from the configuration.
type serverT struct {
	client    *dicomweb.Client
	browser   *dicomweb.Browser // nil if no project is configured
	collector *dicomweb.Collector
	cache     *storage.MetadataCache
	archive   *storage.Archive
	sessions  *Sessions
	started   time.Time
}

var (
	running   *serverT
	runningMu sync.RWMutex
)

func current() (*serverT, error) {
	runningMu.RLock()
	defer runningMu.RUnlock()
	if running == nil {
		return nil, fmt.Errorf("server has not been initialized")
	}
	return running, nil
}

// Initialize builds the DICOMweb client, caches, archive, activity log, and sessions
// from the loaded configuration.
func Initialize(ctx context.Context) error {
	dwc := tc.DicomWeb
	ts, err := dicomweb.NewTokenSource(ctx, dwc)
	if err != nil {
		return err
	}
	httpClient := dicomweb.NewHTTPClient(ctx, ts, dwc.Timeout())
	client, err := dicomweb.NewClient(dwc, httpClient)
	if err != nil {
		return err
	}
	s := &serverT{client: client, started: time.Now()}
	if dwc.Project != "" {
		if s.browser, err = dicomweb.NewBrowser(ctx, httpClient, dwc.HealthcareEndpoint()); err != nil {
			return err
		}
	}
	s.collector = &dicomweb.Collector{
		Client:       client,
		ReadThrough:  tc.Archive.ReadThrough,
		FetchTimeout: 2 * dwc.Timeout(),
	}
	if numBytes := MetadataCacheSize(); numBytes > 0 {
		s.cache = storage.NewMetadataCache(numBytes, tc.Cache.TTLSeconds)
		s.collector.Cache = s.cache
	}
	if tc.Archive.Bucket != "" {
		compress, err := wsi.ParseCompression(tc.Archive.Compression)
		if err != nil {
			return err
		}
		if s.archive, err = storage.OpenArchive(ctx, tc.Archive.Bucket, compress); err != nil {
			return err
		}
		s.collector.Archive = s.archive
	}
	if err := tc.Kafka.Initialize(Host()); err != nil {
		return fmt.Errorf("unable to initialize kafka: %v", err)
	}
	if err := loadAuthFile(); err != nil {
		return err
	}
	if tc.Pyramid.LastWriteWins {
		wsi.Warningf("Pyramid builds will let duplicate tiles overwrite earlier tiles (last_write_wins)\n")
	}
	s.sessions = NewSessions(s.collector, PyramidOptions())

	runningMu.Lock()
	running = s
	runningMu.Unlock()
	initRoutes()
	mode, _ := dwc.Mode()
	wsi.Infof("Initialized wsiview %s using DICOMweb at %s (%s metadata)\n", Version, client.Base(), mode)
	return nil
}

// Handler returns the HTTP handler for all routes with any configured CORS domains.
func Handler() http.Handler {
	if len(tc.Server.CorsDomains) == 0 {
		return mainMux
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   tc.Server.CorsDomains,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(mainMux)
}

// Serve listens and serves HTTP requests until the context is done, then shuts down
// gracefully within the configured delay.
func Serve(ctx context.Context) error {
	s, err := current()
	if err != nil {
		return err
	}
	address := tc.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	srv := &http.Server{
		Addr:              address,
		Handler:           Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	if tc.Server.SessionIdleMinutes > 0 {
		go expireSessions(ctx, s.sessions, time.Duration(tc.Server.SessionIdleMinutes)*time.Minute)
	}

	errc := make(chan error, 1)
	go func() {
		wsi.Infof("Web server listening at %s ...\n", address)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(tc.Server.ShutdownDelay) * time.Second
	wsi.Infof("Shutting down web server within %s...\n", delay)
	sctx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	return srv.Shutdown(sctx)
}

func expireSessions(ctx context.Context, sessions *Sessions, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.ExpireIdle(maxIdle)
		}
	}
}

// Shutdown closes the archive and flushes the activity log.
func Shutdown() {
	runningMu.Lock()
	s := running
	running = nil
	runningMu.Unlock()
	if s != nil && s.archive != nil {
		if err := s.archive.Close(); err != nil {
			wsi.Errorf("Error closing archive: %v\n", err)
		}
	}
	storage.KafkaShutdown()
}

// Collector returns the collector of the running server.
func Collector() (*dicomweb.Collector, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	return s.collector, nil
}

// Browser returns the Healthcare API browser of the running server.
func Browser() (*dicomweb.Browser, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	if s.browser == nil {
		return nil, fmt.Errorf("browsing requires a [dicomweb] project setting")
	}
	return s.browser, nil
}

// Client returns the DICOMweb client of the running server.
func Client() (*dicomweb.Client, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	return s.client, nil
}

// PyramidOptions returns the configured pyramid build options.
func PyramidOptions() pyramid.Options {
	return pyramid.Options{LastWriteWins: tc.Pyramid.LastWriteWins}
}
