package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twinj/uuid"

	"github.com/pathviewer/wsiview/dicomweb"
	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/storage"
	"github.com/pathviewer/wsiview/tilesource"
	"github.com/pathviewer/wsiview/wsi"
)

// ErrNoPyramid is returned when a session has not opened a pyramid.
var ErrNoPyramid = errors.New("no pyramid has been opened for this session")

// Pyramid is a pyramid opened by a session.  It is immutable.
type Pyramid struct {
	Store  dicomweb.StorePath
	Study  string
	Series dicomweb.SeriesPath
	Source *tilesource.Source
	Opened time.Time
}

// Session is the viewing state of one client: the store and study it last opened and
// the tile source for that study.  Opening a new study atomically replaces the tile
// source, so lookups in flight against the old source complete against it.
type Session struct {
	ID      string
	Created time.Time

	sessions *Sessions
	openMu   sync.Mutex
	current  atomic.Pointer[Pyramid]
	lastUsed atomic.Int64
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed returns the time of the last open or lookup.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Open collects and indexes the slide series of a study and installs it as the current
// pyramid.  On error the current pyramid is unchanged.
func (s *Session) Open(ctx context.Context, store dicomweb.StorePath, study string) (*Pyramid, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	s.touch()

	col, err := s.sessions.collector.Collect(ctx, store, study)
	if err != nil {
		return nil, err
	}
	timer := prometheus.NewTimer(buildDuration)
	idx, err := pyramid.Build(col.Instances, s.sessions.opts)
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("study %s: %w", study, err)
	}
	p := &Pyramid{
		Store:  store,
		Study:  study,
		Series: col.Series,
		Source: tilesource.New(idx, col.Series),
		Opened: time.Now(),
	}
	s.current.Store(p)
	wsi.Infof("Session %s opened study %s series %s: %d levels, %d x %d pixels, %d tiles (index ~ %s)\n",
		s.ID, study, col.Series.Series, idx.NumLevels(), idx.Width(), idx.Height(), idx.NumTiles(),
		wsi.MemSize(idx))
	storage.LogActivity(map[string]interface{}{
		"time":    p.Opened.Unix(),
		"action":  "open",
		"session": s.ID,
		"store":   string(store),
		"study":   study,
		"series":  col.Series.Series,
		"levels":  idx.NumLevels(),
		"tiles":   idx.NumTiles(),
	})
	return p, nil
}

// Pyramid returns the current pyramid or ErrNoPyramid.
func (s *Session) Pyramid() (*Pyramid, error) {
	s.touch()
	p := s.current.Load()
	if p == nil {
		return nil, ErrNoPyramid
	}
	return p, nil
}

// Source returns the tile source of the current pyramid or ErrNoPyramid.
func (s *Session) Source() (*tilesource.Source, error) {
	p, err := s.Pyramid()
	if err != nil {
		return nil, err
	}
	return p.Source, nil
}

// Sessions is the set of open sessions sharing one collector.
type Sessions struct {
	collector *dicomweb.Collector
	opts      pyramid.Options

	mu sync.RWMutex
	m  map[string]*Session
}

// NewSessions returns an empty session set.
func NewSessions(collector *dicomweb.Collector, opts pyramid.Options) *Sessions {
	return &Sessions{
		collector: collector,
		opts:      opts,
		m:         make(map[string]*Session),
	}
}

// New creates a session with a new random id.
func (ss *Sessions) New() *Session {
	s := &Session{
		ID:       fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		Created:  time.Now(),
		sessions: ss,
	}
	s.touch()
	ss.mu.Lock()
	ss.m[s.ID] = s
	n := len(ss.m)
	ss.mu.Unlock()
	openSessions.Set(float64(n))
	return s
}

// Get returns the session with the given id.
func (ss *Sessions) Get(id string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, found := ss.m[id]
	return s, found
}

// Close drops a session, returning false if it did not exist.
func (ss *Sessions) Close(id string) bool {
	ss.mu.Lock()
	_, found := ss.m[id]
	delete(ss.m, id)
	n := len(ss.m)
	ss.mu.Unlock()
	openSessions.Set(float64(n))
	return found
}

// Len returns the number of open sessions.
func (ss *Sessions) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.m)
}

// IDs returns the ids of open sessions, sorted.
func (ss *Sessions) IDs() []string {
	ss.mu.RLock()
	ids := make([]string, 0, len(ss.m))
	for id := range ss.m {
		ids = append(ids, id)
	}
	ss.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ExpireIdle closes sessions unused for longer than maxIdle and returns the number closed.
func (ss *Sessions) ExpireIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var expired []string
	ss.mu.RLock()
	for id, s := range ss.m {
		if s.LastUsed().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	ss.mu.RUnlock()
	for _, id := range expired {
		ss.Close(id)
	}
	if len(expired) != 0 {
		wsi.Infof("Expired %d sessions idle more than %s\n", len(expired), maxIdle)
	}
	return len(expired)
}
