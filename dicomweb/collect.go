package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/groupcache/singleflight"
	"golang.org/x/sync/errgroup"

	"github.com/pathviewer/wsiview/dicom"
	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/wsi"
)

// DefaultFetchTimeout bounds a shared series retrieval when no FetchTimeout is set.
const DefaultFetchTimeout = 2 * time.Minute

// ErrNoSeries is returned when a study has no series to display.
var ErrNoSeries = errors.New("study has no series")

// MetadataCache holds raw instance metadata keyed by series.
type MetadataCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte)
}

// InstanceArchive persists parsed instance lists of a series.
type InstanceArchive interface {
	GetInstances(ctx context.Context, key string) ([]pyramid.Instance, bool, error)
	PutInstances(ctx context.Context, key string, instances []pyramid.Instance) error
}

// Collection is the parsed instance list of the whole-slide series in a study.
type Collection struct {
	Series    SeriesPath
	Instances []pyramid.Instance
}

// Collector gathers the instances of a study's slide series.  Concurrent collections of
// the same series share one retrieval.
type Collector struct {
	Client *Client

	// Optional cache of raw metadata.
	Cache MetadataCache

	// Optional archive.  If ReadThrough is set, the archive is consulted before the
	// network; fetched series are always written to it.
	Archive     InstanceArchive
	ReadThrough bool

	// FetchTimeout bounds a shared retrieval, which is detached from the cancellation
	// of any one caller.  Zero uses DefaultFetchTimeout.
	FetchTimeout time.Duration

	group singleflight.Group
}

// PickSeries returns the first slide microscopy series, falling back to the first series.
func PickSeries(series []Series) (Series, bool) {
	if len(series) == 0 {
		return Series{}, false
	}
	for _, s := range series {
		if s.Modality == dicom.SlideMicroscopyModality {
			return s, true
		}
	}
	return series[0], true
}

// Collect finds the slide series of a study and returns its parsed instances.
func (c *Collector) Collect(ctx context.Context, store StorePath, study string) (*Collection, error) {
	series, err := c.Client.Series(ctx, store, study)
	if err != nil {
		return nil, err
	}
	picked, found := PickSeries(series)
	if !found {
		return nil, fmt.Errorf("study %s in store %s: %w", study, store, ErrNoSeries)
	}
	if picked.Modality != dicom.SlideMicroscopyModality {
		wsi.Warningf("Study %s has no %s series, using series %s with modality %q\n",
			study, dicom.SlideMicroscopyModality, picked.UID, picked.Modality)
	}
	sp := SeriesPath{Base: c.Client.Base(), Store: store, Study: study, Series: picked.UID}
	instances, err := c.CollectSeries(ctx, sp)
	if err != nil {
		return nil, err
	}
	return &Collection{Series: sp, Instances: instances}, nil
}

type collectResult struct {
	instances []pyramid.Instance
	err       error
}

// CollectSeries returns the parsed instances of a series.  Concurrent callers for one
// series share a retrieval that runs until FetchTimeout regardless of the callers'
// contexts; a caller whose context is done returns its context error without
// affecting the others.
func (c *Collector) CollectSeries(ctx context.Context, sp SeriesPath) ([]pyramid.Instance, error) {
	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	done := make(chan collectResult, 1)
	go func() {
		v, err := c.group.Do(sp.Key(), func() (interface{}, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			return c.collectSeries(fetchCtx, sp)
		})
		var instances []pyramid.Instance
		if err == nil {
			instances = v.([]pyramid.Instance)
		}
		done <- collectResult{instances, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.instances, r.err
	}
}

func (c *Collector) collectSeries(ctx context.Context, sp SeriesPath) ([]pyramid.Instance, error) {
	key := sp.Key()
	if c.Archive != nil && c.ReadThrough {
		instances, found, err := c.Archive.GetInstances(ctx, key)
		if err != nil {
			wsi.Errorf("Unable to read archived instances for %s: %v\n", key, err)
		} else if found {
			wsi.Debugf("Using %d archived instances for %s\n", len(instances), key)
			return instances, nil
		}
	}

	var data []byte
	var cached bool
	if c.Cache != nil {
		data, cached = c.Cache.Get(key)
	}
	if !cached {
		var err error
		if data, err = c.Client.Instances(ctx, sp); err != nil {
			return nil, err
		}
	}
	instances, err := dicom.ParseInstances(data)
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", sp, err)
	}
	if c.Cache != nil && !cached {
		c.Cache.Set(key, data)
	}
	if c.Archive != nil {
		if err := c.Archive.PutInstances(ctx, key, instances); err != nil {
			wsi.Errorf("Unable to archive instances for %s: %v\n", key, err)
		}
	}
	wsi.Infof("Collected %d instances for series %s (cached %t)\n", len(instances), sp.Series, cached)
	return instances, nil
}

// CollectStudies collects several studies concurrently with at most limit retrievals in
// flight.  The first error cancels the remaining collections.
func (c *Collector) CollectStudies(ctx context.Context, store StorePath, studies []string, limit int) ([]*Collection, error) {
	collections := make([]*Collection, len(studies))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, study := range studies {
		i, study := i, study
		g.Go(func() error {
			col, err := c.Collect(gctx, store, study)
			if err != nil {
				return fmt.Errorf("study %s: %w", study, err)
			}
			collections[i] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return collections, nil
}

// StudyResult is the outcome of collecting one study with CollectEach.
type StudyResult struct {
	Study      string
	Collection *Collection // nil on error
	Err        error
}

// CollectEach collects several studies concurrently with at most limit retrievals in
// flight.  Unlike CollectStudies, a failed study does not stop the others; each result
// carries its own error.  Results are in the order of the studies.
func (c *Collector) CollectEach(ctx context.Context, store StorePath, studies []string, limit int) []StudyResult {
	results := make([]StudyResult, len(studies))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, study := range studies {
		i, study := i, study
		g.Go(func() error {
			col, err := c.Collect(ctx, store, study)
			results[i] = StudyResult{Study: study, Collection: col, Err: err}
			if err != nil {
				wsi.Errorf("Unable to collect study %s: %v\n", study, err)
			}
			return nil
		})
	}
	g.Wait()
	return results
}
