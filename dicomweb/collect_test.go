package dicomweb

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pathviewer/wsiview/pyramid"
)

type mapCache struct {
	sync.Mutex
	m map[string][]byte
}

func (c *mapCache) Get(key string) ([]byte, bool) {
	c.Lock()
	defer c.Unlock()
	data, found := c.m[key]
	return data, found
}

func (c *mapCache) Set(key string, data []byte) {
	c.Lock()
	defer c.Unlock()
	if c.m == nil {
		c.m = make(map[string][]byte)
	}
	c.m[key] = data
}

type mapArchive struct {
	sync.Mutex
	m    map[string][]pyramid.Instance
	puts int
}

func (a *mapArchive) GetInstances(ctx context.Context, key string) ([]pyramid.Instance, bool, error) {
	a.Lock()
	defer a.Unlock()
	instances, found := a.m[key]
	return instances, found, nil
}

func (a *mapArchive) PutInstances(ctx context.Context, key string, instances []pyramid.Instance) error {
	a.Lock()
	defer a.Unlock()
	if a.m == nil {
		a.m = make(map[string][]pyramid.Instance)
	}
	a.m[key] = instances
	a.puts++
	return nil
}

func TestCollect(t *testing.T) {
	for _, mode := range []MetadataMode{QIDOMode, WADOMode} {
		fake := newTestService(t)
		collector := &Collector{Client: testClient(t, fake, mode)}
		col, err := collector.Collect(context.Background(), TestStore, testStudy)
		if err != nil {
			t.Fatalf("error collecting study in %s mode: %v\n", mode, err)
		}
		if col.Series.Series != "1.2.3.4" {
			t.Errorf("expected SM series collected, got %s\n", col.Series.Series)
		}
		if !reflect.DeepEqual(col.Instances, testInstances()) {
			t.Errorf("bad instances collected in %s mode:\n%v\n", mode, col.Instances)
		}
		if mode == QIDOMode && fake.InstanceRequests != 1 {
			t.Errorf("expected 1 QIDO instance request, got %d\n", fake.InstanceRequests)
		}
		if mode == WADOMode && fake.MetadataRequests != 1 {
			t.Errorf("expected 1 WADO metadata request, got %d\n", fake.MetadataRequests)
		}
		idx, err := pyramid.Build(col.Instances, pyramid.Options{})
		if err != nil {
			t.Fatalf("unable to build pyramid from collected instances: %v\n", err)
		}
		if idx.NumLevels() != 2 || idx.NumTiles() != 5 {
			t.Errorf("bad pyramid from collected instances: %d levels, %d tiles\n", idx.NumLevels(), idx.NumTiles())
		}
	}
}

func TestCollectCacheAndArchive(t *testing.T) {
	fake := newTestService(t)
	cache := new(mapCache)
	archive := new(mapArchive)
	collector := &Collector{Client: testClient(t, fake, QIDOMode), Cache: cache, Archive: archive}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := collector.Collect(ctx, TestStore, testStudy); err != nil {
			t.Fatalf("error collecting study: %v\n", err)
		}
	}
	if n := atomic.LoadInt32(&fake.InstanceRequests); n != 1 {
		t.Errorf("expected cached metadata after first request, got %d requests\n", n)
	}
	if archive.puts != 3 {
		t.Errorf("expected 3 archive writes without read through, got %d\n", archive.puts)
	}

	fake2 := newTestService(t)
	collector = &Collector{Client: testClient(t, fake2, QIDOMode), Archive: archive, ReadThrough: true}
	col, err := collector.Collect(ctx, TestStore, testStudy)
	if err != nil {
		t.Fatalf("error collecting study through archive: %v\n", err)
	}
	if n := atomic.LoadInt32(&fake2.InstanceRequests); n != 0 {
		t.Errorf("read through archive should avoid metadata requests, got %d\n", n)
	}
	if !reflect.DeepEqual(col.Instances, testInstances()) {
		t.Errorf("bad archived instances: %v\n", col.Instances)
	}
}

func TestCollectMalformed(t *testing.T) {
	fake := newTestService(t)
	fake.AddStudy(testStudy, TestSeries{UID: "1.2.3.4", Modality: "SM", Instances: []byte(`[{"00080018": {"vr": "UI", "Value": ["1.2"]}}]`)})
	cache := new(mapCache)
	collector := &Collector{Client: testClient(t, fake, QIDOMode), Cache: cache}
	_, err := collector.Collect(context.Background(), TestStore, testStudy)
	if !pyramid.IsStructural(err) {
		t.Fatalf("expected structural error for malformed metadata, got %v\n", err)
	}
	if len(cache.m) != 0 {
		t.Errorf("malformed metadata should not be cached\n")
	}
}

func TestCollectStudies(t *testing.T) {
	fake := newTestService(t)
	collector := &Collector{Client: testClient(t, fake, QIDOMode)}
	studies := []string{testStudy, testStudy, testStudy, testStudy}
	cols, err := collector.CollectStudies(context.Background(), TestStore, studies, 2)
	if err != nil {
		t.Fatalf("error collecting studies: %v\n", err)
	}
	if len(cols) != len(studies) {
		t.Fatalf("expected %d collections, got %d\n", len(studies), len(cols))
	}
	for i, col := range cols {
		if col == nil || len(col.Instances) != 2 {
			t.Errorf("bad collection %d: %v\n", i, col)
		}
	}
	if _, err := collector.CollectStudies(context.Background(), TestStore, []string{testStudy, "missing"}, 0); err == nil {
		t.Errorf("expected error when one study is missing\n")
	}
	if _, err := collector.Collect(context.Background(), TestStore, "empty"); !errors.Is(err, ErrNoSeries) {
		t.Errorf("expected ErrNoSeries for study without series, got %v\n", err)
	}
}

func TestCollectEach(t *testing.T) {
	fake := newTestService(t)
	malformed := []byte(`[{"00080018": {"vr": "UI", "Value": ["bad"]}}]`)
	fake.AddStudy("7.7", TestSeries{UID: "7.7.1", Modality: "SM", Instances: malformed})
	collector := &Collector{Client: testClient(t, fake, QIDOMode)}
	studies := []string{testStudy, "missing", "7.7", "empty", testStudy}
	results := collector.CollectEach(context.Background(), TestStore, studies, 2)
	if len(results) != len(studies) {
		t.Fatalf("expected %d results, got %d\n", len(studies), len(results))
	}
	for i, r := range results {
		if r.Study != studies[i] {
			t.Errorf("result %d is for study %s, expected %s\n", i, r.Study, studies[i])
		}
	}
	for _, i := range []int{0, 4} {
		if results[i].Err != nil || results[i].Collection == nil || len(results[i].Collection.Instances) != 2 {
			t.Errorf("good study should collect despite other failures: %+v\n", results[i])
		}
	}
	var statusErr *StatusError
	if !errors.As(results[1].Err, &statusErr) {
		t.Errorf("expected status error for missing study, got %v\n", results[1].Err)
	}
	var malformedErr *pyramid.MalformedInstanceError
	if !errors.As(results[2].Err, &malformedErr) {
		t.Errorf("expected malformed instance error, got %v\n", results[2].Err)
	}
	if !errors.Is(results[3].Err, ErrNoSeries) {
		t.Errorf("expected ErrNoSeries, got %v\n", results[3].Err)
	}
}

func TestCollectSharedFetchCancel(t *testing.T) {
	fake := newTestService(t)
	release := fake.HoldInstances()
	defer release()
	collector := &Collector{Client: testClient(t, fake, QIDOMode)}
	sp := SeriesPath{Base: collector.Client.Base(), Store: TestStore, Study: testStudy, Series: "1.2.3.4"}

	// the first caller starts the shared fetch, then gives up
	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := collector.CollectSeries(ctxA, sp)
		errA <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&fake.InstanceRequests) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("shared fetch never reached the service\n")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// the second caller joins the in-flight fetch
	type result struct {
		instances []pyramid.Instance
		err       error
	}
	resB := make(chan result, 1)
	go func() {
		instances, err := collector.CollectSeries(context.Background(), sp)
		resB <- result{instances, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller should get context.Canceled, got %v\n", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled caller did not return\n")
	}

	release()
	select {
	case r := <-resB:
		if r.err != nil {
			t.Fatalf("live caller failed after other caller cancelled: %v\n", r.err)
		}
		if !reflect.DeepEqual(r.instances, testInstances()) {
			t.Errorf("bad instances for live caller: %v\n", r.instances)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("live caller did not return\n")
	}
	if n := atomic.LoadInt32(&fake.InstanceRequests); n != 1 {
		t.Errorf("expected callers to share 1 instance request, got %d\n", n)
	}
}

func TestCollectFetchTimeout(t *testing.T) {
	fake := newTestService(t)
	release := fake.HoldInstances()
	defer release()
	collector := &Collector{Client: testClient(t, fake, QIDOMode), FetchTimeout: 50 * time.Millisecond}
	sp := SeriesPath{Base: collector.Client.Base(), Store: TestStore, Study: testStudy, Series: "1.2.3.4"}
	_, err := collector.CollectSeries(context.Background(), sp)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded for held fetch, got %v\n", err)
	}
}
