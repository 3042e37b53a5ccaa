package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicfront/internal/model"
)

type fakeFetcher struct {
	mu        sync.Mutex
	listCalls int32
	catCalls  int32
	page      model.MedicinePage
	cats      []string
	err       error
	block     chan struct{} // when set, ListMedicines waits on it
}

func (f *fakeFetcher) ListMedicines(ctx context.Context, q model.MedicineQuery) (model.MedicinePage, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.MedicinePage{}, f.err
	}
	return f.page, nil
}

func (f *fakeFetcher) Categories(ctx context.Context) ([]string, error) {
	atomic.AddInt32(&f.catCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.cats, nil
}

func (f *fakeFetcher) calls() int { return int(atomic.LoadInt32(&f.listCalls)) }

func (f *fakeFetcher) setPage(p model.MedicinePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = p
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeClock steps time manually so TTL edges are exact.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(f *fakeFetcher, clk *fakeClock) *Store {
	return NewStore(Opts{Fetcher: f, Now: clk.now})
}

func page(names ...string) model.MedicinePage {
	meds := make([]model.Medicine, len(names))
	for i, n := range names {
		meds[i] = model.Medicine{ID: n, Name: n, Price: 1}
	}
	return model.MedicinePage{
		Medicines:  meds,
		Pagination: model.Pagination{Current: 1, Pages: 1, Total: len(meds)},
	}
}

func fptr(v float64) *float64 { return &v }

func TestCacheKeyEquivalence(t *testing.T) {
	base := model.MedicineQuery{Page: 2, Category: "antibiotics", Search: "amox"}

	equivalents := []model.MedicineQuery{
		{Page: 2, Category: "antibiotics", Search: "amox", SortBy: ""},
		{Page: 2, Category: "antibiotics", Search: "amox", MinPrice: nil},
		{Page: 2, Category: "antibiotics", Search: "amox", MaxPrice: fptr(nan())},
	}
	for _, q := range equivalents {
		assert.Equal(t, cacheKey(base), cacheKey(q))
	}

	t.Run("category all is unset", func(t *testing.T) {
		assert.Equal(t,
			cacheKey(model.MedicineQuery{Page: 1}),
			cacheKey(model.MedicineQuery{Page: 1, Category: "all"}))
	})

	t.Run("page zero normalises to one", func(t *testing.T) {
		assert.Equal(t,
			cacheKey(model.MedicineQuery{Page: 1}),
			cacheKey(model.MedicineQuery{}))
	})

	t.Run("set values distinguish keys", func(t *testing.T) {
		assert.NotEqual(t,
			cacheKey(model.MedicineQuery{Page: 1}),
			cacheKey(model.MedicineQuery{Page: 2}))
		assert.NotEqual(t,
			cacheKey(model.MedicineQuery{Page: 1}),
			cacheKey(model.MedicineQuery{Page: 1, MinPrice: fptr(5)}))
	})
}

func TestTTLFreshness(t *testing.T) {
	f := &fakeFetcher{page: page("a")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	s.Fetch(context.Background(), q, false)
	require.Equal(t, 1, f.calls())

	// just under the threshold: served from cache, no network
	clk.advance(DefaultListTTL - time.Millisecond)
	snap := s.Fetch(context.Background(), q, false)
	assert.Equal(t, 1, f.calls())
	assert.Len(t, snap.Medicines, 1)
	assert.False(t, snap.Loading)

	// just over: exactly one background refresh
	clk.advance(2 * time.Millisecond)
	s.Fetch(context.Background(), q, false)
	assert.Eventually(t, func() bool { return f.calls() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestForceRefreshBypassesTTL(t *testing.T) {
	f := &fakeFetcher{page: page("a")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	s.Fetch(context.Background(), q, false)
	s.Fetch(context.Background(), q, true)
	assert.Equal(t, 2, f.calls())
}

func TestConcurrentFetchesDeduplicated(t *testing.T) {
	f := &fakeFetcher{page: page("a", "b"), block: make(chan struct{})}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	const n = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Fetch(context.Background(), q, false)
		}(i)
	}

	// let every caller reach the in-flight request before it settles
	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Equal(t, 1, f.calls())
	for _, snap := range results {
		assert.Len(t, snap.Medicines, 2)
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	f := &fakeFetcher{page: page("a")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	s.Fetch(context.Background(), q, false)
	require.Equal(t, 1, f.calls())

	// expire the entry and hold the refresh open
	clk.advance(DefaultListTTL + time.Second)
	f.block = make(chan struct{})
	f.setPage(page("a", "b"))

	// stale data comes back synchronously, no loading flag, while the
	// refresh is still in flight
	snap := s.Fetch(context.Background(), q, false)
	assert.Len(t, snap.Medicines, 1)
	assert.False(t, snap.Loading)
	assert.True(t, snap.Stale)

	close(f.block)
	assert.Eventually(t, func() bool {
		return len(s.Snapshot().Medicines) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestLoadingOnlyWhenNothingCached(t *testing.T) {
	f := &fakeFetcher{page: page("a"), block: make(chan struct{})}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	done := make(chan Snapshot, 1)
	go func() { done <- s.Fetch(context.Background(), q, false) }()

	assert.Eventually(t, func() bool { return s.Snapshot().Loading },
		time.Second, time.Millisecond)

	close(f.block)
	snap := <-done
	assert.False(t, snap.Loading)
	assert.Len(t, snap.Medicines, 1)
}

func TestFetchFailureKeepsPriorState(t *testing.T) {
	f := &fakeFetcher{page: page("a")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)
	q := model.MedicineQuery{Page: 1}

	s.Fetch(context.Background(), q, false)
	require.Len(t, s.Snapshot().Medicines, 1)

	f.setErr(errors.New("upstream down"))
	snap := s.Fetch(context.Background(), q, true)

	// prior data still published, no error state, markers cleared
	assert.Len(t, snap.Medicines, 1)
	assert.False(t, snap.Loading)

	// a later fetch is not wedged by the failure
	f.setErr(nil)
	f.setPage(page("a", "b"))
	snap = s.Fetch(context.Background(), q, true)
	assert.Len(t, snap.Medicines, 2)
}

func TestInactiveItemsFiltered(t *testing.T) {
	raw := []byte(`{
		"medicines": [
			{"_id":"m1","name":"keep-bool","isActive":true},
			{"_id":"m2","name":"keep-absent"},
			{"_id":"m3","name":"drop-bool","isActive":false},
			{"_id":"m4","name":"drop-string","isActive":"false"},
			{"_id":"m5","name":"drop-zero","isActive":"0"}
		],
		"pagination": {"current":1,"pages":1,"total":5}
	}`)
	var p model.MedicinePage
	require.NoError(t, json.Unmarshal(raw, &p))

	f := &fakeFetcher{page: p}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	snap := s.Fetch(context.Background(), model.MedicineQuery{Page: 1}, false)
	require.Len(t, snap.Medicines, 2)
	assert.Equal(t, "m1", snap.Medicines[0].ID)
	assert.Equal(t, "m2", snap.Medicines[1].ID)
}

func TestDifferentKeysDoNotShareEntries(t *testing.T) {
	f := &fakeFetcher{page: page("a")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	s.Fetch(context.Background(), model.MedicineQuery{Page: 1}, false)
	s.Fetch(context.Background(), model.MedicineQuery{Page: 2}, false)
	assert.Equal(t, 2, f.calls())
}

func TestCategoriesTTLAndDedup(t *testing.T) {
	f := &fakeFetcher{cats: []string{"antibiotics", "vitamins"}}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	got := s.Categories(context.Background(), false)
	assert.Equal(t, []string{"antibiotics", "vitamins"}, got)
	require.EqualValues(t, 1, atomic.LoadInt32(&f.catCalls))

	// inside the longer TTL: cache only
	clk.advance(DefaultCategoriesTTL - time.Second)
	s.Categories(context.Background(), false)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.catCalls))

	// past it: one background refresh
	clk.advance(2 * time.Second)
	got = s.Categories(context.Background(), false)
	assert.Equal(t, []string{"antibiotics", "vitamins"}, got)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&f.catCalls) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCategoriesFailureReturnsLastKnown(t *testing.T) {
	f := &fakeFetcher{cats: []string{"vitamins"}}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	require.Equal(t, []string{"vitamins"}, s.Categories(context.Background(), false))

	f.setErr(errors.New("upstream down"))
	got := s.Categories(context.Background(), true)
	assert.Equal(t, []string{"vitamins"}, got)
}

func TestPreloadRunsOnce(t *testing.T) {
	f := &fakeFetcher{page: page("a"), cats: []string{"vitamins"}}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	s.Preload(context.Background())
	s.Preload(context.Background())
	assert.Equal(t, 1, f.calls())
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.catCalls))
}

func TestPreloadSwallowsFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("unreachable")}
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newStore(f, clk)

	s.Preload(context.Background())
	snap := s.Snapshot()
	assert.Empty(t, snap.Medicines)
	assert.False(t, snap.Loading)
}

func nan() float64 { return math.NaN() }
