// Package catalog caches the medicine catalog in front of the clinic
// API with a stale-while-revalidate policy: repeat requests for the
// same page are answered from memory immediately, a background refresh
// runs once the entry ages past its TTL, and concurrent refreshes for
// the same logical operation collapse into one upstream call.
package catalog

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"clinicfront/internal/model"
)

const (
	DefaultListTTL       = 5 * time.Minute
	DefaultCategoriesTTL = 25 * time.Minute

	opMedicines  = "medicines"
	opCategories = "categories"
)

// Fetcher is the slice of the upstream client the catalog needs.
type Fetcher interface {
	ListMedicines(ctx context.Context, q model.MedicineQuery) (model.MedicinePage, error)
	Categories(ctx context.Context) ([]string, error)
}

// Snapshot is the published catalog view.
type Snapshot struct {
	Medicines  []model.Medicine `json:"medicines"`
	Pagination model.Pagination `json:"pagination"`
	Loading    bool             `json:"loading"`
	Stale      bool             `json:"stale"`
}

type listEntry struct {
	page      model.MedicinePage
	key       string
	fetchedAt time.Time
}

type categoriesEntry struct {
	names     []string
	fetchedAt time.Time
}

// Store owns the cache slots and the published view. Constructed per
// process by the composition root; tests build their own instances.
type Store struct {
	mu      sync.RWMutex
	list    *listEntry
	cats    *categoriesEntry
	current model.MedicinePage
	loading bool

	fetcher Fetcher
	listTTL time.Duration
	catTTL  time.Duration
	now     func() time.Time
	log     *slog.Logger

	sf          singleflight.Group
	preloadOnce sync.Once
}

type Opts struct {
	Fetcher       Fetcher
	ListTTL       time.Duration
	CategoriesTTL time.Duration
	Now           func() time.Time
	Log           *slog.Logger
}

func NewStore(opts Opts) *Store {
	if opts.ListTTL <= 0 {
		opts.ListTTL = DefaultListTTL
	}
	if opts.CategoriesTTL <= 0 {
		opts.CategoriesTTL = DefaultCategoriesTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Store{
		fetcher: opts.Fetcher,
		listTTL: opts.ListTTL,
		catTTL:  opts.CategoriesTTL,
		now:     opts.Now,
		log:     opts.Log,
	}
}

// cacheKey canonicalises a query: page plus set filters, sorted, with
// unset values (empty strings, nil or NaN prices, category "all")
// excluded so equivalent queries land on the same entry.
func cacheKey(q model.MedicineQuery) string {
	page := q.Page
	if page < 1 {
		page = 1
	}
	parts := []string{"page=" + strconv.Itoa(page)}
	if q.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(q.Limit))
	}
	if c := strings.TrimSpace(q.Category); c != "" && c != "all" {
		parts = append(parts, "category="+c)
	}
	if q.MinPrice != nil && !math.IsNaN(*q.MinPrice) {
		parts = append(parts, "minPrice="+strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil && !math.IsNaN(*q.MaxPrice) {
		parts = append(parts, "maxPrice="+strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	if q.SortBy != "" {
		parts = append(parts, "sortBy="+q.SortBy)
	}
	if q.SortOrder != "" {
		parts = append(parts, "sortOrder="+q.SortOrder)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		parts = append(parts, "search="+s)
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Fetch serves the page for q. A matching cache entry is published
// synchronously; the network is only touched when the entry is absent,
// expired or force is set. Fetch errors never propagate: the previous
// state stays published and the failure is logged.
//
// Fetch blocks until the upstream call settles when there is nothing
// cached (or when forced); an expired entry revalidates in the
// background while the stale page is returned at once.
func (s *Store) Fetch(ctx context.Context, q model.MedicineQuery, force bool) Snapshot {
	key := cacheKey(q)

	s.mu.Lock()
	cached := s.list != nil && s.list.key == key
	if cached {
		s.current = s.list.page
		if !force && s.now().Sub(s.list.fetchedAt) < s.listTTL {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap
		}
	} else {
		// nothing to show for this key yet
		s.loading = true
	}
	s.mu.Unlock()

	if cached && !force {
		go s.refresh(context.WithoutCancel(ctx), q, key, false)
		return s.Snapshot()
	}

	s.refresh(ctx, q, key, force)
	return s.Snapshot()
}

// refresh performs the upstream call and installs the result. The
// cache write and publish happen inside the deduplicated function so
// attached callers never install data under the wrong key. The loading
// marker is always cleared once the call settles.
func (s *Store) refresh(ctx context.Context, q model.MedicineQuery, key string, force bool) {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	do := func() (any, error) {
		page, err := s.fetcher.ListMedicines(ctx, q)
		if err != nil {
			return nil, err
		}
		page.Medicines = filterActive(page.Medicines)

		s.mu.Lock()
		s.list = &listEntry{page: page, key: key, fetchedAt: s.now()}
		s.current = page
		s.mu.Unlock()
		return nil, nil
	}

	var err error
	if force {
		// forced callers issue their own request instead of
		// attaching to an in-flight one
		_, err = do()
	} else {
		_, err, _ = s.sf.Do(opMedicines, do)
	}
	if err != nil {
		s.log.Warn("medicines fetch failed", "err", err, "key", key)
	}
}

// Snapshot returns the currently published view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	meds := make([]model.Medicine, len(s.current.Medicines))
	copy(meds, s.current.Medicines)
	stale := s.list != nil && s.now().Sub(s.list.fetchedAt) >= s.listTTL
	return Snapshot{
		Medicines:  meds,
		Pagination: s.current.Pagination,
		Loading:    s.loading,
		Stale:      stale,
	}
}

// Categories serves the category list under the same discipline as
// Fetch, with its own cache slot and a much longer TTL. On failure the
// last known list is returned.
func (s *Store) Categories(ctx context.Context, force bool) []string {
	s.mu.RLock()
	cached := s.cats != nil
	fresh := cached && s.now().Sub(s.cats.fetchedAt) < s.catTTL
	var known []string
	if cached {
		known = append(known, s.cats.names...)
	}
	s.mu.RUnlock()

	if cached && fresh && !force {
		return known
	}
	if cached && !force {
		go s.refreshCategories(context.WithoutCancel(ctx), false)
		return known
	}

	s.refreshCategories(ctx, force)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cats == nil {
		return nil
	}
	return append([]string(nil), s.cats.names...)
}

func (s *Store) refreshCategories(ctx context.Context, force bool) {
	do := func() (any, error) {
		names, err := s.fetcher.Categories(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cats = &categoriesEntry{names: names, fetchedAt: s.now()}
		s.mu.Unlock()
		return nil, nil
	}

	var err error
	if force {
		_, err = do()
	} else {
		_, err, _ = s.sf.Do(opCategories, do)
	}
	if err != nil {
		s.log.Warn("categories fetch failed", "err", err)
	}
}

// Preload seeds the cache with page 1, no filters. Runs once per
// store; repeat calls are no-ops. Failures are swallowed entirely.
func (s *Store) Preload(ctx context.Context) {
	s.preloadOnce.Do(func() {
		s.Fetch(ctx, model.MedicineQuery{Page: 1}, false)
		s.Categories(ctx, false)
	})
}

func filterActive(in []model.Medicine) []model.Medicine {
	out := in[:0:0]
	for _, m := range in {
		if m.IsActive.Active() {
			out = append(out, m)
		}
	}
	return out
}
