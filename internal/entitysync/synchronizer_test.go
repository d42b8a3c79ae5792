package entitysync

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/scan-intel/backend/internal/esi"
	"github.com/scan-intel/backend/internal/progress"
	"github.com/scan-intel/backend/internal/storage/models"
)

type fakeStore struct {
	mu            sync.Mutex
	pilots        map[int64]models.Pilot
	orgs          map[int64]models.Organization
	alliances     map[int64]models.Alliance
	pilotUpserts  [][]models.Pilot
	orgUpserts    [][]models.Organization
	failOrgUpsert int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pilots:    map[int64]models.Pilot{},
		orgs:      map[int64]models.Organization{},
		alliances: map[int64]models.Alliance{},
	}
}

func (f *fakeStore) GetAllPilots(ctx context.Context) ([]models.Pilot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Pilot, 0, len(f.pilots))
	for _, p := range f.pilots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAllOrganizations(ctx context.Context) ([]models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Organization, 0, len(f.orgs))
	for _, o := range f.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAllAlliances(ctx context.Context) ([]models.Alliance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Alliance, 0, len(f.alliances))
	for _, a := range f.alliances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetOrganizationsByIDs(ctx context.Context, ids []int64) ([]models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Organization
	for _, id := range ids {
		if o, ok := f.orgs[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAlliancesByIDs(ctx context.Context, ids []int64) ([]models.Alliance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Alliance
	for _, id := range ids {
		if a, ok := f.alliances[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPilots(ctx context.Context, pilots []models.Pilot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pilotUpserts = append(f.pilotUpserts, pilots)
	for _, p := range pilots {
		f.pilots[p.ID] = p
	}
	return nil
}

func (f *fakeStore) UpsertOrganizations(ctx context.Context, orgs []models.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOrgUpsert > 0 && len(f.orgUpserts)+1 == f.failOrgUpsert {
		f.orgUpserts = append(f.orgUpserts, nil)
		return errors.New("disk full")
	}
	f.orgUpserts = append(f.orgUpserts, orgs)
	for _, o := range orgs {
		f.orgs[o.ID] = o
	}
	return nil
}

func (f *fakeStore) UpsertAlliances(ctx context.Context, alliances []models.Alliance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range alliances {
		f.alliances[a.ID] = a
	}
	return nil
}

type fakeUpstream struct {
	mu           sync.Mutex
	characters   map[int64]*esi.Character
	corporations map[int64]*esi.Corporation
	alliances    map[int64]*esi.Alliance
	calls        map[int64]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		characters:   map[int64]*esi.Character{},
		corporations: map[int64]*esi.Corporation{},
		alliances:    map[int64]*esi.Alliance{},
		calls:        map[int64]int{},
	}
}

var errUpstream = errors.New("upstream unavailable")

func (f *fakeUpstream) record(id int64) {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
}

func (f *fakeUpstream) Character(ctx context.Context, id int64) (*esi.Character, error) {
	f.record(id)
	if ch, ok := f.characters[id]; ok {
		return ch, nil
	}
	return nil, errUpstream
}

func (f *fakeUpstream) Corporation(ctx context.Context, id int64) (*esi.Corporation, error) {
	f.record(id)
	if c, ok := f.corporations[id]; ok {
		return c, nil
	}
	return nil, errUpstream
}

func (f *fakeUpstream) Alliance(ctx context.Context, id int64) (*esi.Alliance, error) {
	f.record(id)
	if a, ok := f.alliances[id]; ok {
		return a, nil
	}
	return nil, errUpstream
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingPublisher) Publish(ev progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSynchronizer(store Store, upstream Upstream, pub Publisher, cfg Config) *Synchronizer {
	s := NewSynchronizer(store, upstream, pub, cfg, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func TestDue(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name     string
		lastSeen time.Time
		updated  time.Time
		want     bool
	}{
		{"recently seen and stale", testNow.Add(-time.Hour), testNow.Add(-24 * time.Hour), true},
		{"recently seen and fresh", testNow.Add(-time.Hour), testNow.Add(-23 * time.Hour), false},
		{"just past threshold", testNow, testNow.Add(-cfg.StaleAfter - time.Second), true},
		{"outside activity window", testNow.Add(-366 * 24 * time.Hour), testNow.Add(-48 * time.Hour), false},
		{"never seen", time.Time{}, time.Time{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := models.Alliance{ID: 1, LastSeen: tc.lastSeen, UpdatedAt: tc.updated}
			if got := Due(a, testNow, cfg); got != tc.want {
				t.Errorf("Due = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSyncDue_OrganizationsCreateMissingAlliances(t *testing.T) {
	store := newFakeStore()
	store.orgs[98000001] = models.Organization{ID: 98000001, Name: "Old Name", LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour)}

	upstream := newFakeUpstream()
	upstream.corporations[98000001] = &esi.Corporation{Name: "New Name", Ticker: "NEW", AllianceID: 99000001}
	upstream.alliances[99000001] = &esi.Alliance{Name: "Some Alliance", Ticker: "ALLI"}

	s := newTestSynchronizer(store, upstream, nil, DefaultConfig())
	res, err := s.SyncDue(context.Background(), models.KindOrganization)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Due != 1 || res.Written != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, ok := store.alliances[99000001]; !ok {
		t.Fatal("referenced alliance was not created")
	}
	if got := store.orgs[98000001]; got.Name != "New Name" || got.AllianceID.Int64 != 99000001 {
		t.Fatalf("organization not refreshed: %+v", got)
	}
}

func TestSyncDue_OrganizationWithUnresolvableAllianceIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.orgs[98000001] = models.Organization{ID: 98000001, Name: "Corp", LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour)}

	upstream := newFakeUpstream()
	upstream.corporations[98000001] = &esi.Corporation{Name: "Corp", AllianceID: 99000404}

	s := newTestSynchronizer(store, upstream, nil, DefaultConfig())
	res, err := s.SyncDue(context.Background(), models.KindOrganization)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Written != 0 || res.Dropped != 1 {
		t.Fatalf("expected organization to be skipped, got %+v", res)
	}
	if store.orgs[98000001].AllianceID.Valid {
		t.Fatal("organization must not point at an unknown alliance")
	}
}

func TestSyncDue_FailedLookupsAreDropped(t *testing.T) {
	store := newFakeStore()
	for _, id := range []int64{1, 2, 3} {
		store.alliances[id] = models.Alliance{ID: id, LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour)}
	}

	upstream := newFakeUpstream()
	upstream.alliances[1] = &esi.Alliance{Name: "One", Ticker: "ONE"}
	upstream.alliances[3] = &esi.Alliance{Name: "Three", Ticker: "THR"}

	pub := &recordingPublisher{}
	s := newTestSynchronizer(store, upstream, pub, DefaultConfig())
	res, err := s.SyncDue(context.Background(), models.KindAlliance)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Written != 2 || res.Dropped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.alliances[1].Name != "One" || store.alliances[3].Name != "Three" {
		t.Fatalf("successful lookups not written: %+v", store.alliances)
	}

	last := pub.events[len(pub.events)-1]
	if last.Stage != progress.StageFinished || last.Written != 2 {
		t.Errorf("unexpected final event %+v", last)
	}
}

func TestSyncDue_BatchFailureAbortsRemainingBatches(t *testing.T) {
	store := newFakeStore()
	store.failOrgUpsert = 2
	upstream := newFakeUpstream()
	for _, id := range []int64{98000001, 98000002, 98000003} {
		store.orgs[id] = models.Organization{ID: id, LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour)}
		upstream.corporations[id] = &esi.Corporation{Name: "Corp", Ticker: "C"}
	}

	cfg := DefaultConfig()
	cfg.OrganizationBatch = 1
	s := newTestSynchronizer(store, upstream, nil, cfg)

	res, err := s.SyncDue(context.Background(), models.KindOrganization)
	if err == nil {
		t.Fatal("expected the failing batch to abort the run")
	}
	if res.Written != 1 {
		t.Errorf("expected the first batch to stay committed, got %+v", res)
	}
	if upstream.calls[98000003] != 0 {
		t.Errorf("third batch should not have been fetched")
	}
}

func TestSyncDue_PilotsEnsureParents(t *testing.T) {
	store := newFakeStore()
	store.pilots[90000001] = models.Pilot{ID: 90000001, Name: "Pilot", LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour)}
	store.pilots[90000002] = models.Pilot{
		ID: 90000002, Name: "Gone", LastSeen: testNow, UpdatedAt: testNow.Add(-48 * time.Hour),
		DeletedAt: sql.NullTime{Time: testNow.Add(-time.Hour), Valid: true},
	}

	upstream := newFakeUpstream()
	upstream.characters[90000001] = &esi.Character{Name: "Pilot", CorporationID: 98000001, AllianceID: 99000001}
	upstream.corporations[98000001] = &esi.Corporation{Name: "Corp", Ticker: "C", AllianceID: 99000001}
	upstream.alliances[99000001] = &esi.Alliance{Name: "Alliance", Ticker: "A"}

	s := newTestSynchronizer(store, upstream, nil, DefaultConfig())
	res, err := s.SyncDue(context.Background(), models.KindPilot)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Due != 1 || res.Written != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if upstream.calls[90000002] != 0 {
		t.Error("soft-deleted pilot should not be refreshed")
	}
	if _, ok := store.orgs[98000001]; !ok {
		t.Error("pilot organization was not created")
	}
	if _, ok := store.alliances[99000001]; !ok {
		t.Error("pilot alliance was not created")
	}
	if got := store.pilots[90000001]; got.OrganizationID.Int64 != 98000001 || !got.UpdatedAt.Equal(testNow) {
		t.Errorf("pilot not refreshed: %+v", got)
	}
}

func TestSyncAll_RunsParentsFirst(t *testing.T) {
	s := newTestSynchronizer(newFakeStore(), newFakeUpstream(), nil, DefaultConfig())
	results, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}

	want := []models.Kind{models.KindAlliance, models.KindOrganization, models.KindPilot}
	for i, res := range results {
		if res.Kind != want[i] {
			t.Errorf("result %d kind %s, want %s", i, res.Kind, want[i])
		}
	}
}

func TestSyncDue_UnknownKind(t *testing.T) {
	s := newTestSynchronizer(newFakeStore(), newFakeUpstream(), nil, DefaultConfig())
	if _, err := s.SyncDue(context.Background(), models.Kind("ship")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
