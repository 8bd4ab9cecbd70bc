package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/damian-sirenko/signq/pkg/index"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/schedule"
	"github.com/damian-sirenko/signq/pkg/util"
)

// fakeCalendar is an in-memory stand-in for the events endpoints.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	next    int
	inserts int
	patches int
	deletes int
}

func (f *fakeCalendar) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/calendars/{cal}/events", func(r chi.Router) {
		r.Get("/", f.list)
		r.Post("/", f.insert)
		r.Get("/{id}", f.get)
		r.Patch("/{id}", f.patch)
		r.Delete("/{id}", f.remove)
	})
	return r
}

func writeEvent(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
}

func (f *fakeCalendar) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prop := strings.SplitN(r.URL.Query().Get("privateExtendedProperty"), "=", 2)
	var items []*calendar.Event
	for _, ev := range f.events {
		if len(prop) == 2 && ev.ExtendedProperties != nil && ev.ExtendedProperties.Private[prop[0]] == prop[1] {
			items = append(items, ev)
		}
	}
	writeEvent(w, &calendar.Events{Items: items})
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	var ev calendar.Event
	_ = json.NewDecoder(r.Body).Decode(&ev)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.inserts++
	ev.Id = fmt.Sprintf("evt-%d", f.next)
	f.events[ev.Id] = &ev
	writeEvent(w, &ev)
}

func (f *fakeCalendar) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[chi.URLParam(r, "id")]
	if !ok {
		notFound(w)
		return
	}
	writeEvent(w, ev)
}

func (f *fakeCalendar) patch(w http.ResponseWriter, r *http.Request) {
	var p calendar.Event
	_ = json.NewDecoder(r.Body).Decode(&p)
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[chi.URLParam(r, "id")]
	if !ok {
		notFound(w)
		return
	}
	f.patches++
	if p.Summary != "" {
		ev.Summary = p.Summary
	}
	if p.Description != "" {
		ev.Description = p.Description
	}
	if p.ColorId != "" {
		ev.ColorId = p.ColorId
	}
	if p.Start != nil {
		ev.Start, ev.End = p.Start, p.End
	}
	writeEvent(w, ev)
}

func (f *fakeCalendar) remove(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := f.events[id]; !ok {
		notFound(w)
		return
	}
	f.deletes++
	delete(f.events, id)
	w.WriteHeader(http.StatusNoContent)
}

func newFakeClient(t *testing.T, fake *fakeCalendar, idxPath string) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(fake.router())
	t.Cleanup(srv.Close)
	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	idx, err := index.New(idxPath)
	require.NoError(t, err)
	return NewCalendarClient(svc, "cal", idx, nil, logger.Nop())
}

func courierTask(subject string, index int, day string) model.Task {
	return model.Task{
		Type: model.Courier, SubjectID: subject, Period: "2025-10", Index: index,
		TransferDate: model.MustDate(day),
	}
}

func TestSyncDays(t *testing.T) {
	fake := &fakeCalendar{events: map[string]*calendar.Event{}}
	idxPath := filepath.Join(t.TempDir(), "event_index.json")
	client := newFakeClient(t, fake, idxPath)
	ctx := context.Background()
	today := model.MustDate("2025-10-10")

	a, b := courierTask("166", 2, "2025-10-10"), courierTask("9", 0, "2025-10-11")
	stats, err := client.SyncDays(ctx, []schedule.Bucket{
		{Day: model.MustDate("2025-10-10"), Tasks: []model.Task{a}},
		{Day: model.MustDate("2025-10-11"), Tasks: []model.Task{b}},
	}, today)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Synced: 2}, stats)
	assert.Equal(t, 2, fake.inserts)

	t.Run("Should patch moved tasks and prune dropped ones", func(t *testing.T) {
		stats, err := client.SyncDays(ctx, []schedule.Bucket{
			{Day: model.MustDate("2025-10-14"), Tasks: []model.Task{a}},
		}, today)
		require.NoError(t, err)
		assert.Equal(t, SyncStats{Synced: 1, Pruned: 1}, stats)
		assert.Equal(t, 2, fake.inserts)
		assert.Equal(t, 1, fake.patches)
		assert.Equal(t, 1, fake.deletes)

		require.Len(t, fake.events, 1)
		for _, ev := range fake.events {
			assert.Equal(t, "2025-10-14", ev.Start.Date)
			key, ok := util.KeyFromEvent(ev)
			assert.True(t, ok)
			assert.Equal(t, a.Key().String(), key)
		}
	})

	t.Run("Should find events by key when the index is lost", func(t *testing.T) {
		fresh := newFakeClient(t, fake, filepath.Join(t.TempDir(), "other.json"))

		ev, err := fresh.SyncTask(ctx, a, model.MustDate("2025-10-14"), today)
		require.NoError(t, err)
		assert.Equal(t, 2, fake.inserts)
		assert.Equal(t, ev.Id, fresh.index.Get(a.Key().String()))
	})

	t.Run("Should not fail when deleting a missing event", func(t *testing.T) {
		assert.NoError(t, client.DeleteEvent(ctx, "evt-404"))
	})
}
