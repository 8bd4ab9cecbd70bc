package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/reconcile"
	"github.com/damian-sirenko/signq/pkg/records"
	"github.com/damian-sirenko/signq/pkg/store"
)

type fakeLoader struct {
	tasks []model.Task
	loads []reconcile.Request
}

func (f *fakeLoader) Load(_ context.Context, req reconcile.Request) reconcile.Result {
	f.loads = append(f.loads, req)
	return reconcile.Result{Tasks: append([]model.Task(nil), f.tasks...), Tier: "fake"}
}

type pendingCall struct {
	typ     model.Type
	pending bool
}

type fakeRecords struct {
	err     error
	patches []records.Patch
	signs   int
	unsigns int
	pending []pendingCall
	entry   string
}

func (f *fakeRecords) Patch(_ context.Context, _ model.Key, p records.Patch) error {
	if f.err != nil {
		return f.err
	}
	f.patches = append(f.patches, p)
	return nil
}

func (f *fakeRecords) Sign(context.Context, model.Key, model.Leg, model.Role, string) error {
	if f.err != nil {
		return f.err
	}
	f.signs++
	return nil
}

func (f *fakeRecords) SignDefaultStaff(context.Context, model.Key, model.Leg) error {
	if f.err != nil {
		return f.err
	}
	f.signs++
	return nil
}

func (f *fakeRecords) Unsign(context.Context, model.Key, model.Leg, model.Role) error {
	if f.err != nil {
		return f.err
	}
	f.unsigns++
	return nil
}

func (f *fakeRecords) SetPending(_ context.Context, _ model.Key, typ model.Type, pending bool) error {
	if f.err != nil {
		return f.err
	}
	f.pending = append(f.pending, pendingCall{typ, pending})
	return nil
}

func (f *fakeRecords) Entry(context.Context, model.Key) ([]byte, error) {
	if f.entry == "" {
		return nil, records.ErrEntryNotFound
	}
	return []byte(f.entry), nil
}

var courierKey = model.Key{Type: model.Courier, SubjectID: "166", Period: "2025-10", Index: 2}

func newService(t *testing.T, rec *fakeRecords, opts ...Option) (*Service, *fakeLoader) {
	t.Helper()
	ld := &fakeLoader{tasks: []model.Task{{
		Type: model.Courier, SubjectID: "166", Period: "2025-10", Index: 2,
		TransferDate: model.MustDate("2025-10-05"),
		Pending:      model.Pending{CourierPending: true},
	}}}
	clock := func() time.Time { return time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC) }
	opts = append([]Option{WithClock(clock), WithLogger(logger.Nop())}, opts...)
	return NewService(ld, rec, opts...), ld
}

func TestServiceDays(t *testing.T) {
	svc, _ := newService(t, &fakeRecords{})

	buckets := svc.Days(context.Background(), reconcile.Request{Type: model.Courier, Period: "2025-10"}, model.Date{})
	require.Len(t, buckets, 1)
	assert.Equal(t, "2025-10-10", buckets[0].Day.String())
	assert.Equal(t, "fake", svc.Current().Tier)
}

func TestServiceMoveToDay(t *testing.T) {
	ctx := context.Background()
	req := reconcile.Request{Type: model.Courier, Period: "2025-10"}

	t.Run("Should patch the leg date and planned date, then reload", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		st := store.New("/q.json", store.WithFs(fsys), store.WithLogger(logger.Nop()))
		_, err := st.Upsert(ctx, store.Entry{Key: courierKey, PlannedDate: model.MustDate("2025-10-05")})
		require.NoError(t, err)

		rec := &fakeRecords{}
		svc, ld := newService(t, rec, WithStore(st))
		svc.Load(ctx, req)

		_, err = svc.MoveToDay(ctx, courierKey, "", "2025-10-14")
		require.NoError(t, err)
		require.Len(t, rec.patches, 1)
		p := rec.patches[0]
		require.NotNil(t, p.Date)
		assert.Equal(t, "2025-10-14", p.Date.String())
		assert.Nil(t, p.ReturnDate)
		require.NotNil(t, p.CourierPlannedDate)
		assert.Equal(t, "2025-10-14", p.CourierPlannedDate.String())
		assert.Len(t, ld.loads, 2)

		recs, err := st.List(ctx, store.Filter{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "2025-10-14", recs[0].PlannedDate.String())
	})

	t.Run("Should patch the return date for the return leg", func(t *testing.T) {
		rec := &fakeRecords{}
		svc, _ := newService(t, rec)
		k := courierKey
		k.Type = model.Point

		_, err := svc.MoveToDay(ctx, k, model.Return, "2025-10-20")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskNotFound)

		_, err = svc.MoveToDay(ctx, courierKey, model.Return, "2025-10-20")
		require.NoError(t, err)
		require.Len(t, rec.patches, 1)
		assert.Nil(t, rec.patches[0].Date)
		assert.Equal(t, "2025-10-20", rec.patches[0].ReturnDate.String())
	})

	t.Run("Should reject malformed dates without calling the collaborator", func(t *testing.T) {
		rec := &fakeRecords{}
		svc, ld := newService(t, rec)

		_, err := svc.MoveToDay(ctx, courierKey, "", "2025-02-30")
		assert.ErrorIs(t, err, ErrInvalidDate)
		assert.Empty(t, rec.patches)
		assert.Empty(t, ld.loads)
	})

	t.Run("Should keep the current view when the patch fails", func(t *testing.T) {
		rec := &fakeRecords{err: errors.New("bad gateway")}
		svc, ld := newService(t, rec)
		before := svc.Load(ctx, req)

		view, err := svc.MoveToDay(ctx, courierKey, "", "2025-10-14")
		require.Error(t, err)
		assert.Equal(t, before, view)
		assert.Len(t, ld.loads, 1)
		assert.Equal(t, "2025-10-05", svc.Current().Tasks[0].TransferDate.String())
	})
}

func TestServiceDequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("Should clear the pending flag of the task type and reload", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		st := store.New("/q.json", store.WithFs(fsys), store.WithLogger(logger.Nop()))
		_, err := st.Upsert(ctx, store.Entry{Key: courierKey})
		require.NoError(t, err)

		rec := &fakeRecords{}
		svc, ld := newService(t, rec, WithStore(st))
		_, err = svc.Dequeue(ctx, courierKey)
		require.NoError(t, err)
		assert.Equal(t, []pendingCall{{model.Courier, false}}, rec.pending)
		assert.Len(t, ld.loads, 1)

		recs, err := st.List(ctx, store.Filter{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Should not reload on failure", func(t *testing.T) {
		rec := &fakeRecords{err: errors.New("unreachable")}
		svc, ld := newService(t, rec)
		_, err := svc.Dequeue(ctx, courierKey)
		assert.Error(t, err)
		assert.Empty(t, ld.loads)
	})
}

func TestServiceSign(t *testing.T) {
	ctx := context.Background()

	t.Run("Should leave both queues once fully signed", func(t *testing.T) {
		rec := &fakeRecords{entry: `{"subjectId":"166","period":"2025-10","index":2,"signatures":{
			"transfer":{"client":"c1","staff":"s1"},"return":{"client":"c2","staff":"s2"}}}`}
		svc, ld := newService(t, rec)

		_, err := svc.Sign(ctx, courierKey, model.Return, model.Staff, "s2")
		require.NoError(t, err)
		assert.Equal(t, 1, rec.signs)
		assert.Equal(t, []pendingCall{{model.Courier, false}, {model.Point, false}}, rec.pending)
		assert.Len(t, ld.loads, 1)
	})

	t.Run("Should only reload while a leg is open", func(t *testing.T) {
		rec := &fakeRecords{entry: `{"subjectId":"166","period":"2025-10","index":2,"signatures":{"transfer":{"client":"c1"}}}`}
		svc, ld := newService(t, rec)

		_, err := svc.SignDefaultStaff(ctx, courierKey, model.Return)
		require.NoError(t, err)
		assert.Empty(t, rec.pending)
		assert.Len(t, ld.loads, 1)
	})

	t.Run("Should surface sign failures", func(t *testing.T) {
		rec := &fakeRecords{err: errors.New("forbidden")}
		svc, ld := newService(t, rec)

		_, err := svc.Sign(ctx, courierKey, model.Transfer, model.Client, "c1")
		assert.Error(t, err)
		_, err = svc.Unsign(ctx, courierKey, model.Transfer, model.Client)
		assert.Error(t, err)
		assert.Empty(t, ld.loads)
	})
}

func TestServiceEnqueue(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	st := store.New("/q.json", store.WithFs(fsys), store.WithLogger(logger.Nop()))
	rec := &fakeRecords{}
	svc, _ := newService(t, rec, WithStore(st))

	_, err := svc.Enqueue(ctx, courierKey, model.MustDate("2025-10-16"))
	require.NoError(t, err)
	assert.Equal(t, []pendingCall{{model.Courier, true}}, rec.pending)
	require.Len(t, rec.patches, 1)
	assert.Equal(t, "2025-10-16", rec.patches[0].CourierPlannedDate.String())

	recs, err := st.List(ctx, store.Filter{Type: model.Courier})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, courierKey, recs[0].Key())

	_, err = svc.Enqueue(ctx, model.Key{Type: model.Courier, SubjectID: "1", Period: "2025-13"}, model.Date{})
	assert.Error(t, err)
}

// sharedLoader hands every caller the same backing slice, the way
// concurrent loads collapsed into one cycle do.
type sharedLoader struct {
	tasks []model.Task
}

func (l *sharedLoader) Load(context.Context, reconcile.Request) reconcile.Result {
	return reconcile.Result{Tasks: l.tasks, Tier: "shared"}
}

type namerFunc func(ctx context.Context, tasks []model.Task)

func (f namerFunc) Resolve(ctx context.Context, tasks []model.Task) { f(ctx, tasks) }

func TestServiceLoadDoesNotMutateSharedTasks(t *testing.T) {
	ld := &sharedLoader{tasks: []model.Task{{Type: model.Courier, SubjectID: "166", Period: "2025-10"}}}
	names := namerFunc(func(_ context.Context, tasks []model.Task) {
		for i := range tasks {
			tasks[i].SubjectName = "Ala"
		}
	})
	svc := NewService(ld, &fakeRecords{}, WithNamer(names), WithLogger(logger.Nop()))

	v := svc.Load(context.Background(), reconcile.Request{Type: model.Courier, Period: "2025-10"})
	require.Len(t, v.Tasks, 1)
	assert.Equal(t, "Ala", v.Tasks[0].SubjectName)
	assert.Empty(t, ld.tasks[0].SubjectName)
}
