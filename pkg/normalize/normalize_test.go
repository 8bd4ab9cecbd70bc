package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-sirenko/signq/pkg/model"
)

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	return rej
}

func TestNormalizeRejectsKeyFields(t *testing.T) {
	t.Run("Should reject records without a subject", func(t *testing.T) {
		for _, raw := range []string{
			`{"period":"2025-10","index":1}`,
			`{"subjectId":"","period":"2025-10","index":1}`,
			`{"subjectId":"   ","period":"2025-10","index":1}`,
			`{"subjectId":null,"period":"2025-10","index":1}`,
			`{"client":{"name":"Salon"},"period":"2025-10","index":1}`,
		} {
			_, err := Normalize([]byte(raw), model.Courier)
			assert.Equal(t, "subjectId", rejection(t, err).Field, raw)
		}
	})

	t.Run("Should reject periods that do not reduce to YYYY-MM", func(t *testing.T) {
		for _, raw := range []string{
			`{"subjectId":"166","index":1}`,
			`{"subjectId":"166","period":"2025-13","index":1}`,
			`{"subjectId":"166","period":"2025-00","index":1}`,
			`{"subjectId":"166","period":"10-2025","index":1}`,
			`{"subjectId":"166","period":"2025-10-05","index":1}`,
		} {
			_, err := Normalize([]byte(raw), model.Courier)
			assert.Equal(t, "period", rejection(t, err).Field, raw)
		}
	})

	t.Run("Should reject negative, fractional and non-numeric indexes", func(t *testing.T) {
		for _, raw := range []string{
			`{"subjectId":"166","period":"2025-10"}`,
			`{"subjectId":"166","period":"2025-10","index":-1}`,
			`{"subjectId":"166","period":"2025-10","index":1.5}`,
			`{"subjectId":"166","period":"2025-10","index":"two"}`,
			`{"subjectId":"166","period":"2025-10","index":true}`,
		} {
			_, err := Normalize([]byte(raw), model.Courier)
			assert.Equal(t, "index", rejection(t, err).Field, raw)
		}
	})

	t.Run("Should reject malformed documents", func(t *testing.T) {
		for _, raw := range []string{`not json`, `[1,2]`, `"x"`} {
			_, err := Normalize([]byte(raw), model.Courier)
			assert.Equal(t, ReasonMalformed, rejection(t, err).Reason, raw)
		}
	})
}

func TestNormalizeShapes(t *testing.T) {
	t.Run("Should read a stored queue record", func(t *testing.T) {
		raw := `{"k":"166::2025-10::2","type":"courier","clientId":"166","month":"2025-10","index":2,
			"plannedDate":"2025-10-12","date":"2025-10-05","returnDate":null,"tools":[{"name":"Nożyczki","count":3}],
			"packages":2,"delivery":"dowoz","shipping":true,"comment":"ring twice","signatures":{}}`
		task, err := Normalize([]byte(raw), model.Point)
		require.NoError(t, err)
		assert.Equal(t, model.Courier, task.Type)
		assert.Equal(t, "166", task.SubjectID)
		assert.Equal(t, model.Period("2025-10"), task.Period)
		assert.Equal(t, 2, task.Index)
		assert.Equal(t, "2025-10-05", task.TransferDate.String())
		assert.True(t, task.ReturnDate.IsZero())
		assert.Equal(t, []model.Tool{{Name: "Nożyczki", Count: 3}}, task.Tools)
		assert.Equal(t, 2, task.PackageCount)
		assert.Equal(t, "dowoz", task.DeliveryMode)
		assert.True(t, task.ShippingFlag)
		assert.Equal(t, "ring twice", task.Comment)
		assert.Equal(t, "2025-10-12", task.Pending.PlannedDate.String())
		assert.Equal(t, model.Transfer, task.DefaultLeg())
	})

	t.Run("Should read a legacy item with an entry sub-object", func(t *testing.T) {
		raw := `{"id":"point:7:2025-9:0:1","type":"point","clientId":7,"clientName":"Studio","month":"2025/9","index":"0",
			"entry":{"date":"2025-09-03","packages":"4","tools":["Pęseta",""],"signatures":{"transfer":{"client":"/s/c.png","staff":"/s/s.png"}}},
			"pointPending":true,"courierPending":false}`
		task, err := Normalize([]byte(raw), model.Courier)
		require.NoError(t, err)
		assert.Equal(t, model.Point, task.Type)
		assert.Equal(t, "7", task.SubjectID)
		assert.Equal(t, "Studio", task.SubjectName)
		assert.Equal(t, model.Period("2025-09"), task.Period)
		assert.Equal(t, 0, task.Index)
		assert.Equal(t, 4, task.PackageCount)
		assert.Equal(t, []model.Tool{{Name: "Pęseta"}}, task.Tools)
		assert.True(t, task.Pending.PointPending)
		assert.Equal(t, model.Return, task.DefaultLeg())
	})

	t.Run("Should read a collaborator entry with nested queue flags and flat signature columns", func(t *testing.T) {
		raw := `{"subjectId":"166","period":"2025-11","index":1,"date":"2025-11-02",
			"transferClientSig":"/sig/a.png","transferStaffSig":"/sig/b.png","returnClientSig":"/sig/c.png",
			"queue":{"courierPending":1,"pointPending":0,"courierPlannedDate":"2025-11-04"}}`
		task, err := Normalize([]byte(raw), model.Courier)
		require.NoError(t, err)
		assert.True(t, task.Pending.CourierPending)
		assert.False(t, task.Pending.PointPending)
		assert.Equal(t, "2025-11-04", task.Pending.PlannedDate.String())
		require.NotNil(t, task.Signatures.Transfer)
		require.NotNil(t, task.Signatures.Return)
		assert.Equal(t, "/sig/c.png", task.Signatures.Return.Client)
		assert.Empty(t, task.Signatures.Return.Staff)
		assert.Equal(t, model.Return, task.DefaultLeg())
	})

	t.Run("Should default display fields without rejecting", func(t *testing.T) {
		raw := `{"subjectId":"1","period":"2025-01","index":0,"date":"garbage","tools":"nope","packages":-3,"shipping":"maybe"}`
		task, err := Normalize([]byte(raw), model.Courier)
		require.NoError(t, err)
		assert.True(t, task.TransferDate.IsZero())
		assert.Empty(t, task.Tools)
		assert.Zero(t, task.PackageCount)
		assert.False(t, task.ShippingFlag)
		assert.Equal(t, model.Pending{}, task.Pending)
		assert.Equal(t, model.Courier, task.Type)
	})
}

func TestNormalizeAll(t *testing.T) {
	var rejected []*Rejection
	n := New(WithSink(SinkFunc(func(_ []byte, rej *Rejection) {
		rejected = append(rejected, rej)
	})))

	tasks := n.NormalizeAll([][]byte{
		[]byte(`{"subjectId":"1","period":"2025-10","index":0}`),
		[]byte(`{"subjectId":"","period":"2025-10","index":1}`),
		[]byte(`{"subjectId":"1","period":"2025/10","index":0,"comment":"dup"}`),
		[]byte(`{"subjectId":"2","period":"2025-10","index":0}`),
	}, model.Courier)

	require.Len(t, tasks, 2)
	assert.Equal(t, "1", tasks[0].SubjectID)
	assert.Empty(t, tasks[0].Comment)
	assert.Equal(t, "2", tasks[1].SubjectID)

	require.Len(t, rejected, 2)
	assert.Equal(t, ReasonMissing, rejected[0].Reason)
	assert.Equal(t, ReasonDuplicate, rejected[1].Reason)
}

func TestPendingFlagsIgnoreKeyFields(t *testing.T) {
	raw := []byte(`{"period":"not a month","queue":{"courierPending":1,"courierPlannedDate":"2025-11-04"}}`)
	_, err := Normalize(raw, model.Courier)
	require.Error(t, err)

	p := PendingFlags(raw)
	assert.True(t, p.For(model.Courier))
	assert.False(t, p.For(model.Point))
	assert.Equal(t, "2025-11-04", p.PlannedDate.String())

	assert.False(t, PendingFlags([]byte(`{"pointPending":false}`)).For(model.Point))
}

func TestNormalizeForRejectsMismatches(t *testing.T) {
	var reasons []string
	n := New(WithSink(SinkFunc(func(_ []byte, rej *Rejection) {
		reasons = append(reasons, rej.Field+":"+rej.Reason)
	})))

	tasks := n.NormalizeFor([][]byte{
		[]byte(`{"subjectId":"1","period":"2025-10","index":0}`),
		[]byte(`{"type":"point","subjectId":"2","period":"2025-10","index":0}`),
		[]byte(`{"subjectId":"3","period":"2025-09","index":0}`),
	}, model.Courier, "2025-10")

	require.Len(t, tasks, 1)
	assert.Equal(t, "1", tasks[0].SubjectID)
	assert.Equal(t, []string{"type:mismatch", "period:mismatch"}, reasons)
}
