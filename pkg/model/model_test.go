package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	t.Run("Should normalize separators and month padding", func(t *testing.T) {
		for in, want := range map[string]Period{
			"2025-10":  "2025-10",
			"2025/10":  "2025-10",
			"2025_3":   "2025-03",
			"2025.07":  "2025-07",
			" 2025-1 ": "2025-01",
		} {
			got, err := ParsePeriod(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("Should reject months outside 01-12 and malformed input", func(t *testing.T) {
		for _, in := range []string{"", "2025-13", "2025-00", "2025-10-05", "25-10", "2025", "october"} {
			_, err := ParsePeriod(in)
			assert.ErrorIs(t, err, ErrInvalidPeriod, in)
		}
	})
}

func TestParseDate(t *testing.T) {
	t.Run("Should accept a date prefix of a timestamp", func(t *testing.T) {
		d, err := ParseDate("2025-10-05T10:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, "2025-10-05", d.String())
		assert.Equal(t, Period("2025-10"), d.Period())
	})

	t.Run("Should reject days that do not exist", func(t *testing.T) {
		_, err := ParseDate("2025-02-30")
		assert.ErrorIs(t, err, ErrInvalidDate)
		_, err = ParseDate("05.10.2025")
		assert.ErrorIs(t, err, ErrInvalidDate)
	})
}

func TestDateJSON(t *testing.T) {
	var v struct {
		A Date `json:"a"`
		B Date `json:"b"`
		C Date `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"2025-10-05","b":null,"c":""}`), &v))
	assert.Equal(t, "2025-10-05", v.A.String())
	assert.True(t, v.B.IsZero())
	assert.True(t, v.C.IsZero())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"2025-10-05","b":null,"c":null}`, string(out))
}

func TestToday(t *testing.T) {
	now := time.Date(2025, 10, 10, 23, 59, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-10-10", Today(now).String())
}

func TestDefaultLeg(t *testing.T) {
	t.Run("Should suggest transfer when nothing is signed", func(t *testing.T) {
		assert.Equal(t, Transfer, Signatures{}.DefaultLeg())
	})

	t.Run("Should suggest return once transfer is complete", func(t *testing.T) {
		s := Signatures{Transfer: &LegSignatures{Client: "X", Staff: "Y"}}
		assert.Equal(t, Return, s.DefaultLeg())
	})

	t.Run("Should stay on transfer while only one role signed it", func(t *testing.T) {
		s := Signatures{
			Transfer: &LegSignatures{Client: "X"},
			Return:   &LegSignatures{Client: "A", Staff: "B"},
		}
		assert.Equal(t, Transfer, s.DefaultLeg())
	})

	t.Run("Should fall back to transfer when fully signed", func(t *testing.T) {
		s := Signatures{
			Transfer: &LegSignatures{Client: "X", Staff: "Y"},
			Return:   &LegSignatures{Client: "A", Staff: "B"},
		}
		assert.True(t, s.FullySigned())
		assert.Equal(t, Transfer, s.DefaultLeg())
	})
}

func TestKey(t *testing.T) {
	k := Task{Type: Courier, SubjectID: "166", Period: "2025-10", Index: 2}.Key()
	assert.Equal(t, "166::2025-10::2", k.ID())
	assert.Equal(t, "courier:166::2025-10::2", k.String())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Courier ")
	require.NoError(t, err)
	assert.Equal(t, Courier, typ)
	_, err = ParseType("van")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestParseKey(t *testing.T) {
	k := Key{Type: Courier, SubjectID: "166", Period: "2025-10", Index: 2}
	got, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, got)

	got, err = ParseKey(" point:a:b::2025/3::0 ")
	require.NoError(t, err)
	assert.Equal(t, Key{Type: Point, SubjectID: "a:b", Period: "2025-03", Index: 0}, got)

	for _, bad := range []string{"", "courier", "courier:166::2025-10", "van:1::2025-10::0", "courier:1::2025-13::0", "courier:1::2025-10::-1", "courier:::2025-10::1"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}
