package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Field is an ordered list of gjson paths. The first path that yields a
// usable value wins.
type Field []string

// Extractor tables, one per canonical field. The same tables serve all three
// source shapes: stored queue records (flat), legacy queue items (display
// fields under "entry") and expanded records-collaborator entries.
var (
	typeField    = Field{"type", "entry.type"}
	subjectField = Field{"subjectId", "clientId", "client_id", "client.id", "client.ID", "client", "entry.clientId", "id"}
	nameField    = Field{"subjectName", "clientName", "client.name", "client.Klient", "entry.clientName"}
	periodField  = Field{"period", "month", "entry.month", "entry.period"}
	indexField   = Field{"index", "idx", "entryIndex", "entry.index"}

	transferDateField = Field{"transferDate", "date", "entry.date", "entry.transferDate"}
	returnDateField   = Field{"returnDate", "entry.returnDate"}
	toolsField        = Field{"tools", "entry.tools"}
	packagesField     = Field{"packageCount", "packages", "entry.packages"}
	deliveryField     = Field{"deliveryMode", "delivery", "entry.delivery"}
	shippingField     = Field{"shippingFlag", "shipping", "entry.shipping"}
	commentField      = Field{"comment", "entry.comment"}
	signaturesField   = Field{"signatures", "entry.signatures"}

	pendingObjectField = Field{"pending", "queue", "entry.queue", "entry.pending"}
	plannedDateField   = Field{
		"plannedDate", "courierPlannedDate",
		"pending.plannedDate", "pending.courierPlannedDate",
		"queue.courierPlannedDate", "queue.plannedDate",
		"entry.plannedDate", "entry.queue.courierPlannedDate",
	}
)

// flat signature columns as stored by older collaborator schemas.
var signatureColumns = []struct {
	path string
	leg  string
	role string
}{
	{"transferClientSig", "transfer", "client"},
	{"transferStaffSig", "transfer", "staff"},
	{"returnClientSig", "return", "client"},
	{"returnStaffSig", "return", "staff"},
}

func present(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.String:
		return strings.TrimSpace(r.Str) != ""
	}
	return r.Exists()
}

// Lookup returns the first present value.
func (f Field) Lookup(doc gjson.Result) (gjson.Result, bool) {
	for _, path := range f {
		if r := doc.Get(path); present(r) {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// Scalar returns the first string or number value as a trimmed string.
// Objects and arrays are skipped so "client" only matches a bare id.
func (f Field) Scalar(doc gjson.Result) string {
	for _, path := range f {
		r := doc.Get(path)
		if r.Type == gjson.String || r.Type == gjson.Number {
			if s := strings.TrimSpace(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// Object returns the first object value.
func (f Field) Object(doc gjson.Result) (gjson.Result, bool) {
	for _, path := range f {
		if r := doc.Get(path); r.IsObject() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// Array returns the first array value.
func (f Field) Array(doc gjson.Result) ([]gjson.Result, bool) {
	for _, path := range f {
		if r := doc.Get(path); r.IsArray() {
			return r.Array(), true
		}
	}
	return nil, false
}

// toInt coerces numbers and numeric strings. Fractions, NaN and infinities
// are rejected.
func toInt(r gjson.Result) (int, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// countOf is the permissive count coercion used for display fields.
func countOf(r gjson.Result) int {
	n, ok := toInt(r)
	if !ok || n < 0 {
		return 0
	}
	return n
}
