// Package normalize maps raw queue records of any supported shape onto the
// canonical model.Task. Only the key fields (subject, period, index) can
// reject a record; every display field falls back to its zero value.
package normalize

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/metrics"
	"github.com/damian-sirenko/signq/pkg/model"
)

const (
	ReasonMalformed = "malformed"
	ReasonMissing   = "missing"
	ReasonInvalid   = "invalid"
	ReasonDuplicate = "duplicate"
	// ReasonMismatch marks a record outside the requested type or period.
	ReasonMismatch = "mismatch"
)

// Rejection explains why a raw record produced no task.
type Rejection struct {
	Field  string
	Reason string
	Value  string
}

func (r *Rejection) Error() string {
	if r.Value != "" {
		return fmt.Sprintf("normalize: %s %s (%q)", r.Reason, r.Field, r.Value)
	}
	return fmt.Sprintf("normalize: %s %s", r.Reason, r.Field)
}

// Sink observes rejected records.
type Sink interface {
	Reject(raw []byte, rej *Rejection)
}

type SinkFunc func(raw []byte, rej *Rejection)

func (f SinkFunc) Reject(raw []byte, rej *Rejection) { f(raw, rej) }

// LogSink counts rejections and logs them at debug level.
type LogSink struct {
	Logger logger.Logger
}

func (s LogSink) Reject(raw []byte, rej *Rejection) {
	metrics.Rejections.WithLabelValues(rej.Reason).Inc()
	l := s.Logger
	if l == nil {
		l = logger.Default()
	}
	l.Debug("dropped raw queue record", "field", rej.Field, "reason", rej.Reason, "raw", truncate(raw, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

type Normalizer struct {
	sink Sink
}

type Option func(*Normalizer)

func WithSink(s Sink) Option {
	return func(n *Normalizer) {
		if s != nil {
			n.sink = s
		}
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{sink: LogSink{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw record. typ is used when the record does not
// name its own queue type.
func Normalize(raw []byte, typ model.Type) (model.Task, error) {
	if !gjson.ValidBytes(raw) {
		return model.Task{}, &Rejection{Field: "record", Reason: ReasonMalformed}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return model.Task{}, &Rejection{Field: "record", Reason: ReasonMalformed}
	}

	task := model.Task{Type: typ}
	if t, err := model.ParseType(typeField.Scalar(doc)); err == nil {
		task.Type = t
	}

	task.SubjectID = subjectField.Scalar(doc)
	if task.SubjectID == "" {
		return model.Task{}, &Rejection{Field: "subjectId", Reason: ReasonMissing}
	}

	rawPeriod := periodField.Scalar(doc)
	if rawPeriod == "" {
		return model.Task{}, &Rejection{Field: "period", Reason: ReasonMissing}
	}
	period, err := model.ParsePeriod(rawPeriod)
	if err != nil {
		return model.Task{}, &Rejection{Field: "period", Reason: ReasonInvalid, Value: rawPeriod}
	}
	task.Period = period

	idx, ok := indexField.Lookup(doc)
	if !ok {
		return model.Task{}, &Rejection{Field: "index", Reason: ReasonMissing}
	}
	n, ok := toInt(idx)
	if !ok || n < 0 {
		return model.Task{}, &Rejection{Field: "index", Reason: ReasonInvalid, Value: idx.Raw}
	}
	task.Index = n

	fillDisplay(doc, &task)
	task.Signatures = signatures(doc)
	task.Pending = pending(doc)
	return task, nil
}

func fillDisplay(doc gjson.Result, task *model.Task) {
	task.SubjectName = nameField.Scalar(doc)
	task.TransferDate = date(transferDateField, doc)
	task.ReturnDate = date(returnDateField, doc)
	task.Tools = tools(doc)
	if r, ok := packagesField.Lookup(doc); ok {
		task.PackageCount = countOf(r)
	}
	task.DeliveryMode = deliveryField.Scalar(doc)
	if r, ok := shippingField.Lookup(doc); ok {
		task.ShippingFlag = r.Bool()
	}
	if r, ok := commentField.Lookup(doc); ok && r.Type == gjson.String {
		task.Comment = r.Str
	}
}

func date(f Field, doc gjson.Result) model.Date {
	s := f.Scalar(doc)
	if s == "" {
		return model.Date{}
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return model.Date{}
	}
	return d
}

func tools(doc gjson.Result) []model.Tool {
	items, _ := toolsField.Array(doc)
	out := make([]model.Tool, 0, len(items))
	for _, it := range items {
		var t model.Tool
		switch {
		case it.Type == gjson.String:
			t.Name = strings.TrimSpace(it.Str)
		case it.IsObject():
			t.Name = strings.TrimSpace(Field{"name", "nazwa"}.Scalar(it))
			if c, ok := (Field{"count", "ilosc"}).Lookup(it); ok {
				t.Count = countOf(c)
			}
		}
		if t.Name == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

func signatures(doc gjson.Result) model.Signatures {
	var sigs model.Signatures
	if obj, ok := signaturesField.Object(doc); ok {
		sigs.Transfer = legSignatures(obj.Get("transfer"))
		sigs.Return = legSignatures(obj.Get("return"))
	}
	if sigs.Transfer != nil || sigs.Return != nil {
		return sigs
	}
	for _, col := range signatureColumns {
		v := strings.TrimSpace(doc.Get(col.path).String())
		if v == "" {
			continue
		}
		leg := &sigs.Transfer
		if col.leg == "return" {
			leg = &sigs.Return
		}
		if *leg == nil {
			*leg = &model.LegSignatures{}
		}
		if col.role == "client" {
			(*leg).Client = v
		} else {
			(*leg).Staff = v
		}
	}
	return sigs
}

func legSignatures(r gjson.Result) *model.LegSignatures {
	if !r.IsObject() {
		return nil
	}
	ls := &model.LegSignatures{
		Client: strings.TrimSpace(r.Get("client").String()),
		Staff:  strings.TrimSpace(r.Get("staff").String()),
	}
	if ls.Client == "" && ls.Staff == "" {
		return nil
	}
	return ls
}

func pending(doc gjson.Result) model.Pending {
	var p model.Pending
	point, courier := doc.Get("pointPending"), doc.Get("courierPending")
	if point.Exists() || courier.Exists() {
		p.PointPending = point.Bool()
		p.CourierPending = courier.Bool()
	} else if obj, ok := pendingObjectField.Object(doc); ok {
		p.PointPending = obj.Get("pointPending").Bool()
		p.CourierPending = obj.Get("courierPending").Bool()
	}
	p.PlannedDate = date(plannedDateField, doc)
	return p
}

// PendingFlags reads only the queue membership flags of raw. Key fields are
// not checked, so records that Normalize would reject still report flags.
func PendingFlags(raw []byte) model.Pending {
	return pending(gjson.ParseBytes(raw))
}

// Normalize converts one record and reports a rejection to the sink.
func (n *Normalizer) Normalize(raw []byte, typ model.Type) (model.Task, bool) {
	task, err := Normalize(raw, typ)
	if err != nil {
		n.reject(raw, err)
		return model.Task{}, false
	}
	return task, true
}

// NormalizeAll converts a batch, dropping rejected records. The first record
// seen for a task key wins; later ones are rejected as duplicates.
func (n *Normalizer) NormalizeAll(raws [][]byte, typ model.Type) []model.Task {
	return n.NormalizeFor(raws, typ, "")
}

// NormalizeFor is NormalizeAll restricted to one queue: records naming
// another type, or another period when period is set, are rejected as
// mismatches.
func (n *Normalizer) NormalizeFor(raws [][]byte, typ model.Type, period model.Period) []model.Task {
	out := make([]model.Task, 0, len(raws))
	seen := make(map[model.Key]struct{}, len(raws))
	for _, raw := range raws {
		task, ok := n.Normalize(raw, typ)
		if !ok {
			continue
		}
		if typ != "" && task.Type != typ {
			n.sink.Reject(raw, &Rejection{Field: "type", Reason: ReasonMismatch, Value: string(task.Type)})
			continue
		}
		if period != "" && task.Period != period {
			n.sink.Reject(raw, &Rejection{Field: "period", Reason: ReasonMismatch, Value: string(task.Period)})
			continue
		}
		k := task.Key()
		if _, dup := seen[k]; dup {
			n.sink.Reject(raw, &Rejection{Field: "key", Reason: ReasonDuplicate, Value: k.String()})
			continue
		}
		seen[k] = struct{}{}
		out = append(out, task)
	}
	return out
}

func (n *Normalizer) reject(raw []byte, err error) {
	rej, ok := err.(*Rejection)
	if !ok {
		rej = &Rejection{Field: "record", Reason: ReasonInvalid, Value: err.Error()}
	}
	n.sink.Reject(raw, rej)
}
