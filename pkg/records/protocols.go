package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/normalize"
)

// Header is one row of the protocol list.
type Header struct {
	SubjectID string
	Period    model.Period
}

// List returns the protocol headers known to the collaborator. Rows without
// a usable id or month are skipped.
func (c *Client) List(ctx context.Context) ([]Header, error) {
	body, err := c.call(ctx, "list", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/protocols")
	})
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("records: list: expected an array")
	}
	var out []Header
	for _, row := range doc.Array() {
		id := normalize.Field{"id", "clientId"}.Scalar(row)
		period, err := model.ParsePeriod(row.Get("month").String())
		if id == "" || err != nil {
			continue
		}
		out = append(out, Header{SubjectID: id, Period: period})
	}
	return out, nil
}

// Get returns one full protocol document.
func (c *Client) Get(ctx context.Context, subjectID string, period model.Period) ([]byte, error) {
	return c.call(ctx, "get", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(map[string]string{"subject": subjectID, "period": string(period)}).
			Get("/protocols/{subject}/{period}")
	})
}

// Expand turns a full protocol into one raw record per entry. The entry's
// position is its index; subject and period come from the protocol.
func Expand(protocol []byte, h Header) ([][]byte, error) {
	doc := gjson.ParseBytes(protocol)
	entries := doc.Get("entries")
	if !entries.IsArray() {
		return nil, nil
	}
	var out [][]byte
	for i, e := range entries.Array() {
		fields := map[string]json.RawMessage{}
		if e.IsObject() {
			if err := json.Unmarshal([]byte(e.Raw), &fields); err != nil {
				return nil, fmt.Errorf("records: expand entry %d: %w", i, err)
			}
		}
		subject, _ := json.Marshal(h.SubjectID)
		period, _ := json.Marshal(h.Period)
		fields["subjectId"] = subject
		fields["period"] = period
		fields["index"] = json.RawMessage(fmt.Sprint(i))
		if name := (normalize.Field{"clientName", "name"}).Scalar(doc); name != "" {
			n, _ := json.Marshal(name)
			fields["subjectName"] = n
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("records: expand entry %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// QueryPending returns one raw record per entry whose pending flag for typ
// is set, limited to period when it is not empty.
func (c *Client) QueryPending(ctx context.Context, typ model.Type, period model.Period) ([][]byte, error) {
	headers, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, h := range headers {
		if period != "" && h.Period != period {
			continue
		}
		full, err := c.Get(ctx, h.SubjectID, h.Period)
		if err != nil {
			return nil, err
		}
		raws, err := Expand(full, h)
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			// Key fields are judged later by the loader's normalizer.
			if normalize.PendingFlags(raw).For(typ) {
				out = append(out, raw)
			}
		}
	}
	return out, nil
}

// ErrEntryNotFound is returned by Entry when the protocol has no entry at
// the requested index.
var ErrEntryNotFound = errors.New("records: entry not found")

// Entry fetches the current state of one entry as a raw record.
func (c *Client) Entry(ctx context.Context, k model.Key) ([]byte, error) {
	h := Header{SubjectID: k.SubjectID, Period: k.Period}
	full, err := c.Get(ctx, h.SubjectID, h.Period)
	if err != nil {
		return nil, err
	}
	raws, err := Expand(full, h)
	if err != nil {
		return nil, err
	}
	if k.Index < 0 || k.Index >= len(raws) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, k)
	}
	return raws[k.Index], nil
}
