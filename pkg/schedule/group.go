// Package schedule buckets queue tasks by day and carries out the queue
// mutations against the records collaborator.
package schedule

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/damian-sirenko/signq/pkg/model"
)

const DefaultLocale = "pl"

// Bucket is one presentation day.
type Bucket struct {
	Day   model.Date   `json:"day"`
	Tasks []model.Task `json:"tasks"`
}

// EffectiveDate is the day a task is shown on: the leg's own date, else the
// planned date, else today. It never precedes filter.
func EffectiveDate(t model.Task, leg model.Leg, filter, today model.Date) model.Date {
	d := t.DateFor(leg)
	if d.IsZero() {
		d = t.Pending.PlannedDate
	}
	if d.IsZero() {
		d = today
	}
	if !filter.IsZero() && d.Before(filter) {
		return filter
	}
	return d
}

type Grouper struct {
	tag language.Tag
}

// NewGrouper returns a grouper sorting names by the rules of locale.
// Unknown locales fall back to DefaultLocale.
func NewGrouper(locale string) *Grouper {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(DefaultLocale)
	}
	return &Grouper{tag: tag}
}

// Group buckets tasks for display. Point tasks share a single bucket at the
// filter date; courier tasks are bucketed by effective date, ascending.
// Members are sorted by display name, case-insensitively.
func (g *Grouper) Group(tasks []model.Task, typ model.Type, filter, today model.Date) []Bucket {
	if len(tasks) == 0 {
		return []Bucket{}
	}
	// Collators are not safe for concurrent use.
	coll := collate.New(g.tag, collate.IgnoreCase)
	byName := func(a, b model.Task) int {
		if c := coll.CompareString(a.DisplayName(), b.DisplayName()); c != 0 {
			return c
		}
		if c := strings.Compare(a.SubjectID, b.SubjectID); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Period), string(b.Period)); c != 0 {
			return c
		}
		return a.Index - b.Index
	}

	if typ == model.Point {
		day := filter
		if day.IsZero() {
			day = today
		}
		members := slices.Clone(tasks)
		slices.SortStableFunc(members, byName)
		return []Bucket{{Day: day, Tasks: members}}
	}

	days := map[string]*Bucket{}
	for _, t := range tasks {
		d := EffectiveDate(t, t.DefaultLeg(), filter, today)
		b, ok := days[d.String()]
		if !ok {
			b = &Bucket{Day: d}
			days[d.String()] = b
		}
		b.Tasks = append(b.Tasks, t)
	}
	out := make([]Bucket, 0, len(days))
	for _, b := range days {
		slices.SortStableFunc(b.Tasks, byName)
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Bucket) int { return a.Day.Compare(b.Day.Time) })
	return out
}
