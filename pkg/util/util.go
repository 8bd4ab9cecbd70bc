package util

import (
	"fmt"
	"strings"

	"google.golang.org/api/calendar/v3"

	"github.com/damian-sirenko/signq/pkg/model"
)

// KeyProperty is the private extended property that ties an event to a task.
const KeyProperty = "signq_key"

const (
	markOverdue = "!"
	markSigned  = "✓"
)

// Summary renders the event title: "[leg] name (period #index)", marked when
// the day has passed without the leg being signed.
func Summary(task model.Task, day, today model.Date) string {
	leg := task.DefaultLeg()
	s := fmt.Sprintf("[%s] %s (%s #%d)", leg, task.DisplayName(), task.Period, task.Index)
	switch {
	case task.Signatures.FullySigned():
		return markSigned + " " + s
	case !day.IsZero() && day.Before(today):
		return markOverdue + " " + s
	}
	return s
}

func legState(ls *model.LegSignatures) string {
	if ls == nil {
		return "client ✗, staff ✗"
	}
	mark := func(ref string) string {
		if ref != "" {
			return "✓"
		}
		return "✗"
	}
	return fmt.Sprintf("client %s, staff %s", mark(ls.Client), mark(ls.Staff))
}

// Description lists what the courier or point needs to know about the task.
func Description(task model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", task.Type)
	fmt.Fprintf(&b, "Subject: %s\n", task.SubjectID)
	if task.DeliveryMode != "" {
		fmt.Fprintf(&b, "Delivery: %s\n", task.DeliveryMode)
	}
	if !task.TransferDate.IsZero() {
		fmt.Fprintf(&b, "Transfer: %s\n", task.TransferDate)
	}
	if !task.ReturnDate.IsZero() {
		fmt.Fprintf(&b, "Return: %s\n", task.ReturnDate)
	}
	if task.PackageCount > 0 {
		fmt.Fprintf(&b, "Packages: %d\n", task.PackageCount)
	}

	if len(task.Tools) > 0 {
		b.WriteString("\nTools:\n")
		for _, t := range task.Tools {
			fmt.Fprintf(&b, "• %s × %d\n", t.Name, t.Count)
		}
	}

	b.WriteString("\nSignatures:\n")
	fmt.Fprintf(&b, "‣ transfer: %s\n", legState(task.Signatures.Transfer))
	fmt.Fprintf(&b, "‣ return: %s\n", legState(task.Signatures.Return))

	if task.Comment != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", task.Comment)
	}
	fmt.Fprintf(&b, "\nKey: %s\n", task.Key())
	return b.String()
}

// ConvertTaskToEvent builds an all-day event for task on day.
func ConvertTaskToEvent(task model.Task, day, today model.Date, colorID string) (*calendar.Event, error) {
	if day.IsZero() {
		return nil, fmt.Errorf("task has no day to be shown on: %s", task.Key())
	}
	return &calendar.Event{
		Summary:     Summary(task, day, today),
		Description: Description(task),
		ColorId:     colorID,
		Start:       &calendar.EventDateTime{Date: day.String()},
		End:         &calendar.EventDateTime{Date: model.Date{Time: day.AddDate(0, 0, 1)}.String()},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{KeyProperty: task.Key().String()},
		},
	}, nil
}

func eventDate(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.Date != "" {
		return dt.Date
	}
	if len(dt.DateTime) >= len(model.DateLayout) {
		return dt.DateTime[:len(model.DateLayout)]
	}
	return dt.DateTime
}

// EventNeedsUpdate returns a patch with the fields of target that differ
// from existing, or nil when nothing changed.
func EventNeedsUpdate(existing, target *calendar.Event) *calendar.Event {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}
	if eventDate(existing.Start) != eventDate(target.Start) || eventDate(existing.End) != eventDate(target.End) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}

// KeyFromEvent returns the task key an event was created for.
func KeyFromEvent(ev *calendar.Event) (string, bool) {
	if ev == nil || ev.ExtendedProperties == nil {
		return "", false
	}
	k, ok := ev.ExtendedProperties.Private[KeyProperty]
	return k, ok && k != ""
}
