package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/damian-sirenko/signq/pkg/colors"
	"github.com/damian-sirenko/signq/pkg/index"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/schedule"
	"github.com/damian-sirenko/signq/pkg/util"
)

// CalendarClient publishes queue tasks as all-day calendar events.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	index      *index.EventIndex
	colors     *colors.Cache
	logger     logger.Logger
}

func NewCalendarClient(srv *calendar.Service, calendarID string, idx *index.EventIndex, cc *colors.Cache, log logger.Logger) *CalendarClient {
	if log == nil {
		log = logger.Default()
	}
	return &CalendarClient{srv: srv, calendarID: calendarID, index: idx, colors: cc, logger: log}
}

func (c *CalendarClient) colorFor(task model.Task) string {
	if c.colors == nil {
		return colors.DefaultColor
	}
	return c.colors.ColorID(task.SubjectID)
}

// SyncTask creates the task's event or patches the fields that changed.
func (c *CalendarClient) SyncTask(ctx context.Context, task model.Task, day, today model.Date) (*calendar.Event, error) {
	event, err := util.ConvertTaskToEvent(task, day, today, c.colorFor(task))
	if err != nil {
		return nil, err
	}
	key := task.Key().String()

	var existing *calendar.Event
	if c.index != nil {
		if eventID := c.index.Get(key); eventID != "" {
			existing, err = c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
			if err != nil || existing.Status == "cancelled" {
				existing = nil
			}
		}
	}
	if existing == nil {
		existing, err = c.GetEventByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("error searching for event: %w", err)
		}
	}

	if existing != nil {
		patch := util.EventNeedsUpdate(existing, event)
		if patch == nil {
			c.remember(key, existing.Id)
			return existing, nil
		}
		updated, err := c.PatchEvent(ctx, existing.Id, patch)
		if err != nil {
			return nil, err
		}
		c.remember(key, updated.Id)
		return updated, nil
	}

	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	c.remember(key, created.Id)
	return created, nil
}

func (c *CalendarClient) remember(key, eventID string) {
	if c.index != nil {
		c.index.Set(key, eventID)
	}
}

func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	return c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
}

// DeleteEvent deletes an event. Events that are already gone are not an
// error.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return nil
	}
	return err
}

// GetEventByKey searches for the event tagged with a task key.
func (c *CalendarClient) GetEventByKey(ctx context.Context, key string) (*calendar.Event, error) {
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", util.KeyProperty, key)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) > 0 {
		return events.Items[0], nil
	}
	return nil, nil
}

// Prune deletes the indexed events whose task key is not in keep.
func (c *CalendarClient) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	if c.index == nil {
		return 0, nil
	}
	var errs []error
	pruned := 0
	for _, key := range c.index.Keys() {
		if keep[key] {
			continue
		}
		if err := c.DeleteEvent(ctx, c.index.Get(key)); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		c.index.Remove(key)
		pruned++
	}
	return pruned, errors.Join(errs...)
}

type SyncStats struct {
	Synced int
	Failed int
	Pruned int
}

// SyncDays publishes every bucketed task on its day and prunes events of
// tasks that are no longer queued. Index and colors are saved at the end.
func (c *CalendarClient) SyncDays(ctx context.Context, buckets []schedule.Bucket, today model.Date) (SyncStats, error) {
	var stats SyncStats
	keep := map[string]bool{}
	for _, b := range buckets {
		for _, task := range b.Tasks {
			key := task.Key().String()
			keep[key] = true
			if _, err := c.SyncTask(ctx, task, b.Day, today); err != nil {
				c.logger.Warn("event sync failed", "key", key, "err", err)
				stats.Failed++
				continue
			}
			stats.Synced++
		}
	}

	var errs []error
	pruned, err := c.Prune(ctx, keep)
	stats.Pruned = pruned
	if err != nil {
		errs = append(errs, err)
	}
	if c.index != nil {
		if err := c.index.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save event index: %w", err))
		}
	}
	if c.colors != nil {
		if err := c.colors.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save color cache: %w", err))
		}
	}
	return stats, errors.Join(errs...)
}
