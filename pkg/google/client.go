package google

import (
	"context"
	"fmt"

	"google.golang.org/api/calendar/v3"

	"github.com/damian-sirenko/signq/pkg/auth"
	"github.com/damian-sirenko/signq/pkg/colors"
	"github.com/damian-sirenko/signq/pkg/index"
	"github.com/damian-sirenko/signq/pkg/logger"
)

// NewClient authenticates and resolves calendarName to its id.
func NewClient(ctx context.Context, paths auth.Paths, calendarName string, idx *index.EventIndex, cc *colors.Cache, log logger.Logger) (*CalendarClient, error) {
	srv, err := auth.GetCalendarService(ctx, paths, log)
	if err != nil {
		return nil, err
	}
	calendarID, err := FindCalendar(ctx, srv, calendarName)
	if err != nil {
		return nil, err
	}
	return NewCalendarClient(srv, calendarID, idx, cc, log), nil
}

// FindCalendar returns the id of the calendar whose summary is name.
func FindCalendar(ctx context.Context, srv *calendar.Service, name string) (string, error) {
	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range calendarList.Items {
		if item.Summary == name {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", name)
}
