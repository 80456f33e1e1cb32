package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Event is the provider-neutral view of a remote calendar event that the
// sync engine works with.
type Event struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	Cancelled bool
}

// Delta is the result of one listing call: the changed events plus the next
// sync cursor, if the provider handed one out.
type Delta struct {
	Events        []Event
	NextSyncToken string
}

// Channel describes a registered push-notification channel.
type Channel struct {
	ID         string
	ResourceID string
	ExpiresAt  *time.Time
}

// Calendar is the remote calendar surface the sync engine depends on. The
// refresh token is passed per call; the client exchanges it for access
// credentials itself.
type Calendar interface {
	CreateEvent(ctx context.Context, refreshToken, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, refreshToken, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, refreshToken, calendarID, eventID string) error
	ListEvents(ctx context.Context, refreshToken, calendarID, syncToken string, window time.Duration) (Delta, error)
	Watch(ctx context.Context, refreshToken, calendarID, channelID, address string, ttl time.Duration) (Channel, error)
	StopChannel(ctx context.Context, refreshToken, channelID, resourceID string) error
}

// CalendarClient is the Google Calendar implementation of Calendar. It is
// stateless: a fresh service is built per call from the caller's credential,
// and transient failures are retried a bounded number of times.
type CalendarClient struct {
	oauth    *OAuthClient
	timeout  time.Duration
	attempts uint
}

func NewCalendarClient(oauth *OAuthClient, timeout time.Duration, attempts uint) *CalendarClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if attempts == 0 {
		attempts = 3
	}
	return &CalendarClient{oauth: oauth, timeout: timeout, attempts: attempts}
}

func (c *CalendarClient) service(ctx context.Context, refreshToken string) (*calendar.Service, error) {
	ts := c.oauth.TokenSource(ctx, refreshToken)
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("unable to build Calendar client: %w", err)
	}
	return srv, nil
}

// do runs one remote call with a bounded timeout, retrying transient
// failures, and translates the outcome into the typed taxonomy.
func (c *CalendarClient) do(ctx context.Context, op string, listWithCursor bool, call func(ctx context.Context) error) error {
	return retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return translateError(op, call(callCtx), listWithCursor)
		},
		retry.Attempts(c.attempts),
		retry.RetryIf(IsTransient),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *CalendarClient) CreateEvent(ctx context.Context, refreshToken, calendarID string, ev Event) (string, error) {
	var created *calendar.Event
	err := c.do(ctx, "create event", false, func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}
		created, err = srv.Events.Insert(calendarID, eventBody(ev)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *CalendarClient) UpdateEvent(ctx context.Context, refreshToken, calendarID, eventID string, ev Event) error {
	return c.do(ctx, "update event", false, func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}
		_, err = srv.Events.Update(calendarID, eventID, eventBody(ev)).Context(ctx).Do()
		return err
	})
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, refreshToken, calendarID, eventID string) error {
	return c.do(ctx, "delete event", false, func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}
		return srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	})
}

// ListEvents fetches changes. With a sync token it requests only the delta
// since that token; without one it lists everything from window ago forward,
// establishing a fresh baseline. Pages are drained within the call; Google
// only hands out the next sync token on the final page.
func (c *CalendarClient) ListEvents(ctx context.Context, refreshToken, calendarID, syncToken string, window time.Duration) (Delta, error) {
	var delta Delta
	err := c.do(ctx, "list events", syncToken != "", func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}

		delta = Delta{}
		pageToken := ""
		for {
			call := srv.Events.List(calendarID).Context(ctx)
			if syncToken != "" {
				call = call.SyncToken(syncToken)
			} else {
				call = call.SingleEvents(true).TimeMin(time.Now().UTC().Add(-window).Format(time.RFC3339))
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			page, err := call.Do()
			if err != nil {
				return err
			}
			for _, item := range page.Items {
				delta.Events = append(delta.Events, eventFromGoogle(item))
			}
			if page.NextSyncToken != "" {
				delta.NextSyncToken = page.NextSyncToken
			}
			if page.NextPageToken == "" {
				return nil
			}
			pageToken = page.NextPageToken
		}
	})
	return delta, err
}

func (c *CalendarClient) Watch(ctx context.Context, refreshToken, calendarID, channelID, address string, ttl time.Duration) (Channel, error) {
	var registered Channel
	err := c.do(ctx, "watch calendar", false, func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}
		resp, err := srv.Events.Watch(calendarID, &calendar.Channel{
			Id:         channelID,
			Type:       "web_hook",
			Address:    address,
			Expiration: time.Now().Add(ttl).UnixMilli(),
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		registered = Channel{ID: resp.Id, ResourceID: resp.ResourceId}
		if resp.Expiration > 0 {
			t := time.UnixMilli(resp.Expiration)
			registered.ExpiresAt = &t
		}
		return nil
	})
	return registered, err
}

func (c *CalendarClient) StopChannel(ctx context.Context, refreshToken, channelID, resourceID string) error {
	return c.do(ctx, "stop channel", false, func(ctx context.Context) error {
		srv, err := c.service(ctx, refreshToken)
		if err != nil {
			return err
		}
		return srv.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	})
}

func eventBody(ev Event) *calendar.Event {
	return &calendar.Event{
		Summary: ev.Title,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

func eventFromGoogle(item *calendar.Event) Event {
	ev := Event{
		ID:        item.Id,
		Title:     item.Summary,
		Cancelled: item.Status == "cancelled",
	}
	if ev.Title == "" && !ev.Cancelled {
		ev.Title = "Untitled"
	}
	ev.Start = parseEventTime(item.Start)
	ev.End = parseEventTime(item.End)
	return ev
}

// parseEventTime handles both timed and all-day events. Cancelled events come
// back without times at all; the zero value is fine there, the engine only
// looks at the id.
func parseEventTime(edt *calendar.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t
		}
		zap.L().Warn("Unparseable event datetime from Google", zap.String("value", edt.DateTime))
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
