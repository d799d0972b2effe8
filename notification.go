package offlinecache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackgroundSyncTag is the sync tag that runs the background sync hook.
const BackgroundSyncTag = "background-sync"

const (
	ActionOpen  = "open"
	ActionClose = "close"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is shown to the user when a push message arrives.
type Notification struct {
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Icon      string               `json:"icon,omitempty"`
	Badge     string               `json:"badge,omitempty"`
	Vibrate   []int                `json:"vibrate,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Actions   []NotificationAction `json:"actions,omitempty"`
}

// NotificationBridge receives the push, notification-click and background-sync events.
// It is independent of the caching strategies.
type NotificationBridge interface {
	// Push returns the notification to show for a push message.
	Push(ctx context.Context, data string) Notification
	// NotificationClick returns the URL to open for the clicked action, or "" to open nothing.
	NotificationClick(ctx context.Context, action string) string
	// Sync runs the hook registered for the tag.
	Sync(ctx context.Context, tag string) error
}

// LogBridge is a NotificationBridge that shows plain notifications
// and logs background syncs.
type LogBridge struct {
	Title string
	// Optional hook run for the background-sync tag.
	OnSync func(ctx context.Context) error

	log zerolog.Logger
}

func NewLogBridge(logger zerolog.Logger, title string) *LogBridge {
	return &LogBridge{Title: title, log: logger}
}

func (b *LogBridge) Push(ctx context.Context, data string) Notification {
	b.log.Debug().Str("data", data).Msg("Received push message")
	return Notification{
		Title:     b.Title,
		Body:      data,
		Icon:      "/icons/icon-192.png",
		Badge:     "/icons/badge-72.png",
		Vibrate:   []int{100, 50, 100},
		Timestamp: time.Now(),
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Open", Icon: "/icons/action-open.png"},
			{Action: ActionClose, Title: "Close", Icon: "/icons/action-close.png"},
		},
	}
}

func (b *LogBridge) NotificationClick(ctx context.Context, action string) string {
	if action == ActionOpen || action == "" {
		return "/"
	}
	return ""
}

func (b *LogBridge) Sync(ctx context.Context, tag string) error {
	if tag != BackgroundSyncTag {
		b.log.Debug().Str("tag", tag).Msg("Ignoring sync")
		return nil
	}
	b.log.Info().Msg("Background sync")
	if b.OnSync == nil {
		return nil
	}
	if err := b.OnSync(ctx); err != nil {
		b.log.Error().Err(err).Msg("Background sync failed")
		return err
	}
	return nil
}

// Notifications returns the bridge of the worker.
func (w *Worker) Notifications() NotificationBridge {
	return w.notifications
}
