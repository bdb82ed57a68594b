package notify

import (
	"context"
	"time"

	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/obs"
)

// Log writes class notices to the JSON log. It is the default notifier when
// no broker is configured.
type Log struct{}

var _ booking.Notifier = Log{}

func (Log) Notify(_ context.Context, n booking.Notice) error {
	obs.LogJSON(map[string]any{
		"ts":          n.At.UTC().Format(time.RFC3339Nano),
		"level":       "info",
		"msg":         "class_notice",
		"kind":        n.Kind,
		"class_id":    n.Class.ID,
		"class_title": n.Class.Title,
		"students":    n.StudentIDs,
	})
	return nil
}
