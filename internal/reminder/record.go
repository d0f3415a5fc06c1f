package reminder

import (
	"context"
	"log/slog"
)

// compose picks one message per profile and attaches it to each of that
// profile's devices. Returns the delivery targets and one record per profile.
func (d *Dispatcher) compose(cands []Candidate) ([]target, []Record) {
	byUser := make(map[string]Message)
	targets := make([]target, 0, len(cands))
	var records []Record

	for _, c := range cands {
		msg, ok := byUser[c.UserID]
		if !ok {
			msg = d.composer.Compose(c.Name)
			byUser[c.UserID] = msg
			records = append(records, Record{
				UserID: c.UserID,
				Title:  msg.Title,
				Body:   msg.Body,
				Type:   NotificationType,
				Data:   map[string]string{"route": Route},
			})
		}
		targets = append(targets, target{Candidate: c, Message: msg})
	}
	return targets, records
}

// record writes the notification feed rows. Failure is logged and reported
// to the caller as false; it never stops delivery.
func (d *Dispatcher) record(ctx context.Context, records []Record, log *slog.Logger) bool {
	if err := d.store.InsertNotifications(ctx, records); err != nil {
		log.Error("Error logging notifications", "count", len(records), "error", err)
		return false
	}
	log.Info("Notifications recorded", "count", len(records))
	return true
}
