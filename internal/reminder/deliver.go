package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/catatduit/reminder-dispatch/internal/fcm"
)

// Pusher authorizes one push session per run.
type Pusher interface {
	Authorize(ctx context.Context) (fcm.Sender, error)
}

// deliver sends one push per target and returns an outcome per target, in
// target order. Failures are captured as outcomes; nothing aborts the loop.
func (d *Dispatcher) deliver(ctx context.Context, sender fcm.Sender, targets []target, log *slog.Logger) []Outcome {
	outcomes := make([]Outcome, len(targets))

	workers := min(d.workers, len(targets))
	if workers <= 1 {
		for i, t := range targets {
			outcomes[i] = deliverOne(ctx, sender, t, log)
		}
		return outcomes
	}

	// Worker pool: each index is sent to exactly one worker, each worker
	// writes only its own slots.
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = deliverOne(ctx, sender, targets[i], log)
			}
		}()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func deliverOne(ctx context.Context, sender fcm.Sender, t target, log *slog.Logger) Outcome {
	resp, err := sender.Send(ctx, pushMessage(t))
	if err != nil {
		log.Warn("push failed", "user_id", t.UserID, "error", err)
		return Outcome{UserID: t.UserID, Status: 0, Data: errorData(err)}
	}
	if !resp.OK() {
		log.Warn("push rejected", "user_id", t.UserID, "status", resp.StatusCode)
	}
	return Outcome{UserID: t.UserID, Status: resp.StatusCode, Data: resp.Body}
}

// pushMessage builds the provider message. Route and category travel in the
// data payload so the app can deep-link even when the OS renders the
// notification itself; the category is also the Android notification tag.
func pushMessage(t target) *fcm.Message {
	return &fcm.Message{
		Token: t.Token,
		Notification: &fcm.Notification{
			Title: t.Message.Title,
			Body:  t.Message.Body,
		},
		Android: &fcm.AndroidConfig{
			Priority: Priority,
			Notification: &fcm.AndroidNotification{
				ChannelID: ChannelID,
				Tag:       Category,
			},
		},
		Data: map[string]string{
			"route":    Route,
			"category": Category,
		},
	}
}

func errorData(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
