package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/catatduit/reminder-dispatch/internal/cache"
	"github.com/catatduit/reminder-dispatch/internal/fcm"
)

// --- mocks ---

type mockStore struct{ mock.Mock }

func (m *mockStore) ScheduledAt(ctx context.Context, timeLabel string) ([]Device, error) {
	args := m.Called(ctx, timeLabel)
	d, _ := args.Get(0).([]Device)
	return d, args.Error(1)
}

func (m *mockStore) ActiveOn(ctx context.Context, userIDs []string, dayStart, dayEnd string) ([]string, error) {
	args := m.Called(ctx, userIDs, dayStart, dayEnd)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockStore) InsertNotifications(ctx context.Context, records []Record) error {
	return m.Called(ctx, records).Error(0)
}

type mockPusher struct{ mock.Mock }

func (m *mockPusher) Authorize(ctx context.Context) (fcm.Sender, error) {
	args := m.Called(ctx)
	if s, _ := args.Get(0).(fcm.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeSender records every message and answers per token.
type fakeSender struct {
	mu     sync.Mutex
	sent   []*fcm.Message
	status map[string]int
	errs   map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{status: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeSender) Send(_ context.Context, msg *fcm.Message) (*fcm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if err := f.errs[msg.Token]; err != nil {
		return nil, err
	}
	status := http.StatusOK
	if s, ok := f.status[msg.Token]; ok {
		status = s
	}
	body, _ := json.Marshal(map[string]string{"name": "projects/demo/messages/" + msg.Token})
	return &fcm.Response{StatusCode: status, Body: body}, nil
}

func (f *fakeSender) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Token)
	}
	return out
}

// --- helpers ---

// 13:30 UTC is 20:30 WIB on 2025-12-16.
var evening = time.Date(2025, 12, 16, 13, 30, 12, 0, time.UTC)

const (
	dayStart = "2025-12-16T00:00:00"
	dayEnd   = "2025-12-16T23:59:59"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(store Store, pusher Pusher, opts Options) *Dispatcher {
	if opts.Clock.Offset == 0 {
		opts.Clock = NewClock(7*time.Hour, "WIB")
	}
	if opts.Pick == nil {
		opts.Pick = func(int) int { return 0 }
	}
	return NewDispatcher(store, pusher, opts, quietLogger())
}

func authorized(sender fcm.Sender) *mockPusher {
	p := &mockPusher{}
	p.On("Authorize", mock.Anything).Return(sender, nil)
	return p
}

func toJSON(t *testing.T, r Result) map[string]any {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

// --- scenarios ---

func TestRun_NoUsersScheduled(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return(nil, nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	assert.Equal(t, KindNoUsers, res.Kind)
	assert.Equal(t, map[string]any{"message": "No users scheduled for 20:30:00 WIB"}, toJSON(t, res))
	store.AssertNotCalled(t, "ActiveOn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertNotifications", mock.Anything, mock.Anything)
	assert.Empty(t, sender.tokens())
}

func TestRun_SuppressesUsersWhoTransactedToday(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "Rina Putri", Token: "tok-rina"},
		{UserID: "u2", FullName: "Budi Santoso", Token: "tok-budi"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1", "u2"}, dayStart, dayEnd).Return([]string{"u1"}, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	assert.Equal(t, 1, res.Count())
	assert.Equal(t, "u2", res.Outcomes[0].UserID)
	assert.Equal(t, []string{"tok-budi"}, sender.tokens())

	records := store.Calls[2].Arguments.Get(1).([]Record)
	require.Len(t, records, 1)
	assert.Equal(t, "u2", records[0].UserID)

	body := toJSON(t, res)
	assert.Equal(t, "Reminders processed", body["message"])
	assert.EqualValues(t, 1, body["count"])
}

func TestRun_OneRecordPerProfileOnePushPerDevice(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "Rina", Token: "phone"},
		{UserID: "u1", FullName: "Rina", Token: "tablet"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	assert.True(t, res.Recorded)
	assert.Equal(t, 2, res.Count())
	assert.Equal(t, []string{"phone", "tablet"}, sender.tokens())

	store.AssertNumberOfCalls(t, "InsertNotifications", 1)
	records := store.Calls[2].Arguments.Get(1).([]Record)
	require.Len(t, records, 1)
	assert.Equal(t, Record{
		UserID: "u1",
		Title:  catalog[0].Title,
		Body:   "Dompet Rina nangis diem-diem nih. Catet pengeluaran dulu yuk biar ga boncos!",
		Type:   "REMINDER",
		Data:   map[string]string{"route": "/add-transaction"},
	}, records[0])

	// Both devices get the recorded message.
	for _, m := range sender.sent {
		assert.Equal(t, records[0].Title, m.Notification.Title)
		assert.Equal(t, records[0].Body, m.Notification.Body)
	}
}

func TestRun_AuthorizationFailureAbortsBeforeQueries(t *testing.T) {
	store := &mockStore{}
	pusher := &mockPusher{}
	pusher.On("Authorize", mock.Anything).Return(nil, errors.New("invalid_grant"))

	res := newTestDispatcher(store, pusher, Options{}).Run(context.Background(), evening)

	require.Equal(t, KindFailed, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageAuthorize, se.Stage)

	body := toJSON(t, res)
	assert.Equal(t, "authorize: invalid_grant", body["error"])
	assert.Contains(t, body["stack"], "stage: authorize")
	assert.NotContains(t, body, "message")

	store.AssertNotCalled(t, "ScheduledAt", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertNotifications", mock.Anything, mock.Anything)
}

func TestRun_InsertFailureDoesNotBlockDelivery(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "Rina", Token: "tok-1"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(errors.New("relation \"notifications\" does not exist"))

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	assert.False(t, res.Recorded)
	assert.Equal(t, 1, res.Count())
	assert.Equal(t, http.StatusOK, res.Outcomes[0].Status)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "does not exist")
	assert.NotContains(t, string(raw), "error")
}

func TestRun_FallbackNameWhenProfileHasNone(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "", Token: "tok-1"},
		{UserID: "u2", FullName: "   ", Token: "tok-2"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1", "u2"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	require.Len(t, sender.sent, 2)
	for _, m := range sender.sent {
		assert.Contains(t, m.Notification.Body, "Dompet Bestie nangis")
	}
}

func TestRun_AllUsersAlreadyTransacted(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", Token: "a"},
		{UserID: "u1", Token: "b"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return([]string{"u1"}, nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	assert.Equal(t, KindAllActive, res.Kind)
	assert.Equal(t, map[string]any{"message": "Selected users have already transacted."}, toJSON(t, res))
	store.AssertNotCalled(t, "InsertNotifications", mock.Anything, mock.Anything)
	assert.Empty(t, sender.tokens())
}

func TestRun_AudienceQueryFailureIsFatal(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return(nil, errors.New("connection refused"))

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindFailed, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageAudience, se.Stage)
	assert.Empty(t, sender.tokens())
}

func TestRun_SuppressionQueryFailureIsFatal(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", Token: "a"}}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, errors.New("timeout"))

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindFailed, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageSuppress, se.Stage)
	store.AssertNotCalled(t, "InsertNotifications", mock.Anything, mock.Anything)
	assert.Empty(t, sender.tokens())
}

func TestRun_DeviceFailureDoesNotAbortOthers(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	sender.errs["broken"] = errors.New("connection reset by peer")
	sender.status["stale"] = http.StatusNotFound
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "Rina", Token: "broken"},
		{UserID: "u1", FullName: "Rina", Token: "stale"},
		{UserID: "u2", FullName: "Budi", Token: "good"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1", "u2"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	require.Equal(t, 3, res.Count())
	assert.Equal(t, 0, res.Outcomes[0].Status)
	assert.JSONEq(t, `{"error":"connection reset by peer"}`, string(res.Outcomes[0].Data))
	assert.Equal(t, http.StatusNotFound, res.Outcomes[1].Status)
	assert.Equal(t, http.StatusOK, res.Outcomes[2].Status)
	assert.Equal(t, 1, res.Delivered())
}

func TestRun_PushPayload(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", FullName: "Rina", Token: "tok"}}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	newTestDispatcher(store, authorized(sender), Options{}).Run(context.Background(), evening)

	require.Len(t, sender.sent, 1)
	m := sender.sent[0]
	assert.Equal(t, "tok", m.Token)
	assert.Equal(t, "high", m.Android.Priority)
	assert.Equal(t, "reminder_channel", m.Android.Notification.ChannelID)
	assert.Equal(t, map[string]string{"route": "/add-transaction", "category": "reminder"}, m.Data)
}

func TestRun_NotIdempotentWithinMinute(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", FullName: "Rina", Token: "tok"}}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)
	pusher := authorized(sender)

	d := newTestDispatcher(store, pusher, Options{})
	first := d.Run(context.Background(), evening)
	second := d.Run(context.Background(), evening.Add(20*time.Second))

	assert.Equal(t, KindProcessed, first.Kind)
	assert.Equal(t, KindProcessed, second.Kind)
	store.AssertNumberOfCalls(t, "InsertNotifications", 2)
	assert.Equal(t, []string{"tok", "tok"}, sender.tokens())
	pusher.AssertNumberOfCalls(t, "Authorize", 2)
}

type onceGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *onceGuard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

func (g *onceGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
}

func TestRun_GuardSkipsRepeatedMinute(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", Token: "tok"}}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	d := newTestDispatcher(store, authorized(sender), Options{Guard: &onceGuard{seen: map[string]bool{}}})
	first := d.Run(context.Background(), evening)
	second := d.Run(context.Background(), evening)

	assert.Equal(t, KindProcessed, first.Kind)
	assert.Equal(t, KindDuplicate, second.Kind)
	assert.Equal(t, map[string]any{"message": "Reminders for 20:30:00 WIB already dispatched"}, toJSON(t, second))
	store.AssertNumberOfCalls(t, "ScheduledAt", 1)
	assert.Len(t, sender.tokens(), 1)
}

func TestRun_GuardFreesMinuteAfterFailedRun(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return(nil, errors.New("connection refused")).Once()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", FullName: "Rina", Token: "tok"}}, nil).Once()
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	guard := cache.New(cache.DefaultTTL)
	d := newTestDispatcher(store, authorized(sender), Options{Guard: guard})

	first := d.Run(context.Background(), evening)
	retry := d.Run(context.Background(), evening)
	again := d.Run(context.Background(), evening)

	assert.Equal(t, KindFailed, first.Kind)
	assert.Equal(t, KindProcessed, retry.Kind)
	assert.Equal(t, KindDuplicate, again.Kind, "a delivered minute stays claimed")
	assert.Equal(t, []string{"tok"}, sender.tokens())
}

func TestRun_GuardFreesMinuteOnEveryPreDeliveryFailure(t *testing.T) {
	devices := []Device{{UserID: "u1", Token: "tok"}}

	tests := []struct {
		name  string
		store func() Store
		opts  Options
	}{
		{
			name: "suppression query",
			store: func() Store {
				s := &mockStore{}
				s.On("ScheduledAt", mock.Anything, "20:30:00").Return(devices, nil)
				s.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, errors.New("timeout"))
				return s
			},
		},
		{
			name: "deadline before delivery",
			store: func() Store {
				s := &mockStore{}
				s.On("ScheduledAt", mock.Anything, "20:30:00").Return(devices, nil)
				s.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
				s.On("InsertNotifications", mock.Anything, mock.Anything).
					Run(func(mock.Arguments) { time.Sleep(30 * time.Millisecond) }).
					Return(nil)
				return s
			},
			opts: Options{Timeout: 10 * time.Millisecond},
		},
		{
			name:  "panic",
			store: func() Store { return &panickingStore{} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := cache.New(cache.DefaultTTL)
			opts := tt.opts
			opts.Guard = guard

			res := newTestDispatcher(tt.store(), authorized(newFakeSender()), opts).Run(context.Background(), evening)

			require.Equal(t, KindFailed, res.Kind)
			assert.True(t, guard.Claim("2025-12-16T20:30:00"), "failed minute must be claimable again")
		})
	}
}

func TestRun_GuardKeepsMinuteWhenNothingToSend(t *testing.T) {
	store := &mockStore{}
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return(nil, nil)

	guard := cache.New(cache.DefaultTTL)
	res := newTestDispatcher(store, authorized(newFakeSender()), Options{Guard: guard}).Run(context.Background(), evening)

	assert.Equal(t, KindNoUsers, res.Kind)
	assert.False(t, guard.Claim("2025-12-16T20:30:00"))
}

func TestRun_ConcurrentDeliveryKeepsEveryOutcome(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	var devices []Device
	for i := range 25 {
		id := string(rune('a' + i))
		devices = append(devices, Device{UserID: "u-" + id, FullName: "User " + id, Token: "tok-" + id})
	}
	sender.errs["tok-c"] = errors.New("boom")
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return(devices, nil)
	store.On("ActiveOn", mock.Anything, mock.Anything, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{Workers: 4}).Run(context.Background(), evening)

	require.Equal(t, KindProcessed, res.Kind)
	require.Equal(t, len(devices), res.Count())
	for i, o := range res.Outcomes {
		assert.Equal(t, devices[i].UserID, o.UserID)
	}
	assert.Equal(t, 0, res.Outcomes[2].Status)
	assert.Len(t, sender.tokens(), len(devices))
}

type panickingStore struct{ mockStore }

func (p *panickingStore) ScheduledAt(context.Context, string) ([]Device, error) {
	panic("nil map write")
}

func TestRun_PanicBecomesCriticalError(t *testing.T) {
	res := newTestDispatcher(&panickingStore{}, authorized(newFakeSender()), Options{}).Run(context.Background(), evening)

	require.Equal(t, KindFailed, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StagePanic, se.Stage)
	assert.Contains(t, res.Stack, "goroutine")
}

func TestRun_DeadlineBeforeDeliveryIsFatal(t *testing.T) {
	store := &mockStore{}
	sender := newFakeSender()
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{{UserID: "u1", Token: "tok"}}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1"}, dayStart, dayEnd).Return(nil, nil)
	store.On("InsertNotifications", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(30 * time.Millisecond) }).
		Return(nil)

	res := newTestDispatcher(store, authorized(sender), Options{Timeout: 10 * time.Millisecond}).Run(context.Background(), evening)

	require.Equal(t, KindFailed, res.Kind)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Empty(t, sender.tokens())
}

func TestPlan_DoesNotAuthorizeOrWrite(t *testing.T) {
	store := &mockStore{}
	pusher := &mockPusher{}
	store.On("ScheduledAt", mock.Anything, "20:30:00").Return([]Device{
		{UserID: "u1", FullName: "Rina", Token: "a"},
		{UserID: "u2", FullName: "", Token: "b"},
	}, nil)
	store.On("ActiveOn", mock.Anything, []string{"u1", "u2"}, dayStart, dayEnd).Return([]string{"u1"}, nil)

	plan, err := newTestDispatcher(store, pusher, Options{}).Plan(context.Background(), evening)
	require.NoError(t, err)

	assert.Len(t, plan.Scheduled, 2)
	assert.Equal(t, []string{"u1"}, plan.Active)
	assert.Equal(t, []Candidate{{UserID: "u2", Token: "b", Name: "Bestie"}}, plan.Candidates)
	pusher.AssertNotCalled(t, "Authorize", mock.Anything)
	store.AssertNotCalled(t, "InsertNotifications", mock.Anything, mock.Anything)
}
