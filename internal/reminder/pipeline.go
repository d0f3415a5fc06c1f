package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
)

// Guard claims a minute key. Claim returns false if the key was already
// claimed. Release gives up a claim so a retry of the same minute can run.
type Guard interface {
	Claim(key string) bool
	Release(key string)
}

// Options configures a Dispatcher. Zero values fall back to defaults.
type Options struct {
	Clock        Clock
	FallbackName string
	Workers      int           // concurrent deliveries, 1 = sequential
	Timeout      time.Duration // overall run deadline, 0 = none
	Guard        Guard         // nil = at-least-once per trigger
	Pick         func(n int) int
}

// Dispatcher runs the reminder pipeline.
type Dispatcher struct {
	store    Store
	pusher   Pusher
	clock    Clock
	composer *Composer
	fallback string
	workers  int
	timeout  time.Duration
	guard    Guard
	logger   *slog.Logger
}

// NewDispatcher wires the pipeline stages.
func NewDispatcher(store Store, pusher Pusher, opts Options, logger *slog.Logger) *Dispatcher {
	clock := opts.Clock
	if clock.Zone == "" {
		clock = NewClock(clock.Offset, DefaultZone)
	}
	fallback := opts.FallbackName
	if fallback == "" {
		fallback = DefaultFallbackName
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		store:    store,
		pusher:   pusher,
		clock:    clock,
		composer: NewComposer(opts.Pick),
		fallback: fallback,
		workers:  workers,
		timeout:  opts.Timeout,
		guard:    opts.Guard,
		logger:   logger,
	}
}

// Plan is the audience for one minute after suppression.
type Plan struct {
	Window     Window
	Scheduled  []Candidate // every device matching the time label
	Active     []string    // profile ids suppressed for the date
	Candidates []Candidate // devices that will be notified
}

// Plan resolves now and selects the audience without writing or pushing.
func (d *Dispatcher) Plan(ctx context.Context, now time.Time) (*Plan, error) {
	return d.plan(ctx, d.clock.Resolve(now), d.logger)
}

// Run executes one invocation for the instant now. It is the single error
// boundary: every abort, including a panic, comes back as a KindFailed
// result rather than an error.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (res Result) {
	win := d.clock.Resolve(now)
	log := d.logger.With("run_id", ulid.Make().String(), "time_label", win.TimeLabel)

	defer func() {
		if p := recover(); p != nil {
			err := stageErr(StagePanic, fmt.Errorf("%v", p))
			log.Error("CRITICAL ERROR", "error", err)
			res = Failed(win, err, string(debug.Stack()))
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := d.run(ctx, win, log)
	if err != nil {
		log.Error("CRITICAL ERROR", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return Failed(win, err, "")
	}
	log.Info("Run complete",
		"kind", res.Kind.String(),
		"count", res.Count(),
		"delivered", res.Delivered(),
		"duration", time.Since(start).Round(time.Millisecond))
	return res
}

func (d *Dispatcher) run(ctx context.Context, win Window, log *slog.Logger) (Result, error) {
	// 1. One token exchange per run, before any store access
	sender, err := d.pusher.Authorize(ctx)
	if err != nil {
		return Result{}, stageErr(StageAuthorize, err)
	}

	log.Info("Running check", "zone", win.Zone, "date", win.DateLabel)

	// settled is set once the run has either finished without work or
	// started delivery. Any other exit, including a panic, frees the minute.
	settled := false
	if d.guard != nil {
		key := win.Key()
		if !d.guard.Claim(key) {
			log.Warn("Minute already dispatched, skipping", "key", key)
			return Result{Kind: KindDuplicate, Window: win}, nil
		}
		defer func() {
			if !settled {
				d.guard.Release(key)
				log.Warn("Minute released after failed run", "key", key)
			}
		}()
	}

	// 2. Audience and suppression
	plan, err := d.plan(ctx, win, log)
	if err != nil {
		return Result{}, err
	}
	if len(plan.Scheduled) == 0 {
		settled = true
		return Result{Kind: KindNoUsers, Window: win}, nil
	}
	if len(plan.Candidates) == 0 {
		settled = true
		return Result{Kind: KindAllActive, Window: win}, nil
	}

	// 3. Compose and record
	targets, records := d.compose(plan.Candidates)
	recorded := d.record(ctx, records, log)

	if err := ctx.Err(); err != nil {
		return Result{}, stageErr(StageDeliver, err)
	}

	// 4. Push
	settled = true
	outcomes := d.deliver(ctx, sender, targets, log)

	return Result{
		Kind:     KindProcessed,
		Window:   win,
		Outcomes: outcomes,
		Recorded: recorded,
	}, nil
}

func (d *Dispatcher) plan(ctx context.Context, win Window, log *slog.Logger) (*Plan, error) {
	plan := &Plan{Window: win}

	devices, err := d.store.ScheduledAt(ctx, win.TimeLabel)
	if err != nil {
		return nil, stageErr(StageAudience, err)
	}
	if len(devices) == 0 {
		log.Info("No users scheduled", "zone", win.Zone)
		return plan, nil
	}
	plan.Scheduled = candidates(devices, d.fallback)

	ids := userIDs(plan.Scheduled)
	log.Info("Found scheduled users", "users", len(ids), "devices", len(plan.Scheduled))

	active, err := d.store.ActiveOn(ctx, ids, win.DayStart(), win.DayEnd())
	if err != nil {
		return nil, stageErr(StageSuppress, err)
	}
	plan.Active = active
	plan.Candidates = suppress(plan.Scheduled, active)

	log.Info("Suppression applied",
		"active_users", len(active),
		"remaining_devices", len(plan.Candidates))
	return plan, nil
}
