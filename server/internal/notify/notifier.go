package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Channel identifies one notification transport.
type Channel string

const (
	ChannelLog   Channel = "log"
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelSMS   Channel = "sms"
)

// Channels lists every known channel in dispatch order.
var Channels = []Channel{ChannelLog, ChannelEmail, ChannelSlack, ChannelSMS}

// ParseChannel maps a config identifier to a Channel.
func ParseChannel(s string) (Channel, bool) {
	for _, ch := range Channels {
		if string(ch) == s {
			return ch, true
		}
	}
	return "", false
}

// ErrSkipped is returned by a Notifier that had nothing to do: the channel is
// disabled or its configuration lacks recipients or credentials.
var ErrSkipped = errors.New("notify: channel skipped")

// Alarm is the payload handed to every notifier. It is a snapshot; notifiers
// must not assume it reflects the current alarm state.
type Alarm struct {
	ID          string
	RuleName    string
	Tag         string
	Priority    string
	Message     string
	Condition   string
	Value       any
	Status      string
	TriggeredAt time.Time
	ClearedAt   *time.Time
}

// Notifier sends one alarm over one transport.
type Notifier interface {
	Send(ctx context.Context, a Alarm) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, a Alarm) error

func (f NotifierFunc) Send(ctx context.Context, a Alarm) error { return f(ctx, a) }

// Result is the outcome of one channel within a dispatch.
type Result struct {
	Channel Channel
	Err     error
}

// Skipped reports whether the channel had nothing to send.
func (r Result) Skipped() bool { return errors.Is(r.Err, ErrSkipped) }

// Failed reports whether the channel tried to send and failed.
func (r Result) Failed() bool { return r.Err != nil && !r.Skipped() }

// Observer receives one call per channel outcome. result is one of
// "success", "failure" or "skipped".
type Observer interface {
	ObserveNotification(channel, result string)
}

// Dispatcher routes alarms to the notifiers registered for each channel.
// Register all notifiers before the first Dispatch; Dispatch itself is safe
// for concurrent use.
type Dispatcher struct {
	notifiers map[Channel]Notifier
	observer  Observer
	timeout   time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver reports every channel outcome to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithTimeout bounds each channel send separately, so one stuck transport
// cannot eat the budget of the channels after it. Transports apply their own
// timeouts as well; zero disables the outer bound.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher returns a Dispatcher with only the log channel registered.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifiers: map[Channel]Notifier{ChannelLog: LogNotifier{}},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds n to ch, replacing any previous notifier.
func (d *Dispatcher) Register(ch Channel, n Notifier) {
	d.notifiers[ch] = n
}

// Dispatch sends a to every channel in channels, in order, skipping
// duplicates. Failures are logged and returned; they never abort the loop.
// The dispatcher timeout applies to each channel separately.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alarm, channels []Channel) []Result {
	seen := make(map[Channel]bool, len(channels))
	results := make([]Result, 0, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		res := Result{Channel: ch}
		n, ok := d.notifiers[ch]
		if !ok {
			res.Err = fmt.Errorf("%w: %s not configured", ErrSkipped, ch)
		} else {
			res.Err = d.sendWithTimeout(ctx, n, a)
		}
		d.record(a, res)
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) sendWithTimeout(ctx context.Context, n Notifier, a Alarm) error {
	if d.timeout <= 0 {
		return send(ctx, n, a)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return send(ctx, n, a)
}

func (d *Dispatcher) record(a Alarm, res Result) {
	outcome := "success"
	switch {
	case res.Skipped():
		outcome = "skipped"
		slog.Debug("notify: channel skipped",
			"channel", res.Channel,
			"rule", a.RuleName,
			"tag", a.Tag,
			"reason", res.Err,
		)
	case res.Err != nil:
		outcome = "failure"
		slog.Error("notify: delivery failed",
			"channel", res.Channel,
			"rule", a.RuleName,
			"tag", a.Tag,
			"err", res.Err,
		)
	default:
		slog.Info("notify: delivered",
			"channel", res.Channel,
			"rule", a.RuleName,
			"tag", a.Tag,
			"status", a.Status,
		)
	}
	if d.observer != nil {
		d.observer.ObserveNotification(string(res.Channel), outcome)
	}
}

// send calls n.Send and turns a panic inside a notifier into an error.
func send(ctx context.Context, n Notifier, a Alarm) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Send(ctx, a)
}

// LogNotifier satisfies the log channel. The engine writes the trigger and
// clear lines itself, so there is nothing left to send here.
type LogNotifier struct{}

func (LogNotifier) Send(context.Context, Alarm) error { return nil }

// summary renders the single-line form used by SMS.
func summary(a Alarm) string {
	return fmt.Sprintf("[%s] %s: %s=%v %s. %s", a.Priority, a.RuleName, a.Tag, a.Value, a.Condition, a.Message)
}
