// Package notification classifies inbound hub frames and polled deposits,
// deduplicates them per channel and fans alerts out to the sink.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/goroutine"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

const notificationMethod = "Notification"

// withdrawalHints only feed debug logging for payloads that fail the
// discriminator; they never trigger an alert.
var withdrawalHints = [][]byte{[]byte("withdraw"), []byte("çekim"), []byte("cekim")}

type RouterConfig struct {
	// DepositRecency bounds how old a polled deposit may be and still alert.
	DepositRecency  time.Duration
	NewStateNames   []string
	DispatchTimeout time.Duration
}

type RouterDeps struct {
	Withdrawals  ProcessedIDSet
	Deposits     ProcessedIDSet
	Sink         Sink
	Destinations *Destinations
	History      *History
	Formatter    *Formatter
	// Repository is optional.
	Repository Repository
	// Metrics is optional.
	Metrics Metrics
}

// Stats counts router outcomes since start.
type Stats struct {
	Emitted     map[string]uint64 `json:"emitted"`
	Duplicates  uint64            `json:"duplicates"`
	Suppressed  uint64            `json:"suppressed"`
	Stale       uint64            `json:"stale"`
	ParseErrors uint64            `json:"parse_errors"`
	LastFrameAt time.Time         `json:"last_frame_at"`
}

// Router is the single entry point for both channels. HandleFrame runs on
// the receive loop and HandleDeposits on the poll job; neither blocks on
// delivery.
type Router struct {
	cfg       RouterConfig
	deps      RouterDeps
	newStates map[string]struct{}
	liveness  atomic.Pointer[livenessHolder]
	log       logger.Interface
	now       func() time.Time

	emittedWithdrawals atomic.Uint64
	emittedDeposits    atomic.Uint64
	duplicates         atomic.Uint64
	suppressed         atomic.Uint64
	stale              atomic.Uint64
	parseErrors        atomic.Uint64
	lastFrameAt        atomic.Int64

	inflight sync.WaitGroup
}

type livenessHolder struct {
	rec LivenessRecorder
}

func NewRouter(cfg RouterConfig, deps RouterDeps, log logger.Interface) *Router {
	if cfg.DepositRecency <= 0 {
		cfg.DepositRecency = 10 * time.Minute
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if len(cfg.NewStateNames) == 0 {
		cfg.NewStateNames = []string{"Yeni", "New"}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.History == nil {
		deps.History = NewHistory(100)
	}
	if deps.Formatter == nil {
		deps.Formatter = NewFormatter("tr")
	}
	if deps.Destinations == nil {
		deps.Destinations = NewDestinations(nil)
	}

	states := make(map[string]struct{}, len(cfg.NewStateNames))
	for _, s := range cfg.NewStateNames {
		states[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	return &Router{
		cfg:       cfg,
		deps:      deps,
		newStates: states,
		log:       log.Named("router"),
		now:       time.Now,
	}
}

// BindLiveness sets who is told about keep-alive frames. The connection
// manager is built after the router, so this is wired late.
func (r *Router) BindLiveness(l LivenessRecorder) {
	r.liveness.Store(&livenessHolder{rec: l})
}

func (r *Router) markAlive() {
	if h := r.liveness.Load(); h != nil && h.rec != nil {
		h.rec.MarkAlive()
	}
}

// HandleFrame classifies one inbound frame. It never panics and never
// returns an error; malformed input is logged and dropped.
func (r *Router) HandleFrame(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.parseErrors.Add(1)
			r.log.Errorw("frame handling panicked", "panic", fmt.Sprintf("%v", rec), "frame", logutil.TruncateForLog(string(raw), 300))
		}
	}()

	r.lastFrameAt.Store(r.now().UnixNano())

	if signalr.IsKeepAlive(raw) {
		r.markAlive()
		return
	}

	frame, err := signalr.ParseFrame(raw)
	if err != nil {
		r.invalid(notification.ChannelWithdrawal, "unparseable frame", err, raw)
		return
	}
	if frame.IsInvocationResult() {
		r.markAlive()
	}

	ctx := context.Background()
	for i := range frame.Messages {
		msg := &frame.Messages[i]
		if !strings.EqualFold(msg.Method, notificationMethod) {
			r.log.Debugw("ignoring hub method", "hub", msg.Hub, "method", msg.Method)
			continue
		}
		for j := range msg.Arguments {
			r.handleArgument(ctx, &msg.Arguments[j])
		}
	}
}

func (r *Router) handleArgument(ctx context.Context, arg *signalr.Argument) {
	var ev notification.HubEvent
	if err := arg.Decode(&ev); err != nil {
		r.invalid(notification.ChannelWithdrawal, "undecodable notification argument", err, arg.Payload)
		return
	}

	if !ev.IsWithdrawalRequest() {
		r.deps.Metrics.IncNotification(string(notification.ChannelWithdrawal), OutcomeIgnored)
		if looksLikeWithdrawal(arg.Payload) {
			r.log.Debugw("withdrawal-like payload did not match discriminator",
				"type", ev.Type,
				"operation_type", ev.OperationType,
				"payload", logutil.TruncateForLog(string(arg.Payload), 300),
			)
		}
		return
	}

	var obj notification.WithdrawalObject
	if err := json.Unmarshal(ev.Object, &obj); err != nil {
		r.invalid(notification.ChannelWithdrawal, "undecodable withdrawal object", err, ev.Object)
		return
	}
	if obj.ID == "" {
		r.invalid(notification.ChannelWithdrawal, "withdrawal object without id", nil, ev.Object)
		return
	}

	if !obj.State.Present {
		r.invalid(notification.ChannelWithdrawal, "withdrawal object without state", nil, ev.Object)
		return
	}
	if !obj.State.Is(notification.StateNew) {
		r.suppressed.Add(1)
		r.deps.Metrics.IncNotification(string(notification.ChannelWithdrawal), OutcomeState)
		r.log.Infow("withdrawal state change, not notifying", "id", string(obj.ID), "state", obj.State.Value)
		return
	}

	rec := notification.Record{
		Channel:       notification.ChannelWithdrawal,
		ExternalID:    string(obj.ID),
		Amount:        obj.Amount,
		Currency:      string(obj.CurrencyID),
		ClientID:      string(obj.ClientID),
		ClientName:    obj.ClientName(),
		ClientLogin:   obj.ClientLogin,
		PaymentSystem: obj.PaymentSystemName,
		AccountHolder: obj.AccountHolder,
		IBAN:          notification.ExtractIBAN(obj.Info),
		BTag:          obj.BTag,
		Note:          obj.Info,
		State:         obj.State.Value,
		ReceivedAt:    r.now().UTC(),
		Raw:           append(json.RawMessage(nil), ev.Object...),
	}
	if ts := obj.RequestTimestamp(); ts != "" {
		if t, err := biztime.ParseProviderTime(ts); err == nil {
			rec.RequestedAt = t
		}
	}

	r.emit(ctx, r.deps.Withdrawals, &rec)
}

// HandleDeposits runs the deposit rows of one poll through the state filter,
// the recency window relative to pollTime and the deposit id set. It returns
// how many alerts were emitted.
func (r *Router) HandleDeposits(ctx context.Context, pollTime time.Time, objects []notification.DepositObject) int {
	emitted := 0
	for i := range objects {
		obj := &objects[i]
		if r.handleDeposit(ctx, pollTime, obj) {
			emitted++
		}
	}
	return emitted
}

func (r *Router) handleDeposit(ctx context.Context, pollTime time.Time, obj *notification.DepositObject) bool {
	channel := string(notification.ChannelDeposit)

	if obj.ID == "" {
		r.invalid(notification.ChannelDeposit, "deposit without id", nil, obj.Raw)
		return false
	}
	if _, ok := r.newStates[strings.ToLower(strings.TrimSpace(obj.StateName))]; !ok {
		r.suppressed.Add(1)
		r.deps.Metrics.IncNotification(channel, OutcomeState)
		return false
	}

	requested, err := biztime.ParseProviderTime(obj.RequestTimestamp())
	if err != nil {
		r.invalid(notification.ChannelDeposit, "deposit request time", err, obj.Raw)
		return false
	}
	age := pollTime.Sub(requested)
	if age > r.cfg.DepositRecency || age < -r.cfg.DepositRecency {
		r.stale.Add(1)
		r.deps.Metrics.IncNotification(channel, OutcomeStale)
		r.log.Debugw("deposit outside recency window", "id", string(obj.ID), "age", age.Round(time.Second).String())
		return false
	}

	rec := notification.Record{
		Channel:       notification.ChannelDeposit,
		ExternalID:    string(obj.ID),
		Amount:        obj.Amount,
		Currency:      string(obj.CurrencyID),
		ClientID:      string(obj.ClientID),
		ClientName:    strings.TrimSpace(obj.ClientName),
		ClientLogin:   obj.ClientLogin,
		PaymentSystem: obj.PaymentSystemName,
		IBAN:          notification.ExtractIBAN(obj.Info),
		BTag:          obj.BTag,
		Note:          obj.Info,
		State:         obj.State.Value,
		StateName:     obj.StateName,
		RequestedAt:   requested,
		ReceivedAt:    r.now().UTC(),
		Raw:           obj.Raw,
	}
	return r.emit(ctx, r.deps.Deposits, &rec)
}

// emit dedups, records and dispatches. A dedup store error fails open: an
// extra alert is preferred over a missed one.
func (r *Router) emit(ctx context.Context, ids ProcessedIDSet, rec *notification.Record) bool {
	channel := string(rec.Channel)

	isNew, err := ids.MarkIfNew(ctx, rec.ExternalID)
	if err != nil {
		r.log.Warnw("processed-id lookup failed, notifying anyway", "channel", channel, "id", rec.ExternalID, "error", err)
		isNew = true
	}
	if !isNew {
		r.duplicates.Add(1)
		r.deps.Metrics.IncNotification(channel, OutcomeDuplicate)
		r.log.Debugw("duplicate notification dropped", "channel", channel, "id", rec.ExternalID)
		return false
	}

	rec.Message = r.deps.Formatter.Format(rec)
	r.deps.History.Add(*rec)
	r.deps.Metrics.IncNotification(channel, OutcomeEmitted)
	if rec.Channel == notification.ChannelDeposit {
		r.emittedDeposits.Add(1)
	} else {
		r.emittedWithdrawals.Add(1)
	}

	r.log.Infow("notification emitted",
		"channel", channel,
		"id", rec.ExternalID,
		"amount", rec.Amount.String(),
		"currency", rec.Currency,
	)
	r.dispatch(*rec)
	return true
}

func (r *Router) dispatch(rec notification.Record) {
	destinations := r.deps.Destinations.List()

	r.inflight.Add(1)
	goroutine.SafeGo(r.log, "notification-dispatch", func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DispatchTimeout)
		defer cancel()

		switch {
		case len(destinations) == 0:
			r.log.Warnw("no destinations configured, alert not delivered", "channel", string(rec.Channel), "id", rec.ExternalID)
		case r.deps.Sink == nil:
			r.log.Warnw("no sink configured, alert not delivered", "channel", string(rec.Channel), "id", rec.ExternalID)
		default:
			if err := r.deps.Sink.Send(ctx, destinations, rec.Message); err != nil {
				r.deps.Metrics.IncDispatch("failure")
				r.log.Warnw("alert delivery failed", "channel", string(rec.Channel), "id", rec.ExternalID, "error", err)
			} else {
				r.deps.Metrics.IncDispatch("success")
			}
		}

		if r.deps.Repository != nil {
			if err := r.deps.Repository.Save(ctx, &rec); err != nil {
				r.log.Warnw("failed to persist notification", "channel", string(rec.Channel), "id", rec.ExternalID, "error", err)
			}
		}
	})
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) History() *History {
	return r.deps.History
}

func (r *Router) Stats() Stats {
	var last time.Time
	if ns := r.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Stats{
		Emitted: map[string]uint64{
			string(notification.ChannelWithdrawal): r.emittedWithdrawals.Load(),
			string(notification.ChannelDeposit):    r.emittedDeposits.Load(),
		},
		Duplicates:  r.duplicates.Load(),
		Suppressed:  r.suppressed.Load(),
		Stale:       r.stale.Load(),
		ParseErrors: r.parseErrors.Load(),
		LastFrameAt: last,
	}
}

func (r *Router) invalid(ch notification.Channel, what string, err error, payload []byte) {
	r.parseErrors.Add(1)
	r.deps.Metrics.IncNotification(string(ch), OutcomeInvalid)
	r.log.Warnw("dropping malformed input",
		"channel", string(ch),
		"reason", what,
		"error", err,
		"payload", logutil.TruncateForLog(string(payload), 300),
	)
}

func looksLikeWithdrawal(payload []byte) bool {
	lower := bytes.ToLower(payload)
	for _, hint := range withdrawalHints {
		if bytes.Contains(lower, hint) {
			return true
		}
	}
	return false
}
