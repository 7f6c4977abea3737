package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

type memorySet struct {
	mu   sync.Mutex
	seen map[string]struct{}
	err  error
}

func newMemorySet() *memorySet { return &memorySet{seen: map[string]struct{}{}} }

func (s *memorySet) MarkIfNew(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = struct{}{}
	return true, nil
}

type sentMessage struct {
	destinations []string
	text         string
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSink) Send(_ context.Context, destinations []string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{destinations: destinations, text: text})
	return f.err
}

func (f *fakeSink) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeRepo struct {
	mu    sync.Mutex
	saved []notification.Record
}

func (f *fakeRepo) Save(_ context.Context, rec *notification.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *rec)
	return nil
}

type countingLiveness struct {
	mu    sync.Mutex
	marks int
}

func (c *countingLiveness) MarkAlive() {
	c.mu.Lock()
	c.marks++
	c.mu.Unlock()
}

type routerFixture struct {
	router      *Router
	sink        *fakeSink
	repo        *fakeRepo
	withdrawals *memorySet
	deposits    *memorySet
	liveness    *countingLiveness
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	require.NoError(t, biztime.Init("Europe/Istanbul"))

	f := &routerFixture{
		sink:        &fakeSink{},
		repo:        &fakeRepo{},
		withdrawals: newMemorySet(),
		deposits:    newMemorySet(),
		liveness:    &countingLiveness{},
	}
	f.router = NewRouter(RouterConfig{DepositRecency: 10 * time.Minute}, RouterDeps{
		Withdrawals:  f.withdrawals,
		Deposits:     f.deposits,
		Sink:         f.sink,
		Destinations: NewDestinations([]string{"-1001", "-1002"}),
		History:      NewHistory(100),
		Formatter:    NewFormatter("tr"),
		Repository:   f.repo,
	}, logger.NewNop())
	f.router.BindLiveness(f.liveness)
	return f
}

// deliver feeds frames and waits for async dispatch.
func (f *routerFixture) deliver(t *testing.T, frames ...string) {
	t.Helper()
	for _, fr := range frames {
		f.router.HandleFrame([]byte(fr))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.router.Wait(ctx))
}

func withdrawalFrame(id int, state int) string {
	inner := fmt.Sprintf(`{"Type":3,"OperationType":1,"Object":{"Id":%d,"Amount":100,"State":%d,"ClientFirstName":"Ali","ClientLastName":"Veli","ClientLogin":"ali42","CurrencyId":"TRY","Info":"TR33 0006 1005 1978 6457 8413 26"}}`, id, state)
	return fmt.Sprintf(`{"M":[{"H":"commonnotificationhub","M":"Notification","A":[%s]}]}`, strconv.Quote(inner))
}

func TestRouter_NewWithdrawalEmitsOnce(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t, withdrawalFrame(555, 0))

	sent := f.sink.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"-1001", "-1002"}, sent[0].destinations)
	assert.Contains(t, sent[0].text, "Yeni Çekim Talebi")
	assert.Contains(t, sent[0].text, "555")
	assert.Contains(t, sent[0].text, "TR330006100519786457841326")

	recent := f.router.History().Recent(notification.ChannelWithdrawal, 10)
	require.Len(t, recent, 1)
	assert.Equal(t, "555", recent[0].ExternalID)
	assert.True(t, decimal.NewFromInt(100).Equal(recent[0].Amount))

	f.repo.mu.Lock()
	assert.Len(t, f.repo.saved, 1)
	f.repo.mu.Unlock()
}

func TestRouter_DuplicateWithdrawalIsDropped(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t, withdrawalFrame(555, 0), withdrawalFrame(555, 0))

	assert.Len(t, f.sink.messages(), 1)
	assert.Equal(t, uint64(1), f.router.Stats().Duplicates)
}

func TestRouter_NonNewStatesNeverNotify(t *testing.T) {
	for _, state := range []int{1, 2, 3, 4, -1} {
		t.Run(strconv.Itoa(state), func(t *testing.T) {
			f := newRouterFixture(t)

			f.deliver(t, withdrawalFrame(700+state, state))

			assert.Empty(t, f.sink.messages())
			assert.Zero(t, f.router.History().Len())
			// A suppressed state change must not consume the id.
			assert.Empty(t, f.withdrawals.seen)
		})
	}
}

func TestRouter_StateChangeThenNewStillNotifies(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t, withdrawalFrame(9, 1), withdrawalFrame(9, 0))

	assert.Len(t, f.sink.messages(), 1)
}

func TestRouter_ObjectArgumentMatches(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t, `{"M":[{"H":"commonnotificationhub","M":"notification","A":[{"Type":3,"OperationType":1,"Object":{"Id":"77","Amount":"50.5","State":0}}]}]}`)

	require.Len(t, f.sink.messages(), 1)
	assert.Contains(t, f.sink.messages()[0].text, "50,50")
}

func TestRouter_WithdrawalStateEncodings(t *testing.T) {
	cases := []struct {
		name        string
		object      string
		wantSent    int
		wantInvalid uint64
	}{
		{"missing state", `{"Id":777,"Amount":100}`, 0, 1},
		{"null state", `{"Id":778,"Amount":100,"State":null}`, 0, 1},
		{"string new state", `{"Id":779,"Amount":100,"State":"0"}`, 1, 0},
		{"string other state", `{"Id":780,"Amount":100,"State":"2"}`, 0, 0},
		{"non numeric state", `{"Id":781,"Amount":100,"State":"pending"}`, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t)

			f.deliver(t, fmt.Sprintf(`{"M":[{"H":"h","M":"Notification","A":[{"Type":3,"OperationType":1,"Object":%s}]}]}`, tc.object))

			assert.Len(t, f.sink.messages(), tc.wantSent)
			assert.Equal(t, tc.wantInvalid, f.router.Stats().ParseErrors)
			if tc.wantSent == 0 {
				assert.Empty(t, f.withdrawals.seen)
			}
		})
	}
}

func TestRouter_DiscriminatorMismatchIgnored(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t,
		`{"M":[{"H":"h","M":"Notification","A":["{\"Type\":3,\"OperationType\":2,\"Object\":{\"Id\":1,\"State\":0}}"]}]}`,
		`{"M":[{"H":"h","M":"Notification","A":["{\"Type\":2,\"OperationType\":1,\"Object\":{\"Id\":2,\"State\":0}}"]}]}`,
		`{"M":[{"H":"h","M":"Notification","A":["{\"Type\":3,\"OperationType\":1}"]}]}`,
		`{"M":[{"H":"h","M":"Subscribe","A":["{\"Type\":3,\"OperationType\":1,\"Object\":{\"Id\":3,\"State\":0}}"]}]}`,
		`{"M":[{"H":"h","M":"Notification","A":["new withdrawal request 4"]}]}`,
	)

	assert.Empty(t, f.sink.messages())
}

func TestRouter_LivenessFrames(t *testing.T) {
	f := newRouterFixture(t)

	f.deliver(t, `{}`, ``, `{"I":"0"}`, `{"I":"1","R":true}`, `{"C":"d-1","M":[]}`)

	f.liveness.mu.Lock()
	assert.Equal(t, 4, f.liveness.marks)
	f.liveness.mu.Unlock()
	assert.Empty(t, f.sink.messages())
}

func TestRouter_MalformedFramesAreDropped(t *testing.T) {
	f := newRouterFixture(t)

	assert.NotPanics(t, func() {
		f.deliver(t,
			`{"M":[`,
			`not json`,
			`{"M":[{"H":"h","M":"Notification","A":[{"Type":3,"OperationType":1,"Object":"oops"}]}]}`,
			`{"M":[{"H":"h","M":"Notification","A":[{"Type":3,"OperationType":1,"Object":{"Amount":1,"State":0}}]}]}`,
		)
	})

	assert.Empty(t, f.sink.messages())
	assert.Equal(t, uint64(4), f.router.Stats().ParseErrors)
}

func TestRouter_SinkFailureStillRecords(t *testing.T) {
	f := newRouterFixture(t)
	f.sink.err = errors.New("telegram: chat not found")

	f.deliver(t, withdrawalFrame(1, 0))

	assert.Len(t, f.sink.messages(), 1)
	assert.Equal(t, 1, f.router.History().Len())
	f.repo.mu.Lock()
	assert.Len(t, f.repo.saved, 1)
	f.repo.mu.Unlock()
}

func TestRouter_DedupErrorFailsOpen(t *testing.T) {
	f := newRouterFixture(t)
	f.withdrawals.err = errors.New("redis: connection refused")

	f.deliver(t, withdrawalFrame(1, 0))

	assert.Len(t, f.sink.messages(), 1)
}

func depositAt(id int, state string, at time.Time) notification.DepositObject {
	return notification.DepositObject{
		ID:          notification.ExternalID(strconv.Itoa(id)),
		StateName:   state,
		ClientName:  "Ayse Yilmaz",
		ClientLogin: "ayse",
		Amount:      decimal.RequireFromString("2500"),
		CurrencyID:  "TRY",
		RequestTime: at.In(biztime.Location()).Format("2006-01-02T15:04:05"),
	}
}

func TestRouter_DepositRecencyWindow(t *testing.T) {
	f := newRouterFixture(t)
	poll := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	n := f.router.HandleDeposits(context.Background(), poll, []notification.DepositObject{
		depositAt(1, "Yeni", poll.Add(-2*time.Minute)),
		depositAt(2, "Yeni", poll.Add(-20*time.Minute)),
	})
	require.NoError(t, f.router.Wait(context.Background()))

	assert.Equal(t, 1, n)
	sent := f.sink.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "Yeni Yatırım Talebi")
	assert.Contains(t, sent[0].text, "2.500,00 TRY")
	assert.Equal(t, uint64(1), f.router.Stats().Stale)
	// The stale deposit was not marked processed.
	_, marked := f.deposits.seen["2"]
	assert.False(t, marked)
}

func TestRouter_DepositStateAndDedup(t *testing.T) {
	f := newRouterFixture(t)
	poll := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rows := []notification.DepositObject{
		depositAt(10, "new", poll.Add(-time.Minute)),
		depositAt(11, "Onaylandı", poll.Add(-time.Minute)),
	}

	first := f.router.HandleDeposits(context.Background(), poll, rows)
	second := f.router.HandleDeposits(context.Background(), poll.Add(time.Minute), rows)
	require.NoError(t, f.router.Wait(context.Background()))

	assert.Equal(t, 1, first)
	assert.Zero(t, second)
	assert.Len(t, f.sink.messages(), 1)
}

func TestRouter_DepositAndWithdrawalIdsAreSeparate(t *testing.T) {
	f := newRouterFixture(t)
	poll := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	f.deliver(t, withdrawalFrame(42, 0))
	f.router.HandleDeposits(context.Background(), poll, []notification.DepositObject{depositAt(42, "Yeni", poll)})
	require.NoError(t, f.router.Wait(context.Background()))

	assert.Len(t, f.sink.messages(), 2)
}

func TestRouter_BadDepositTimestamp(t *testing.T) {
	f := newRouterFixture(t)
	row := depositAt(5, "Yeni", time.Now())
	row.RequestTime = "soon"

	assert.Zero(t, f.router.HandleDeposits(context.Background(), time.Now(), []notification.DepositObject{row}))
	assert.Equal(t, uint64(1), f.router.Stats().ParseErrors)
}

func TestRouter_NoDestinationsStillRecords(t *testing.T) {
	f := newRouterFixture(t)
	f.router.deps.Destinations.Replace(nil)

	f.deliver(t, withdrawalFrame(3, 0))

	assert.Empty(t, f.sink.messages())
	assert.Equal(t, 1, f.router.History().Len())
}
