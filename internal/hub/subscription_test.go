package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketHub/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() (*SubscriptionTable, *recordingWire) {
	table := NewSubscriptionTable(nil, nil)
	wire := newRecordingWire()
	table.SetWireSender(wire)
	return table, wire
}

func noop(context.Context, models.Message) error { return nil }

func TestSubscriptionTable_WireActionOncePerTransition(t *testing.T) {
	table, wire := newTestTable()

	a, err := table.Subscribe("market", "BTCUSDT", noop)
	require.NoError(t, err)
	b, err := table.Subscribe("market", "BTCUSDT", noop)
	require.NoError(t, err)

	subs, unsubs := wire.counts("market/BTCUSDT")
	assert.Equal(t, 1, subs)
	assert.Equal(t, 0, unsubs)
	assert.Equal(t, 2, table.Count("market", "BTCUSDT"))

	a.Unsubscribe()
	_, unsubs = wire.counts("market/BTCUSDT")
	assert.Equal(t, 0, unsubs)

	b.Unsubscribe()
	subs, unsubs = wire.counts("market/BTCUSDT")
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs)
	assert.Empty(t, table.Channels("market"))
}

func TestSubscriptionTable_UnsubscribeIsIdempotent(t *testing.T) {
	table, wire := newTestTable()
	s, err := table.Subscribe("market", "ETHUSDT", noop)
	require.NoError(t, err)

	s.Unsubscribe()
	s.Unsubscribe()
	assert.False(t, table.Unsubscribe("market", "ETHUSDT", s.ID))

	_, unsubs := wire.counts("market/ETHUSDT")
	assert.Equal(t, 1, unsubs)
}

func TestSubscriptionTable_OnlyRemainingSubscriberNotified(t *testing.T) {
	table, _ := newTestTable()
	var got []string
	sub1, err := table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		got = append(got, "sub1")
		return nil
	})
	require.NoError(t, err)
	_, err = table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		got = append(got, "sub2")
		return nil
	})
	require.NoError(t, err)

	sub1.Unsubscribe()
	n := table.Notify(context.Background(), priceMsg("market", "BTCUSDT", 1, time.Now()))

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"sub2"}, got)
}

func TestSubscriptionTable_FailingSubscribersAreIsolated(t *testing.T) {
	table, _ := newTestTable()
	calls := 0
	_, err := table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		return errors.New("rejected")
	})
	require.NoError(t, err)
	_, err = table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	msg := priceMsg("market", "BTCUSDT", 1, time.Now())
	assert.Equal(t, 1, table.Notify(context.Background(), msg))
	assert.Equal(t, 1, table.Notify(context.Background(), msg))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, table.Count("market", "BTCUSDT"))
}

func TestSubscriptionTable_InvokeWrapsErrors(t *testing.T) {
	table, _ := newTestTable()
	s := subscriber{id: 7, cb: func(context.Context, models.Message) error { panic("boom") }}

	err := table.invoke(context.Background(), s, priceMsg("market", "X", 1, time.Now()))

	var subErr *SubscriberError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, uint64(7), subErr.SubscriberID)
	assert.Equal(t, "X", subErr.Channel)
}

func TestSubscriptionTable_SubscribeFromCallback(t *testing.T) {
	table, wire := newTestTable()
	var inner *Subscription
	_, err := table.Subscribe("market", "BTCUSDT", func(context.Context, models.Message) error {
		if inner == nil {
			var err error
			inner, err = table.Subscribe("market", "ETHUSDT", noop)
			return err
		}
		return nil
	})
	require.NoError(t, err)

	table.Notify(context.Background(), priceMsg("market", "BTCUSDT", 1, time.Now()))

	require.NotNil(t, inner)
	subs, _ := wire.counts("market/ETHUSDT")
	assert.Equal(t, 1, subs)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, table.Channels("market"))
	assert.Equal(t, 2, table.FeedCount("market"))
}

func TestSubscriptionTable_RejectsInvalidArguments(t *testing.T) {
	table, _ := newTestTable()
	_, err := table.Subscribe("", "X", noop)
	assert.Error(t, err)
	_, err = table.Subscribe("market", "X", nil)
	assert.Error(t, err)
}
