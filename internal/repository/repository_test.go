package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/internal/service/cache"
	pkgkafka "MarketHub/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ repository.Publisher     = (*KafkaPublisher)(nil)
	_ repository.Storage       = (*ClickHouseArchive)(nil)
	_ repository.SnapshotCache = (*SnapshotCache)(nil)
)

var t0 = time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)

func priceMsg(channel string, price float64) models.Message {
	return models.Message{
		Feed: "crypto", Channel: channel, Kind: models.KindPrice,
		Payload: models.Price{Price: price}, Timestamp: t0, ReceivedAt: t0.Add(time.Millisecond),
	}
}

type fakeProducer struct {
	topic  string
	batch  []pkgkafka.Message
	single []interface{}
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, _ []byte, v interface{}) error {
	p.topic = topic
	p.single = append(p.single, v)
	return p.err
}

func (p *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.topic = topic
	p.batch = append(p.batch, msgs...)
	return p.err
}

func (p *fakeProducer) Close() error { return nil }

func TestRecord_RoundTrip(t *testing.T) {
	m := priceMsg("BTCUSDT", 42000.5)
	r, err := toRecord(m)
	require.NoError(t, err)
	assert.Equal(t, t0.UnixMilli(), r.TS)

	back, err := r.message()
	require.NoError(t, err)
	assert.Equal(t, m.Payload, back.Payload)
	assert.True(t, m.Timestamp.Equal(back.Timestamp))

	r.Kind = "candle"
	_, err = r.message()
	assert.Error(t, err)
}

func TestKafkaPublisher_KeysByChannel(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, "markethub.messages", "markethub.events", nil)

	require.NoError(t, p.PublishBatch(context.Background(), []models.Message{priceMsg("BTCUSDT", 1), priceMsg("ETHUSDT", 2)}))
	require.Len(t, fp.batch, 2)
	assert.Equal(t, "markethub.messages", fp.topic)
	assert.Equal(t, "ETHUSDT", string(fp.batch[1].Key))

	b, err := json.Marshal(fp.batch[0].Value)
	require.NoError(t, err)
	assert.JSONEq(t, `{"feed":"crypto","channel":"BTCUSDT","kind":"price","ts":1704726000000,"received_at":1704726000001,"data":{"price":1,"change":0,"change_pct":0}}`, string(b))

	require.NoError(t, p.PublishEvent(context.Background(), models.Event{Name: models.EventPriceUpdated, Channel: "BTCUSDT", Message: priceMsg("BTCUSDT", 1), At: t0}))
	assert.Equal(t, "markethub.events", fp.topic)
	assert.Len(t, fp.single, 1)

	fp.err = errors.New("broker down")
	assert.ErrorContains(t, p.Write(context.Background(), []models.Message{priceMsg("X", 1)}), "broker down")
}

type fakeDB struct {
	queries []string
	args    [][]any
}

func (d *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	d.queries = append(d.queries, q)
	d.args = append(d.args, args)
	return driver.RowsAffected(len(args) / 6), nil
}

func (d *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDB) PingContext(context.Context) error { return nil }

func TestClickHouseArchive_StoreBatch(t *testing.T) {
	db := &fakeDB{}
	a := NewClickHouseArchive(db, "markethub.messages", nil)

	require.NoError(t, a.Init(context.Background()))
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS markethub.messages")

	noChannel := priceMsg("", 3)
	require.NoError(t, a.StoreBatch(context.Background(), []models.Message{priceMsg("A", 1), noChannel, priceMsg("B", 2)}))
	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[1], "VALUES (?, ?, ?, ?, ?, ?),(?, ?, ?, ?, ?, ?)")
	assert.Len(t, db.args[1], 12)
	assert.Equal(t, "B", db.args[1][9])
	assert.JSONEq(t, `{"price":2,"change":0,"change_pct":0}`, db.args[1][11].(string))

	require.NoError(t, a.StoreBatch(context.Background(), nil))
	assert.Len(t, db.queries, 2)
	assert.NoError(t, a.Health(context.Background()))
}

func TestClickHouseArchive_ChunksLargeBatches(t *testing.T) {
	db := &fakeDB{}
	a := NewClickHouseArchive(db, "messages", nil)

	msgs := make([]models.Message, insertChunk+1)
	for i := range msgs {
		msgs[i] = priceMsg("A", float64(i))
	}
	require.NoError(t, a.Write(context.Background(), msgs))
	require.Len(t, db.queries, 2)
	assert.Len(t, db.args[1], 6)
}

func TestSnapshotCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(cache.NewTTLCache(), "markethub", time.Minute)

	_, ok, err := c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := models.Snapshot{Symbol: "BTCUSDT", Price: 42000, LastTrade: &models.Trade{Price: 42000, Size: 1}, Sources: []string{"crypto"}, UpdatedAt: t0}
	require.NoError(t, c.Write(ctx, []models.Snapshot{{Symbol: "BTCUSDT", Price: 1}, snap}))

	got, ok, err := c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42000.0, got.Price)
	assert.Equal(t, 1.0, got.LastTrade.Size)
	assert.True(t, t0.Equal(got.UpdatedAt))
}
