package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/internal/service/codec"
	"MarketHub/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanHandler struct {
	opened chan struct{}
	msgs   chan []byte
	errs   chan error
	once   sync.Once
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		opened: make(chan struct{}),
		msgs:   make(chan []byte, 64),
		errs:   make(chan error, 4),
	}
}

func (h *chanHandler) OnOpen()            { h.once.Do(func() { close(h.opened) }) }
func (h *chanHandler) OnMessage(b []byte) { h.msgs <- b }
func (h *chanHandler) OnClose()           { h.errs <- nil }
func (h *chanHandler) OnError(err error)  { h.errs <- err }

func (h *chanHandler) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-h.opened:
	case err := <-h.errs:
		t.Fatalf("transport failed before open: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not open")
	}
}

func (h *chanHandler) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-h.msgs:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return nil
	}
}

var _ repository.TransportHandler = (*chanHandler)(nil)

func TestSim_EmitsOnlySubscribedChannels(t *testing.T) {
	sim := NewSim(logger.Nop())
	h := newChanHandler()
	tr, err := sim.Open(context.Background(), "sim://crypto?interval=5ms&seed=1&kinds=price,quote", h)
	require.NoError(t, err)
	defer tr.Close()
	h.waitOpen(t)

	require.NoError(t, tr.Send(codec.ControlFrame(codec.OpSubscribe, "BTCUSDT")))

	msgs, err := codec.NewEnvelope().Decode("crypto", h.next(t), time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "BTCUSDT", msgs[0].Channel)
	assert.Equal(t, models.KindPrice, msgs[0].Kind)
	assert.InDelta(t, 42000, msgs[0].Payload.(models.Price).Price, 42000*0.1)
	q := msgs[1].Payload.(models.Quote)
	assert.Less(t, q.Bid, q.Ask)

	require.NoError(t, tr.Send(codec.ControlFrame(codec.OpUnsubscribe, "BTCUSDT")))
	assert.Empty(t, tr.(*simConn).Symbols())
}

func TestSim_AnswersPing(t *testing.T) {
	sim := NewSim(logger.Nop())
	h := newChanHandler()
	tr, err := sim.Open(context.Background(), "sim://forex?interval=1h", h)
	require.NoError(t, err)
	defer tr.Close()
	h.waitOpen(t)

	require.NoError(t, tr.Send(codec.ControlFrame(codec.OpPing, "")))
	ctrl, ok := codec.ParseControl(h.next(t))
	require.True(t, ok)
	assert.Equal(t, codec.OpPong, ctrl.Op)

	assert.Error(t, tr.Send([]byte(`hello`)))
}

func TestSim_EndpointParsing(t *testing.T) {
	cfg, err := parseSimEndpoint("sim://stocks?interval=250ms&kinds=trade,depth&seed=3&hours=13:30-20:00")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.profile.interval)
	assert.Equal(t, []models.Kind{models.KindTrade, models.KindDepth}, cfg.kinds)
	assert.EqualValues(t, 3, cfg.seed)

	monday := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	assert.True(t, cfg.open(monday))
	assert.False(t, cfg.open(monday.Add(-2*time.Hour)))
	assert.False(t, cfg.open(monday.Add(-48*time.Hour)), "weekend")

	defaults, err := parseSimEndpoint("sim://commodities")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, defaults.profile.interval)
	assert.True(t, defaults.open(monday.Add(-48*time.Hour)))

	for _, bad := range []string{"sim://moon", "sim://crypto?interval=-1s", "sim://crypto?kinds=candle", "sim://crypto?hours=9-5"} {
		_, err := parseSimEndpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestSim_DeterministicWithSeed(t *testing.T) {
	run := func() []byte {
		sim := NewSim(logger.Nop())
		h := newChanHandler()
		tr, err := sim.Open(context.Background(), "sim://crypto?interval=1h&seed=42", h)
		require.NoError(t, err)
		defer tr.Close()
		require.NoError(t, tr.Send(codec.ControlFrame(codec.OpSubscribe, "ETHUSDT")))
		return tr.(*simConn).tick(time.Unix(1700000000, 0))
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestKafkaReaderConfig(t *testing.T) {
	cfg, err := kafkaReaderConfig("kafka://b1:9092,b2:9092/ticks?group=hub")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Brokers)
	assert.Equal(t, "ticks", cfg.Topic)
	assert.Equal(t, "hub", cfg.GroupID)

	cfg, err = kafkaReaderConfig("kafka://b1:9092/ticks")
	require.NoError(t, err)
	assert.Equal(t, "markethub-ticks", cfg.GroupID)

	_, err = kafkaReaderConfig("kafka://b1:9092")
	assert.Error(t, err)
}

func TestMux_RoutesByScheme(t *testing.T) {
	m := NewMux()
	m.Register("sim", NewSim(logger.Nop()))

	h := newChanHandler()
	tr, err := m.Open(context.Background(), "sim://crypto?interval=1h", h)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	_, err = m.Open(context.Background(), "ws://localhost:1", h)
	assert.ErrorContains(t, err, "no transport")
	_, err = m.Open(context.Background(), "localhost", h)
	assert.Error(t, err)

	assert.True(t, Accepts("websocket", "wss://ws.finnhub.io"))
	assert.True(t, Accepts("mqtt", "tcp://broker:1883/x"))
	assert.False(t, Accepts("nats", "ws://x"))
}

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo:"), b...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(time.Second, time.Second, logger.Nop())
	h := newChanHandler()
	tr, err := ws.Open(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), h)
	require.NoError(t, err)
	h.waitOpen(t)

	require.NoError(t, tr.Send([]byte("hello")))
	assert.Equal(t, "echo:hello", string(h.next(t)))

	require.NoError(t, tr.Close())
	assert.Error(t, tr.Send([]byte("late")))
}

func TestWebSocket_DialFailureReported(t *testing.T) {
	ws := NewWebSocket(200*time.Millisecond, time.Second, logger.Nop())
	h := newChanHandler()
	tr, err := ws.Open(context.Background(), "ws://127.0.0.1:1/feed?token=secret", h)
	require.NoError(t, err)
	defer tr.Close()

	select {
	case err := <-h.errs:
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "secret")
	case <-time.After(2 * time.Second):
		t.Fatal("dial error not reported")
	}
}
