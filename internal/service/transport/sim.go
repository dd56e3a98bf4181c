package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/domain/repository"
	"MarketHub/internal/service/codec"
	"MarketHub/pkg/logger"
)

// Sim generates synthetic market data in the envelope format, one random walk per
// subscribed channel. Endpoint form:
//
//	sim://crypto?interval=1s&kinds=price,quote,volume&seed=7&hours=13:30-20:00
//
// The host selects a market profile (crypto, stocks, forex, commodities) that sets the
// default cadence and volatility. hours restricts ticks to a UTC trading window.
type Sim struct {
	logger *logger.Logger
	now    func() time.Time
}

func NewSim(l *logger.Logger) *Sim {
	return &Sim{logger: l, now: time.Now}
}

type simProfile struct {
	interval   time.Duration
	volatility float64 // per tick, fraction of price
	spread     float64 // fraction of price
}

var simProfiles = map[string]simProfile{
	"crypto":      {interval: time.Second, volatility: 0.004, spread: 0.0005},
	"stocks":      {interval: 2 * time.Second, volatility: 0.0015, spread: 0.0002},
	"forex":       {interval: 3 * time.Second, volatility: 0.0004, spread: 0.00005},
	"commodities": {interval: 5 * time.Second, volatility: 0.002, spread: 0.0004},
}

var simBasePrices = map[string]float64{
	"BTCUSDT": 42000,
	"ETHUSDT": 2500,
	"SOLUSDT": 100,
	"AAPL":    190,
	"MSFT":    370,
	"NVDA":    480,
	"EURUSD":  1.09,
	"GBPUSD":  1.27,
	"USDJPY":  148,
	"XAUUSD":  2000,
	"WTI":     75,
}

var simHeadlines = []struct {
	text      string
	sentiment float64
}{
	{"%s beats expectations", 0.7},
	{"Analysts upgrade %s", 0.5},
	{"%s faces regulatory scrutiny", -0.6},
	{"Volume spikes in %s", 0.1},
	{"%s slips on profit taking", -0.3},
}

type simConfig struct {
	market  string
	profile simProfile
	kinds   []models.Kind
	seed    int64
	window  *[2]time.Duration // offsets from UTC midnight
}

func parseSimEndpoint(endpoint string) (simConfig, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return simConfig{}, fmt.Errorf("sim endpoint: %w", err)
	}
	cfg := simConfig{market: u.Host, seed: time.Now().UnixNano()}
	p, ok := simProfiles[u.Host]
	if !ok {
		return simConfig{}, fmt.Errorf("sim endpoint %q: unknown market %q", endpoint, u.Host)
	}
	cfg.profile = p

	q := u.Query()
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return simConfig{}, fmt.Errorf("sim endpoint %q: bad interval %q", endpoint, v)
		}
		cfg.profile.interval = d
	}
	if v := q.Get("seed"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return simConfig{}, fmt.Errorf("sim endpoint %q: bad seed %q", endpoint, v)
		}
		cfg.seed = s
	}

	kinds := q.Get("kinds")
	if kinds == "" {
		kinds = "price,quote,volume"
	}
	for _, k := range strings.Split(kinds, ",") {
		kind, err := models.ParseKind(strings.TrimSpace(k))
		if err != nil {
			return simConfig{}, fmt.Errorf("sim endpoint %q: %w", endpoint, err)
		}
		cfg.kinds = append(cfg.kinds, kind)
	}

	if v := q.Get("hours"); v != "" {
		w, err := parseWindow(v)
		if err != nil {
			return simConfig{}, fmt.Errorf("sim endpoint %q: %w", endpoint, err)
		}
		cfg.window = &w
	}
	return cfg, nil
}

func parseWindow(s string) ([2]time.Duration, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return [2]time.Duration{}, fmt.Errorf("bad hours %q", s)
	}
	var w [2]time.Duration
	for i, p := range parts {
		t, err := time.Parse("15:04", strings.TrimSpace(p))
		if err != nil {
			return w, fmt.Errorf("bad hours %q: %w", s, err)
		}
		w[i] = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}
	return w, nil
}

func (c simConfig) open(now time.Time) bool {
	if c.window == nil {
		return true
	}
	now = now.UTC()
	if wd := now.Weekday(); c.market == "stocks" && (wd == time.Saturday || wd == time.Sunday) {
		return false
	}
	offset := now.Sub(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
	return offset >= c.window[0] && offset < c.window[1]
}

func (s *Sim) Open(ctx context.Context, endpoint string, h repository.TransportHandler) (repository.Transport, error) {
	cfg, err := parseSimEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &simConn{
		cfg:     cfg,
		h:       h,
		now:     s.now,
		cancel:  cancel,
		rng:     rand.New(rand.NewSource(cfg.seed)),
		symbols: make(map[string]*simSymbol),
	}
	s.logger.Debug("sim feed opened",
		logger.String("market", cfg.market),
		logger.Duration("interval", cfg.profile.interval),
	)
	go c.run(ctx)
	return c, nil
}

type simSymbol struct {
	price  float64
	volume float64
	seq    int64
}

type simConn struct {
	cfg    simConfig
	h      repository.TransportHandler
	now    func() time.Time
	cancel context.CancelFunc

	mu      sync.Mutex
	rng     *rand.Rand
	symbols map[string]*simSymbol
	closed  bool
}

func (c *simConn) run(ctx context.Context) {
	c.h.OnOpen()
	ticker := time.NewTicker(c.cfg.profile.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			if !c.cfg.open(now) {
				continue
			}
			if frame := c.tick(now); frame != nil {
				c.h.OnMessage(frame)
			}
		}
	}
}

// tick advances every subscribed symbol one step and returns the updates as one
// envelope batch, or nil when nothing is subscribed.
func (c *simConn) tick(now time.Time) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.symbols) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, m := range c.step(name, c.symbols[name], now) {
			b, err := codec.Encode(m)
			if err != nil {
				continue
			}
			parts = append(parts, string(b))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}

// step must be called with the lock held.
func (c *simConn) step(name string, s *simSymbol, now time.Time) []models.Message {
	p := c.cfg.profile
	prev := s.price
	s.price = math.Max(s.price*(1+c.rng.NormFloat64()*p.volatility), 0.0001)
	size := math.Round((1+c.rng.ExpFloat64()*10)*100) / 100
	s.volume += size
	s.seq++

	msg := func(kind models.Kind, payload models.Payload) models.Message {
		return models.Message{Channel: name, Kind: kind, Payload: payload, Timestamp: now, ReceivedAt: now}
	}
	half := s.price * p.spread / 2

	var out []models.Message
	for _, k := range c.cfg.kinds {
		switch k {
		case models.KindPrice:
			out = append(out, msg(k, models.Price{Price: s.price, Change: s.price - prev, ChangePct: (s.price - prev) / prev * 100}))
		case models.KindQuote:
			out = append(out, msg(k, models.Quote{
				Bid: s.price - half, Ask: s.price + half,
				BidSize: math.Round(c.rng.Float64()*1000) / 10, AskSize: math.Round(c.rng.Float64()*1000) / 10,
			}))
		case models.KindVolume:
			out = append(out, msg(k, models.Volume{Volume: s.volume}))
		case models.KindTrade:
			side := "buy"
			if s.price < prev {
				side = "sell"
			}
			out = append(out, msg(k, models.Trade{ID: fmt.Sprintf("%s-%d", name, s.seq), Price: s.price, Size: size, Side: side}))
		case models.KindDepth:
			d := models.Depth{}
			for i := 1; i <= 5; i++ {
				off := half * float64(i)
				d.Bids = append(d.Bids, models.Level{Price: s.price - off, Size: math.Round(c.rng.Float64()*500) / 10})
				d.Asks = append(d.Asks, models.Level{Price: s.price + off, Size: math.Round(c.rng.Float64()*500) / 10})
			}
			out = append(out, msg(k, d))
		case models.KindNews:
			if c.rng.Float64() < 0.05 {
				hl := simHeadlines[c.rng.Intn(len(simHeadlines))]
				out = append(out, msg(k, models.News{Headline: fmt.Sprintf(hl.text, name), Source: "sim", Sentiment: hl.sentiment}))
			}
		}
	}
	return out
}

func simBasePrice(name string) float64 {
	if p, ok := simBasePrices[name]; ok {
		return p
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return 10 + float64(h.Sum32()%1000)
}

func (c *simConn) Send(raw []byte) error {
	ctrl, ok := codec.ParseControl(raw)
	if !ok {
		return errors.New("sim: only control frames can be sent")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("sim feed closed")
	}
	switch ctrl.Op {
	case codec.OpSubscribe:
		if _, ok := c.symbols[ctrl.Channel]; !ok && ctrl.Channel != "" {
			c.symbols[ctrl.Channel] = &simSymbol{price: simBasePrice(ctrl.Channel)}
		}
	case codec.OpUnsubscribe:
		delete(c.symbols, ctrl.Channel)
	}
	c.mu.Unlock()

	if ctrl.Op == codec.OpPing {
		c.h.OnMessage(codec.ControlFrame(codec.OpPong, ""))
	}
	return nil
}

func (c *simConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

// Symbols returns the subscribed channels, sorted.
func (c *simConn) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
