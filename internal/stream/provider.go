package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/types"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	userAgent        = "extended-cli/1.0"

	msgTypeSnapshot = "SNAPSHOT"
)

type Config struct {
	URL               string
	Depth             int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval is how often the client pings. A connection that shows
	// no traffic for PingInterval+PongTimeout is dropped and redialed.
	PingInterval time.Duration
	PongTimeout  time.Duration
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Provider keeps one order book stream per loaded market and remembers the
// latest top of book for each.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	now    func() time.Time

	mu        sync.RWMutex
	quotes    map[string]types.Quote
	active    map[string]bool
	listeners map[string]*listener
}

var _ interfaces.MarketDataProvider = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	if cfg.Depth < 1 {
		cfg.Depth = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 20 * time.Second
	}
	return &Provider{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		now:       time.Now,
		quotes:    make(map[string]types.Quote),
		active:    make(map[string]bool),
		listeners: make(map[string]*listener),
	}
}

func (p *Provider) StartStreams(ctx context.Context, markets []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var started []string
	for _, m := range markets {
		m = strings.ToUpper(m)
		p.active[m] = true
		if _, running := p.listeners[m]; running {
			continue
		}

		lctx, cancel := context.WithCancel(ctx)
		l := &listener{cancel: cancel, done: make(chan struct{})}
		p.listeners[m] = l
		go p.listen(lctx, m, l)
		started = append(started, m)
	}

	if len(started) > 0 {
		logger.Info(ctx, "Order book streams started", "markets", started)
	}
	return started
}

func (p *Provider) StopStreams(markets []string) {
	p.mu.Lock()
	var stopping []*listener
	for _, m := range markets {
		m = strings.ToUpper(m)
		delete(p.active, m)
		delete(p.quotes, m)
		if l, ok := p.listeners[m]; ok {
			delete(p.listeners, m)
			stopping = append(stopping, l)
		}
	}
	p.mu.Unlock()

	waitAll(stopping)
	logger.Info(context.Background(), "Order book streams stopped", "markets", markets)
}

func (p *Provider) CloseStreams() {
	p.mu.Lock()
	stopping := make([]*listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		stopping = append(stopping, l)
	}
	p.listeners = make(map[string]*listener)
	p.active = make(map[string]bool)
	p.quotes = make(map[string]types.Quote)
	p.mu.Unlock()

	waitAll(stopping)
	logger.Info(context.Background(), "All order book streams closed", "count", len(stopping))
}

func (p *Provider) BestBidAsk(market string) (types.Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[strings.ToUpper(market)]
	return q, ok
}

// ActiveStreams lists the markets with a running or reconnecting listener.
func (p *Provider) ActiveStreams() []string {
	p.mu.RLock()
	markets := make([]string, 0, len(p.active))
	for m := range p.active {
		markets = append(markets, m)
	}
	p.mu.RUnlock()

	sort.Strings(markets)
	return markets
}

func waitAll(ls []*listener) {
	for _, l := range ls {
		l.cancel()
	}
	for _, l := range ls {
		<-l.done
	}
}

// current reports whether l is still the registered listener of an active
// market. A replaced or stopped listener must not touch shared state.
func (p *Provider) current(market string, l *listener) bool {
	return p.listeners[market] == l && p.active[market]
}

func (p *Provider) streamURL(market string) string {
	return fmt.Sprintf("%s/orderbooks/%s?depth=%d", strings.TrimRight(p.cfg.URL, "/"), market, p.cfg.Depth)
}

func (p *Provider) listen(ctx context.Context, market string, l *listener) {
	defer close(l.done)
	defer p.detach(market, l)

	b := &backoff.Backoff{
		Min:    p.cfg.ReconnectDelay,
		Max:    p.cfg.MaxReconnectDelay,
		Factor: 2,
	}
	url := p.streamURL(market)
	header := http.Header{"User-Agent": []string{userAgent}}

	for {
		conn, _, err := p.dialer.DialContext(ctx, url, header)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			logger.WarnWithErr(ctx, "Order book stream connect failed", err, "market", market)
		} else {
			b.Reset()
			logger.Info(ctx, "Order book stream connected", "market", market)
			err = p.readLoop(ctx, market, l, conn)
			if ctx.Err() != nil {
				return
			}
			logger.WarnWithErr(ctx, "Order book stream disconnected", err, "market", market)
		}

		p.mu.Lock()
		keep := p.current(market, l)
		if keep {
			// no quote survives a lost connection
			delete(p.quotes, market)
		}
		p.mu.Unlock()
		if !keep {
			return
		}

		wait := b.Duration()
		logger.Info(ctx, "Reconnecting order book stream", "market", market, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// detach unregisters a listener that exits on its own, e.g. when the parent
// context is cancelled. The market is no longer active afterwards.
func (p *Provider) detach(market string, l *listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners[market] == l {
		delete(p.listeners, market)
		delete(p.active, market)
		delete(p.quotes, market)
	}
}

func (p *Provider) readLoop(ctx context.Context, market string, l *listener, conn *websocket.Conn) error {
	readWait := p.cfg.PingInterval + p.cfg.PongTimeout
	extend := func() { conn.SetReadDeadline(time.Now().Add(readWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					logger.Debug(ctx, "Order book stream ping failed", "market", market, "error", err)
				}
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		p.handleMessage(ctx, market, l, data)
	}
}

type bookLevel struct {
	Price decimal.NullDecimal `json:"p"`
	Qty   decimal.Decimal     `json:"q"`
}

type bookMessage struct {
	Type string `json:"type"`
	Data struct {
		Market string      `json:"m"`
		Bids   []bookLevel `json:"b"`
		Asks   []bookLevel `json:"a"`
	} `json:"data"`
	Ts int64 `json:"ts"`
}

func (p *Provider) handleMessage(ctx context.Context, market string, l *listener, data []byte) {
	var msg bookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.WarnWithErr(ctx, "Malformed order book message", err, "market", market)
		return
	}
	if msg.Type != msgTypeSnapshot || !strings.EqualFold(msg.Data.Market, market) {
		return
	}
	if len(msg.Data.Bids) == 0 || len(msg.Data.Asks) == 0 ||
		!msg.Data.Bids[0].Price.Valid || !msg.Data.Asks[0].Price.Valid {
		logger.Debug(ctx, "Order book snapshot without both sides", "market", market)
		return
	}

	ts := msg.Ts
	if ts == 0 {
		ts = p.now().UnixMilli()
	}
	q := types.Quote{
		Market:    market,
		BidPrice:  msg.Data.Bids[0].Price.Decimal,
		BidQty:    msg.Data.Bids[0].Qty,
		AskPrice:  msg.Data.Asks[0].Price.Decimal,
		AskQty:    msg.Data.Asks[0].Qty,
		Timestamp: ts,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current(market, l) {
		p.quotes[market] = q
	}
}
