// Command engine is the single-process execution engine: it wires the
// symbol catalog, exchange gateway (or paper matcher), market-data
// fan-out, order registry, order manager, position book, risk engine,
// algorithm supervisor, and command router into one running process, then
// blocks until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/adminhttp"
	"github.com/pms-engine/execcore/internal/catalog"
	"github.com/pms-engine/execcore/internal/config"
	"github.com/pms-engine/execcore/internal/eventbus"
	"github.com/pms-engine/execcore/internal/gateway"
	"github.com/pms-engine/execcore/internal/gateway/rest"
	"github.com/pms-engine/execcore/internal/marketdata"
	"github.com/pms-engine/execcore/internal/metrics"
	"github.com/pms-engine/execcore/internal/offload"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/paper"
	"github.com/pms-engine/execcore/internal/positions"
	"github.com/pms-engine/execcore/internal/riskengine"
	"github.com/pms-engine/execcore/internal/router"
	"github.com/pms-engine/execcore/internal/store"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

const appName = "execcore"

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	version := flag.Bool("version", false, "print version and exit")
	health := flag.Bool("health", false, "probe a running engine's /healthz and exit")
	flag.Parse()

	if *version {
		fmt.Println(appName)
		return
	}
	if *health {
		probeHealth()
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wiring failed", zap.Error(err))
	}
	defer eng.shutdown(logger)

	eng.admin.Start()
	go eng.router.Run(ctx)

	logger.Info("engine started", zap.Bool("dry_run", cfg.Engine.DryRun))
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// engine holds every long-lived component so shutdown can release them in
// reverse wiring order.
type engine struct {
	journal  *store.Journal
	bus      *eventbus.Bus
	cmdQueue *eventbus.CommandQueue
	offload  *offload.Pool
	router   *router.Router
	admin    *adminhttp.Server
	gw       *gateway.Gateway // nil in paper mode
}

func (e *engine) shutdown(logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", zap.Error(err))
	}
	e.offload.Release()
	if e.cmdQueue != nil {
		if err := e.cmdQueue.Close(); err != nil {
			logger.Warn("command queue close", zap.Error(err))
		}
	}
	if err := e.bus.Close(); err != nil {
		logger.Warn("event bus close", zap.Error(err))
	}
	if err := e.journal.Close(); err != nil {
		logger.Warn("journal close", zap.Error(err))
	}
}

func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password,
		cfg.Database.Name, cfg.Database.SSLMode)
	journal, err := store.Open(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	bus, err := eventbus.New(logger, cfg.EventBus.NatsURL, cfg.EventBus.SubjectPrefix)
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("connect event bus: %w", err)
	}

	cmdQueue, err := eventbus.NewCommandQueue(logger, cfg.EventBus.NatsURL, cfg.EventBus.SubjectPrefix, router.QueueNames)
	if err != nil {
		bus.Close()
		journal.Close()
		return nil, fmt.Errorf("subscribe command queue: %w", err)
	}
	reply := eventbus.NewKV()

	pool, err := offload.New(logger, 32)
	if err != nil {
		cmdQueue.Close()
		bus.Close()
		journal.Close()
		return nil, fmt.Errorf("start offload pool: %w", err)
	}

	cat := catalog.New()
	md := marketdata.New(logger, tickPublisher{bus: bus})
	book := positions.New(logger)
	registry := orderbook.NewRegistry(logger)

	var gw *gateway.Gateway
	var ex gateway.Exchange
	if cfg.Engine.DryRun {
		matcher := paper.New(logger, md)
		ex = matcher
		logger.Info("engine running in paper mode, no live exchange connectivity")
	} else {
		raw := rest.New(cfg.Gateway.BaseURL, nil)
		retryBase := time.Duration(cfg.Gateway.RetryBaseSeconds * float64(time.Second))
		gw = gateway.NewGateway(logger, raw, cfg.Gateway.RateLimitPerSec, retryBase, cfg.Gateway.MaxRetries)
		if err := gw.SyncClock(ctx); err != nil {
			logger.Warn("initial clock sync failed, continuing with zero offset", zap.Error(err))
		}
		ex = gw
	}

	priceLookup := func(symbol string) (float64, bool) {
		tuple, ok := md.Latest(symbol)
		if !ok {
			return 0, false
		}
		return tuple.Mid, true
	}

	// Forward-declared so the risk engine's closer adapter can reach the
	// order manager before it exists; assigned once below.
	var manager *ordermanager.Manager
	closer := closerFunc(func(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty float64, origin string) error {
		_, err := manager.PlaceMarket(ctx, accountID, symbol, side, qty, 1, orderbook.Origin(origin), "", true, nil, nil)
		return err
	})

	riskEngine := riskengine.New(logger, book, cfg.Risk.MaintenanceRate, priceLookup, closer,
		journalTradeWriter{journal: journal, pool: pool, logger: logger}, riskEmitter{bus: bus})

	manager = ordermanager.New(logger, registry, ex, cat, nil, riskEngine, orderEmitter{bus: bus}, cfg.Engine.ClientOrderPrefix)
	if matcher, ok := ex.(*paper.Matcher); ok {
		matcher.SetSink(manager)
	}

	supervisor := router.NewAlgoSupervisor(logger, manager, md, cfg.Engine.ClientOrderPrefix)

	r := router.New(logger, cmdQueue, reply)
	router.RegisterDefaults(r, router.Deps{
		Logger:     logger,
		Manager:    manager,
		Book:       book,
		Prices:     priceLookup,
		Supervisor: supervisor,
	})

	admin := adminhttp.New(logger, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		metrics.New(), healthSource{book: book})

	return &engine{
		journal:  journal,
		bus:      bus,
		cmdQueue: cmdQueue,
		offload:  pool,
		router:   r,
		admin:    admin,
		gw:       gw,
	}, nil
}

func probeHealth() {
	client := &http.Client{Timeout: 5 * time.Second}
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/healthz", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed with status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("ok")
}

type healthSource struct {
	book *positions.Book
}

func (h healthSource) Healthy() (bool, map[string]string) {
	return true, map[string]string{"component": "execution-engine"}
}

type tickPublisher struct {
	bus *eventbus.Bus
}

func (p tickPublisher) PublishTick(tuple marketdata.Tuple) {
	_ = p.bus.Publish(context.Background(), "marketdata.ticks", tuple)
}

type orderEmitter struct {
	bus *eventbus.Bus
}

func (e orderEmitter) Emit(ev ordermanager.Event) {
	_ = e.bus.Publish(context.Background(), "orders.events", ev)
}

type riskEmitter struct {
	bus *eventbus.Bus
}

func (e riskEmitter) Emit(ev riskengine.Event) {
	_ = e.bus.Publish(context.Background(), "risk.events", ev)
}

// closerFunc adapts a plain function to riskengine.Closer, the way
// http.HandlerFunc adapts a function to http.Handler.
type closerFunc func(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty float64, origin string) error

func (f closerFunc) ReduceOnlyClose(ctx context.Context, accountID, symbol string, side symbolfmt.OrderSide, qty float64, origin string) error {
	return f(ctx, accountID, symbol, side, qty, origin)
}

// journalTradeWriter persists trade rows through the offload pool so a slow
// database write never stalls the risk engine's fill-handling goroutine.
type journalTradeWriter struct {
	journal *store.Journal
	pool    *offload.Pool
	logger  *zap.Logger
}

func (w journalTradeWriter) WriteTradeRow(ctx context.Context, row riskengine.TradeRow) error {
	var realized *float64
	if row.RealizedPNL != 0 {
		v := row.RealizedPNL
		realized = &v
	}
	execution := store.TradeExecution{
		ID:          row.Signature,
		AccountID:   row.AccountID,
		PositionID:  &row.PositionID,
		Symbol:      row.Symbol,
		Side:        string(row.Side),
		Type:        "fill",
		Price:       row.Price,
		Quantity:    row.Quantity,
		Notional:    row.Price * row.Quantity,
		RealizedPNL: realized,
		Action:      store.TradeAction(strings.ToLower(row.Action)),
		Origin:      "engine",
		Status:      store.TradeFilled,
		Signature:   row.Signature,
		Timestamp:   row.Timestamp,
	}
	err := w.pool.Submit(func() {
		if err := w.journal.InsertTradeExecution(context.Background(), execution); err != nil {
			w.logger.Error("failed to persist trade row", zap.String("signature", row.Signature), zap.Error(err))
		}
	})
	if err != nil {
		w.logger.Error("failed to submit trade row for persistence", zap.Error(err))
	}
	return nil
}
