package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/blockundo/internal/api"
	"github.com/annel0/blockundo/internal/auth"
	"github.com/annel0/blockundo/internal/config"
	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/network"
	"github.com/annel0/blockundo/internal/observability"
	"github.com/annel0/blockundo/internal/storage"
	"github.com/annel0/blockundo/internal/undo"
	"github.com/annel0/blockundo/internal/undo/format"
	"github.com/annel0/blockundo/internal/world"
	"github.com/annel0/blockundo/internal/world/block"
)

// App собирает журнал отмены вместе с уровнями, хранилищем и метриками
type App struct {
	Config     *config.Config
	Table      *block.Table
	Levels     *world.Levels
	LevelStore *storage.LevelStore
	Registry   *prometheus.Registry
	Metrics    *undo.Metrics
	Store      *undo.Store
	Engine     *undo.Engine
	Service    *undo.Service
	API        *api.RestServer // nil, если порт API не задан

	sink      network.Sink
	publisher io.Closer
	server    *http.Server
	apiServer *http.Server
	shutdown  observability.ShutdownFunc
}

// Option настраивает App
type Option func(*App)

// WithSink задаёт получателя обновлений блоков (по умолчанию - лог)
func WithSink(s network.Sink) Option {
	return func(a *App) { a.sink = s }
}

// New создаёт приложение: открывает хранилище уровней, загружает уровни и
// готовит журнал отмены. Фоновые циклы не запускаются до Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config:   cfg,
		Table:    block.DefaultTable(),
		Levels:   world.NewLevels(),
		Registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sink == nil {
		if err := a.connectBus(); err != nil {
			return nil, err
		}
	}

	shutdown, err := observability.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.GetServiceName())
	if err != nil {
		a.closePublisher()
		return nil, fmt.Errorf("телеметрия: %w", err)
	}
	a.shutdown = shutdown

	levelStore, err := storage.NewLevelStore(cfg.World.GetDataDir())
	if err != nil {
		a.closePublisher()
		return nil, err
	}
	a.LevelStore = levelStore
	n, err := levelStore.LoadAll(a.Levels, a.Table)
	if err != nil {
		_ = levelStore.Close()
		return nil, fmt.Errorf("загрузка уровней: %w", err)
	}
	logging.Info("🗺️ Загружено уровней: %d", n)

	a.Metrics = undo.NewMetrics(a.Registry)
	storeOpts := []undo.StoreOption{undo.WithStoreMetrics(a.Metrics)}
	if dir := cfg.Undo.GetArchiveDir(); dir != "" {
		storeOpts = append(storeOpts, undo.WithArchiver(undo.NewArchiver(dir)))
	}
	a.Store = undo.NewStore(cfg.Undo.GetDir(), format.NewRegistry(a.Table), cfg.Undo.GetRotateAt(), storeOpts...)
	if err := a.Store.EnsureDirs(); err != nil {
		_ = levelStore.Close()
		return nil, err
	}

	batch := cfg.Network.GetBatchSize()
	senders := func(actor world.Actor) undo.Sender {
		target := ""
		if actor != nil {
			target = actor.Name()
		}
		return network.NewBlockSender(a.sink, target, batch)
	}
	a.Engine = undo.NewEngine(a.Store, a.Table, undo.LevelsFinder(a.Levels), senders, a.Metrics)
	a.Service = undo.NewService(a.Store, a.Engine, a.Metrics, cfg.Undo.GetFlushEvery())

	if cfg.API.GetPort() > 0 {
		if err := a.buildAPI(); err != nil {
			_ = levelStore.Close()
			a.closePublisher()
			return nil, err
		}
	}
	return a, nil
}

// connectBus выбирает получателя обновлений блоков по настройкам шины
func (a *App) connectBus() error {
	bus := &a.Config.Bus
	switch bus.GetKind() {
	case "nats":
		pub, err := network.NewNatsPublisher(bus.GetURL())
		if err != nil {
			return err
		}
		a.publisher = pub
		a.sink = network.NewBusSink(pub, bus.GetPrefix())
		logging.Info("📨 Обновления блоков публикуются в NATS %s (%s.*)", bus.GetURL(), bus.GetPrefix())
	case "redis":
		pub, err := network.NewRedisPublisher(bus.GetURL(), bus.Password, bus.DB)
		if err != nil {
			return err
		}
		a.publisher = pub
		a.sink = network.NewBusSink(pub, bus.GetPrefix())
		logging.Info("📨 Обновления блоков публикуются в Redis %s (%s.*)", bus.GetURL(), bus.GetPrefix())
	case "log":
		a.sink = network.LogSink{Logger: logging.GetComponentLogger("network")}
	default:
		return fmt.Errorf("неизвестный тип шины %q", bus.Kind)
	}
	return nil
}

func (a *App) closePublisher() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		logging.Warn("⚠️ Ошибка закрытия шины: %v", err)
	}
	a.publisher = nil
}

func (a *App) buildAPI() error {
	cfg := &a.Config.API
	var issuer *auth.TokenIssuer
	if secret := cfg.GetJWTSecret(); secret != "" {
		var err error
		if issuer, err = auth.NewTokenIssuerBase64(secret, cfg.GetTokenTTL()); err != nil {
			return fmt.Errorf("api.jwt_secret: %w", err)
		}
	} else {
		logging.Warn("⚠️ api.jwt_secret не задан - токены не переживут перезапуск")
		issuer = auth.NewTokenIssuer(nil, cfg.GetTokenTTL())
	}

	operators := make(auth.Operators, len(cfg.Operators))
	for name, op := range cfg.Operators {
		operators[strings.ToLower(name)] = auth.Operator{PasswordHash: op.PasswordHash, IsAdmin: op.Admin}
	}
	if len(operators) == 0 {
		logging.Warn("⚠️ Операторы API не настроены - вход невозможен")
	}

	a.API = api.NewRestServer(api.Config{
		Service:   a.Service,
		Issuer:    issuer,
		Operators: operators,
		Registry:  a.Registry,
	})
	return nil
}

// Start запускает фоновый сброс буферов, REST API и HTTP /metrics, если
// для них заданы порты
func (a *App) Start() {
	a.Service.Start()
	if a.API != nil {
		a.startAPI()
	}

	port := a.Config.Metrics.GetPort()
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
}

func (a *App) startAPI() {
	a.apiServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.API.GetPort()),
		Handler:           a.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("🌐 REST API журнала отмены слушает %s", a.apiServer.Addr)
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка REST API сервера: %v", err)
		}
	}()
}

// SaveLevels сохраняет изменённые откатом уровни
func (a *App) SaveLevels() error {
	return a.LevelStore.SaveAll(a.Levels)
}

// Close сбрасывает буферы, сохраняет уровни и освобождает ресурсы
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.Service.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, srv := range []*http.Server{a.apiServer, a.server} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.SaveLevels(); err != nil {
		errs = append(errs, err)
	}
	if err := a.LevelStore.Close(); err != nil {
		errs = append(errs, err)
	}
	a.closePublisher()
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InitLogging настраивает глобальный логгер по конфигурации
func InitLogging(cfg *config.Config, component string) error {
	logging.LogDir = cfg.Logging.GetDir()
	if logging.LogDir != "" {
		if err := os.MkdirAll(logging.LogDir, 0o755); err != nil {
			return err
		}
	}
	if err := logging.InitDefaultLogger(component); err != nil {
		return err
	}
	logging.SetLevels(
		logging.ParseLevel(cfg.Logging.GetConsoleLevel()),
		logging.ParseLevel(cfg.Logging.GetFileLevel()),
	)
	return nil
}
