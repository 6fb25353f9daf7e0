// Package node assembles the transfer monitor from its component services
// and owns the process lifecycle, from configuration load to graceful
// shutdown.
package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/chainsentry/evm-transfer-monitor/cmd/flags"
	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/confirm"
	"github.com/chainsentry/evm-transfer-monitor/monitor/db"
	"github.com/chainsentry/evm-transfer-monitor/monitor/decode"
	"github.com/chainsentry/evm-transfer-monitor/monitor/notify"
	"github.com/chainsentry/evm-transfer-monitor/monitor/observer"
	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/chainsentry/evm-transfer-monitor/monitor/queue"
	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/server"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/runtime"
)

var log = logrus.WithField("prefix", "node")

// MonitorNode wires every monitor service together. It handles the full
// lifecycle of the system and registers services to a service registry.
type MonitorNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.

	cfg     *config.Config
	chain   *config.ChainConfig
	store   *db.Postgres
	gateway *rpc.Gateway
}

// New creates a node instance: it loads the configuration, connects the
// database and the chain RPC endpoint, and registers every service.
func New(cliCtx *cli.Context) (*MonitorNode, error) {
	cfg, err := config.Load(cliCtx.String(flags.ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cliCtx, cfg)

	chainName := cliCtx.String(flags.ChainFlag.Name)
	if chainName == "" {
		chainName = cliCtx.Args().First()
	}
	chain, err := cfg.Chain(chainName)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"chain":         chain.Name,
		"strategy":      cfg.Monitor.Strategy,
		"confirmations": cfg.ConfirmationsFor(chain),
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &MonitorNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		cfg:      cfg,
		chain:    chain,
	}

	if err := n.startDB(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := n.dialChain(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := n.registerServices(ctx); err != nil {
		cancel()
		return nil, err
	}
	return n, nil
}

func applyFlagOverrides(cliCtx *cli.Context, cfg *config.Config) {
	if cliCtx.IsSet(flags.MonitoringHostFlag.Name) {
		cfg.HTTP.Host = cliCtx.String(flags.MonitoringHostFlag.Name)
	}
	if cliCtx.IsSet(flags.MonitoringPortFlag.Name) {
		cfg.HTTP.Port = cliCtx.Int(flags.MonitoringPortFlag.Name)
	}
	if cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		cfg.HTTP.Disabled = true
	}
	if cliCtx.Bool(flags.DisableNotificationsFlag.Name) {
		enabled := false
		cfg.Notification.Enabled = &enabled
	}
}

func (n *MonitorNode) startDB(ctx context.Context) error {
	params, pool := db.ParamsFromConfig(n.cfg.Database)
	store, err := db.NewPostgres(db.ConnectionString(params), pool)
	if err != nil {
		return errors.Wrap(err, "could not connect to postgres")
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "could not prepare database schema")
	}
	n.store = store
	log.WithFields(logrus.Fields{
		"host":     params.Hostname,
		"database": params.Name,
	}).Info("Database connection established")
	return nil
}

func (n *MonitorNode) dialChain(ctx context.Context) error {
	gateway, err := rpc.Dial(ctx, n.chain.RPCURL, rpc.Config{
		HeadCacheTTL: n.cfg.Monitor.HeadCacheTTL(),
		MaxPerSecond: n.cfg.Monitor.MaxRPCPerSecond,
		MaxPerDay:    n.cfg.Monitor.MaxRPCPerDay,
	})
	if err != nil {
		return errors.Wrapf(err, "could not dial chain endpoint %s", n.chain.RPCURL)
	}
	n.gateway = gateway
	return nil
}

func (n *MonitorNode) registerServices(ctx context.Context) error {
	watched := policy.NewWatchedSet()
	if seeded := watched.Merge(n.cfg.Monitor.WatchAddresses); seeded > 0 {
		log.WithField("addresses", seeded).Info("Watchlist seeded from configuration")
	}
	pol, err := policy.New(&n.cfg.Monitor, n.chain, watched)
	if err != nil {
		return errors.Wrap(err, "could not build transfer policy")
	}

	index := pending.NewIndex()
	collector := stats.NewCollector()

	notifier, err := notify.NewService(ctx, &notify.Config{
		Notification: &n.cfg.Notification,
		Store:        n.store,
		Stats:        collector,
	})
	if err != nil {
		return errors.Wrap(err, "could not build notification service")
	}
	if err := n.services.RegisterService(notifier); err != nil {
		return err
	}

	tracker, err := confirm.NewTracker(&confirm.Config{
		Store:    n.store,
		Index:    index,
		Head:     n.gateway,
		Notifier: notifier,
		Stats:    collector,
		Monitor:  &n.cfg.Monitor,
		Chain:    n.chain,
	})
	if err != nil {
		return errors.Wrap(err, "could not build confirmation tracker")
	}

	obs := observer.NewService(ctx, &observer.Config{
		Chain:    n.gateway,
		ChainCfg: n.chain,
		Store:    n.store,
		Index:    index,
		Decoder:  decode.New(n.chain),
		Policy:   pol,
		Tracker:  tracker,
		Stats:    collector,
	})
	if err := n.services.RegisterService(obs); err != nil {
		return err
	}

	updates := queue.NewService(ctx, &queue.Config{
		RabbitMQ:  n.cfg.RabbitMQ,
		ChainName: n.chain.Name,
		Watchlist: watched,
	})
	if err := n.services.RegisterService(updates); err != nil {
		return err
	}

	reloader := policy.NewReloader(ctx, n.cliCtx.String(flags.ConfigFileFlag.Name), n.chain.Name, pol, watched)
	if err := n.services.RegisterService(reloader); err != nil {
		return err
	}

	reporter := stats.NewReporter(ctx, &stats.ReporterConfig{
		Interval:  n.cfg.Monitor.StatsInterval(),
		Collector: collector,
		RPC:       n.gateway,
		Pending:   index,
	})
	if err := n.services.RegisterService(reporter); err != nil {
		return err
	}

	if n.cfg.HTTP.Disabled {
		log.Info("HTTP server disabled")
		return nil
	}
	return n.services.RegisterService(server.NewService(&server.Config{
		HTTP:      &n.cfg.HTTP,
		Registry:  n.services,
		Collector: collector,
		RPC:       n.gateway,
		Policy:    pol,
		Watchlist: watched,
		Index:     index,
		Queue:     updates,
	}))
}

// Start launches every registered service and blocks until an interrupt
// arrives or Close is called.
func (n *MonitorNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the transfer monitor")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *MonitorNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping transfer monitor")
	n.services.StopAll()
	if err := n.store.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	n.gateway.Close()
	n.cancel()
	close(n.stop)
}
