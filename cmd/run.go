package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	jRPC "github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/0xPolygon/zkevm-ethtx-manager/ethtxmanager"
	ethtxlog "github.com/0xPolygon/zkevm-ethtx-manager/log"
	"github.com/defibridge/bridgedata"
	"github.com/defibridge/bridgedata/bridge"
	"github.com/defibridge/bridgedata/bridge/tranche"
	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/config"
	"github.com/defibridge/bridgedata/etherman"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/defibridge/bridgedata/readiness"
	"github.com/defibridge/bridgedata/rpc"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// ledgerBackend is everything the node reads from and writes to the ledger
type ledgerBackend interface {
	ledger.Dispatcher
	interaction.Clock
	eventindex.History
}

func start(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	log.Init(c.Log)

	if c.Log.Environment == log.EnvironmentDevelopment {
		bridgedata.PrintVersion(os.Stdout)
		log.Info("Starting application")
	} else if c.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	bridges := bridge.NewDirectory()

	var (
		backend ledgerBackend
		locator eventindex.BatchLocator
		sim     *ledger.Simulated
	)
	if cliCtx.Bool(config.FlagSimulated) {
		sim = newSimulatedLedger(c, bridges)
		backend, locator = sim, sim
	} else {
		backend = newEVMLedger(c)
		locator = eventindex.NewIndexerClient(c.EventIndex.IndexerURL)
	}

	local, err := interaction.NewRegistrySQLStorage(log.WithFields("module", "registry"), c.Registry.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer local.Close()

	index, err := eventindex.New(log.WithFields("module", "eventindex"), c.EventIndex, locator, backend)
	if err != nil {
		log.Fatal(err)
	}
	registry := lifecycle.NewLedgerRegistry(
		log.WithFields("module", "registry"), c.Lifecycle, local, backend, index, bridges,
	)
	estimator := presentvalue.NewEstimator(log.WithFields("module", "presentvalue"), index, registry, backend)
	oracle := readiness.New(registry, backend)
	registerTranches(c.Tranches, bridges, estimator, registry, oracle, backend)

	coordinator := lifecycle.New(
		log.WithFields("module", "lifecycle"), c.Lifecycle, registry, oracle, backend, bridges,
	)

	g, gctx := errgroup.WithContext(ctx)
	if sim != nil && c.Simulated.ClockTick.Duration > 0 {
		g.Go(func() error {
			sim.FollowWallClock(gctx, c.Simulated.ClockTick.Duration)
			return nil
		})
	}
	for _, component := range cliCtx.StringSlice(config.FlagComponents) {
		switch component {
		case bdcommon.RPC:
			server := createRPC(c.RPC, coordinator, oracle, registry, estimator)
			go func() {
				if err := server.Start(); err != nil {
					log.Fatal(err)
				}
			}()
		case bdcommon.AUTO_FINALISER:
			logger := log.WithFields("module", bdcommon.AUTO_FINALISER)
			finaliser := lifecycle.NewAutoFinaliser(logger, c.AutoFinaliser, coordinator)
			g.Go(func() error {
				return finaliser.Start(gctx)
			})
		default:
			log.Warnf("unknown component %s", component)
		}
	}
	g.Go(func() error {
		waitSignal(gctx)
		cancel()
		return nil
	})

	return g.Wait()
}

func newSimulatedLedger(c *config.Config, bridges *bridge.Directory) *ledger.Simulated {
	now := c.Simulated.StartTime
	if now == 0 {
		now = uint64(time.Now().Unix())
	}
	sim, err := ledger.NewSimulated(now, c.EventIndex.InteractionsPerBatch, bridges)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("running against the simulated ledger, ledger time %d", now)
	return sim
}

func newEVMLedger(c *config.Config) *ledger.EVMLedger {
	client, err := etherman.NewClient(c.Etherman)
	if err != nil {
		log.Fatal(err)
	}
	c.Ledger.EthTxManager.Log = ethtxlog.Config{
		Environment: ethtxlog.LogEnvironment(c.Log.Environment),
		Level:       c.Log.Level,
		Outputs:     c.Log.Outputs,
	}
	ethTxManager, err := ethtxmanager.New(c.Ledger.EthTxManager)
	if err != nil {
		log.Fatal(err)
	}
	go ethTxManager.Start()

	return ledger.NewEVMLedger(log.WithFields("module", "ledger"), c.Ledger.Config, client, ethTxManager)
}

func registerTranches(
	cfgs []tranche.Config,
	bridges *bridge.Directory,
	estimator *presentvalue.Estimator,
	registry interaction.Registry,
	oracle *readiness.Oracle,
	clock interaction.Clock,
) {
	for _, cfg := range cfgs {
		logger := log.WithFields("module", "tranche", "address", cfg.Address.Hex())
		b := tranche.New(logger, cfg, tranche.StaticMarkets(cfg.Terms), estimator, registry, oracle, clock)
		bridges.Register(cfg.Address, b)
		logger.Infof("registered tranche bridge with %d terms", len(cfg.Terms))
	}
}

func createRPC(
	cfg jRPC.Config,
	coordinator *lifecycle.Coordinator,
	oracle *readiness.Oracle,
	registry interaction.Registry,
	estimator *presentvalue.Estimator,
) *jRPC.Server {
	logger := log.WithFields("module", bdcommon.RPC)
	services := []jRPC.Service{
		{
			Name: rpc.BRIDGEDATA,
			Service: rpc.NewBridgeDataEndpoints(
				logger,
				cfg.WriteTimeout.Duration,
				cfg.ReadTimeout.Duration,
				coordinator,
				oracle,
				registry,
				estimator,
			),
		},
	}

	return jRPC.NewServer(cfg, services, jRPC.WithLogger(logger.GetSugaredLogger()))
}

func logVersion() {
	log.Infow("Starting application",
		// version is already logged by default
		"gitRevision", bridgedata.GitRev,
		"gitBranch", bridgedata.GitBranch,
		"goVersion", runtime.Version(),
		"built", bridgedata.BuildDate,
		"os/arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func waitSignal(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)

	select {
	case <-signals:
		log.Info("terminating application gracefully...")
	case <-ctx.Done():
	}
}
