// Command worker runs C10: it consumes per-pair work units, builds the
// reserves and trade-volume snapshots, and commits them to the audit
// service. Flag/Action wiring follows the teacher's cmd/abigen shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pairsnap/reserve-indexer/audit"
	"github.com/pairsnap/reserve-indexer/bus"
	"github.com/pairsnap/reserve-indexer/cache"
	"github.com/pairsnap/reserve-indexer/config"
	"github.com/pairsnap/reserve-indexer/events"
	"github.com/pairsnap/reserve-indexer/logging"
	"github.com/pairsnap/reserve-indexer/metrics"
	"github.com/pairsnap/reserve-indexer/pricing"
	"github.com/pairsnap/reserve-indexer/ratelimit"
	"github.com/pairsnap/reserve-indexer/rpc"
	"github.com/pairsnap/reserve-indexer/snapshot"
	"github.com/pairsnap/reserve-indexer/store"
	"github.com/pairsnap/reserve-indexer/worker"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "Path to the pipeline config file",
	Required: true,
}

var app = &cli.App{
	Name:   "worker",
	Usage:  "Build and commit reserves/trade-volume snapshots for work units",
	Flags:  []cli.Flag{configFlag},
	Action: run,
}

func toAddresses(hexAddrs []string) []common.Address {
	out := make([]common.Address, 0, len(hexAddrs))
	for _, a := range hexAddrs {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

func run(c *cli.Context) error {
	logging.Setup(logging.DefaultOptions())

	cfg, err := config.Load(c.String(configFlag.Name), true, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := store.Dial(cfg.StoreAddr, cfg.StoreDB)
	if err != nil {
		return fmt.Errorf("dial store: %w", err)
	}
	st := store.New(rdb, cfg.Namespace)

	rlCapacity, rlPeriod, err := cfg.RPC.RateLimitWindow()
	if err != nil {
		return err
	}
	limiter := ratelimit.New(rdb, cfg.Namespace, rlCapacity, rlPeriod, metrics.NewRateLimiter())

	rpcHelper, err := rpc.New(ctx, cfg.RPC.Endpoint, limiter, metrics.NewRPC())
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer rpcHelper.Close()

	discoverer := cache.NewChainDiscoverer(rpcHelper)
	metaCache := cache.NewMetadataCache(st, discoverer, 1024)
	priceCache := cache.NewPriceCache(st, cfg.PricePruneHorizonBlocks)

	engine := pricing.New(
		rpcHelper, metaCache, priceCache,
		common.HexToAddress(cfg.Contracts.Factory),
		common.HexToAddress(cfg.Contracts.Router),
		common.HexToAddress(cfg.Contracts.WETH),
		toAddresses(cfg.Whitelist),
		[]common.Address{common.HexToAddress(cfg.Contracts.USDT), common.HexToAddress(cfg.Contracts.DAI)},
	)
	extractor := events.NewExtractor(rpcHelper, engine)
	resBuilder := snapshot.NewReservesBuilder(rpcHelper, metaCache)
	tvBuilder := snapshot.NewTradeVolumeBuilder(rpcHelper, extractor, metaCache)

	auditClient := audit.New(cfg.AuditBaseURL, cfg.HTTPTimeouts.ConnectionInit, cfg.HTTPTimeouts.Archival)

	b, err := bus.Dial(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("dial bus: %w", err)
	}
	defer b.Close()

	subtopicsExchange := fmt.Sprintf("callbacks.subtopics:%s", cfg.Namespace)
	workerQueue := fmt.Sprintf("%s-backend-cb-pair_total_reserves-processor:%s", cfg.ProjectTag, cfg.Namespace)
	routingKey := fmt.Sprintf("%s-backend-callback:%s.pair_total_reserves_worker.processor", cfg.ProjectTag, cfg.Namespace)

	if err := b.DeclareTopicExchange(subtopicsExchange); err != nil {
		return fmt.Errorf("declare subtopics exchange: %w", err)
	}
	if err := b.DeclareQueue(workerQueue, subtopicsExchange, routingKey); err != nil {
		return fmt.Errorf("declare worker queue: %w", err)
	}

	consumer := bus.NewConsumer(b, workerQueue)
	msgs, err := consumer.Consume(uuid.NewString())
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	w := worker.New(st, resBuilder, tvBuilder, auditClient, uuid.NewString(), metrics.NewWorker())
	w.Run(ctx, msgs)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
