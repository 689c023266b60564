// Command indexerctl is a read-only diagnostics CLI for the pipeline: it
// tails a pair's dead-letter list and a broadcast's progress log out of
// the shared store, and exercises the factory/router ABI helpers against
// the live chain for ad-hoc pair enumeration and price-path quoting.
// Flag/Action wiring follows the teacher's cmd/abigen shape, one
// urfave/cli/v2 subcommand per diagnostic.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/pairsnap/reserve-indexer/chain"
	"github.com/pairsnap/reserve-indexer/config"
	"github.com/pairsnap/reserve-indexer/logging"
	"github.com/pairsnap/reserve-indexer/metrics"
	"github.com/pairsnap/reserve-indexer/ratelimit"
	"github.com/pairsnap/reserve-indexer/rpc"
	"github.com/pairsnap/reserve-indexer/store"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "Path to the pipeline config file",
	Required: true,
}

var pairFlag = &cli.StringFlag{
	Name:     "pair",
	Usage:    "Pair contract address",
	Required: true,
}

var broadcastFlag = &cli.StringFlag{
	Name:     "broadcast",
	Usage:    "Broadcast epoch ID",
	Required: true,
}

var amountFlag = &cli.StringFlag{
	Name:  "amount-in",
	Usage: "Input amount in wei",
	Value: "1000000000000000000",
}

var app = &cli.App{
	Name:  "indexerctl",
	Usage: "Inspect the pipeline's store and chain state",
	Commands: []*cli.Command{
		{
			Name:   "dead-letters",
			Usage:  "List the queued dead-letter work units for a pair",
			Flags:  []cli.Flag{configFlag, pairFlag},
			Action: deadLetters,
		},
		{
			Name:   "progress-log",
			Usage:  "Tail a broadcast's progress log",
			Flags:  []cli.Flag{configFlag, broadcastFlag},
			Action: progressLog,
		},
		{
			Name:   "list-pairs",
			Usage:  "Enumerate pairs tracked by the configured factory",
			Flags:  []cli.Flag{configFlag},
			Action: listPairs,
		},
		{
			Name:   "price-path",
			Usage:  "Quote a whitelist token's route to WETH via the router",
			Flags:  []cli.Flag{configFlag, amountFlag, &cli.StringFlag{Name: "token", Required: true}},
			Action: pricePath,
		},
	},
}

func dialStore(c *cli.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name), false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	rdb, err := store.Dial(cfg.StoreAddr, cfg.StoreDB)
	if err != nil {
		return nil, nil, fmt.Errorf("dial store: %w", err)
	}
	return store.New(rdb, cfg.Namespace), cfg, nil
}

func deadLetters(c *cli.Context) error {
	st, _, err := dialStore(c)
	if err != nil {
		return err
	}
	entries, err := st.ListDeadLetters(context.Background(), strings.ToLower(c.String(pairFlag.Name)))
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Broadcast ID", "Begin", "End"})
	for _, e := range entries {
		parts := strings.SplitN(e, "|", 3)
		if len(parts) != 3 {
			continue
		}
		table.Append(parts)
	}
	table.Render()
	return nil
}

func progressLog(c *cli.Context) error {
	st, _, err := dialStore(c)
	if err != nil {
		return err
	}
	entries, err := st.TailProgress(context.Background(), c.String(broadcastFlag.Name))
	if err != nil {
		return fmt.Errorf("tail progress log: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Worker", "Action", "Status", "Info"})
	for _, e := range entries {
		parts := strings.SplitN(e, "|", 5)
		if len(parts) < 4 {
			continue
		}
		table.Append(parts[:4])
	}
	table.Render()
	return nil
}

func dialRPC(c *cli.Context) (*rpc.Helper, *config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name), false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	rdb, err := store.Dial(cfg.StoreAddr, cfg.StoreDB)
	if err != nil {
		return nil, nil, fmt.Errorf("dial store: %w", err)
	}
	rlCapacity, rlPeriod, err := cfg.RPC.RateLimitWindow()
	if err != nil {
		return nil, nil, err
	}
	limiter := ratelimit.New(rdb, cfg.Namespace, rlCapacity, rlPeriod, metrics.NewRateLimiter())
	helper, err := rpc.New(context.Background(), cfg.RPC.Endpoint, limiter, metrics.NewRPC())
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	return helper, cfg, nil
}

// listPairs walks the factory's allPairs array end to end, per spec
// §9's supplemented factory-enumeration diagnostic.
func listPairs(c *cli.Context) error {
	helper, cfg, err := dialRPC(c)
	if err != nil {
		return err
	}
	defer helper.Close()
	ctx := context.Background()
	factory := common.HexToAddress(cfg.Contracts.Factory)

	lenData, err := helper.CallLatest(ctx, factory, chain.PackAllPairsLength)
	if err != nil {
		return fmt.Errorf("allPairsLength: %w", err)
	}
	length, err := chain.UnpackAllPairsLength(lenData)
	if err != nil {
		return fmt.Errorf("unpack allPairsLength: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Index", "Pair"})
	one := big.NewInt(1)
	for i := new(big.Int); i.Cmp(length) < 0; i.Add(i, one) {
		idx := new(big.Int).Set(i)
		data, err := helper.CallLatest(ctx, factory, func() ([]byte, error) { return chain.PackAllPairs(idx) })
		if err != nil {
			return fmt.Errorf("allPairs(%s): %w", idx, err)
		}
		pair, err := chain.UnpackAllPairs(data)
		if err != nil {
			return fmt.Errorf("unpack allPairs(%s): %w", idx, err)
		}
		table.Append([]string{idx.String(), pair.Hex()})
	}
	table.Render()
	return nil
}

// pricePath prints the router's hop-by-hop getAmountsOut quote from the
// given token to WETH, the diagnostic companion to pricing.Engine's
// whitelist-router cascade (spec §9's supplemented multi-hop helper).
func pricePath(c *cli.Context) error {
	helper, cfg, err := dialRPC(c)
	if err != nil {
		return err
	}
	defer helper.Close()
	ctx := context.Background()
	router := common.HexToAddress(cfg.Contracts.Router)
	weth := common.HexToAddress(cfg.Contracts.WETH)
	token := common.HexToAddress(c.String("token"))

	amountIn, ok := new(big.Int).SetString(c.String(amountFlag.Name), 10)
	if !ok {
		return fmt.Errorf("invalid amount-in %q", c.String(amountFlag.Name))
	}
	path := []common.Address{token, weth}

	data, err := helper.CallLatest(ctx, router, func() ([]byte, error) {
		return chain.PackGetAmountsOut(amountIn, path)
	})
	if err != nil {
		return fmt.Errorf("getAmountsOut: %w", err)
	}
	amounts, err := chain.UnpackGetAmountsOut(data)
	if err != nil {
		return fmt.Errorf("unpack getAmountsOut: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Hop", "Token", "Amount"})
	for i, addr := range path {
		table.Append([]string{fmt.Sprintf("%d", i), addr.Hex(), amounts[i].String()})
	}
	table.Render()
	return nil
}

func main() {
	logging.Setup(logging.DefaultOptions())
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
