// Command distributor runs C9: it consumes broadcast epochs off the
// shared callbacks queue and fans WorkUnits out to the worker pool.
// Flag/Action wiring follows the teacher's cmd/abigen shape: a small
// urfave/cli/v2 app backed by one Action function.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pairsnap/reserve-indexer/bus"
	"github.com/pairsnap/reserve-indexer/config"
	"github.com/pairsnap/reserve-indexer/distributor"
	"github.com/pairsnap/reserve-indexer/logging"
	"github.com/pairsnap/reserve-indexer/store"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "Path to the pipeline config file",
	Required: true,
}

var app = &cli.App{
	Name:  "distributor",
	Usage: "Fan broadcast epochs out into per-pair work units",
	Flags: []cli.Flag{configFlag},
	Action: run,
}

func run(c *cli.Context) error {
	logging.Setup(logging.DefaultOptions())

	cfg, err := config.Load(c.String(configFlag.Name), false, nil)
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

	b, err := bus.Dial(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("dial bus: %w", err)
	}
	defer b.Close()

	callbacksExchange := fmt.Sprintf("callbacks:%s", cfg.Namespace)
	inboundQueue := fmt.Sprintf("%s-backend-cb:%s", cfg.ProjectTag, cfg.Namespace)
	subtopicsExchange := fmt.Sprintf("callbacks.subtopics:%s", cfg.Namespace)

	if err := b.DeclareTopicExchange(callbacksExchange); err != nil {
		return fmt.Errorf("declare callbacks exchange: %w", err)
	}
	if err := b.DeclareTopicExchange(subtopicsExchange); err != nil {
		return fmt.Errorf("declare subtopics exchange: %w", err)
	}
	if err := b.DeclareQueue(inboundQueue, callbacksExchange, "#"); err != nil {
		return fmt.Errorf("declare inbound queue: %w", err)
	}

	publisher := bus.NewPublisher(b, subtopicsExchange)
	consumer := bus.NewConsumer(b, inboundQueue)

	msgs, err := consumer.Consume(uuid.NewString())
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	d := distributor.New(publisher, st, cfg.Namespace, cfg.ProjectTag, uuid.NewString())
	d.Run(ctx, msgs)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
