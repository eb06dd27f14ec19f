package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/mabmrun/mabm/pkg/config"
)

func (a *app) cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s rank=%d world_size=%d\n", bold("process"), cfg.Rank, cfg.WorldSize)
	fmt.Printf("%s mode=%s transport=%s seed=%d\n", bold("config"), cfg.Mode, cfg.Transport, cfg.Seed)

	runID := resolveRunID(cfg.RunID)
	fmt.Printf("%s %s\n", bold("run id"), runID)

	switch cfg.Transport {
	case "sqlite":
		fmt.Printf("%s %s\n", bold("sqlite path"), cfg.SQLitePath)
	case "kafka":
		fmt.Printf("%s %s\n", bold("kafka brokers"), cfg.KafkaBrokers)
	}
	return 0
}
