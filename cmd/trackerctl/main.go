//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/tracker/adapters/repos/trackerstate"
	"github.com/weaviate/tracker/usecases/config"
)

const defaultStatePath = "./data/tracker_state.db"

// Options are shared by all commands
type Options struct {
	Config  string `long:"config" short:"c" description:"path to the tracker config file" default:"./tracker.conf.yaml"`
	State   string `long:"state" description:"path to the tracker state file, overrides the config"`
	Verbose bool   `long:"verbose" short:"v" description:"log debug output"`
}

type app struct {
	opts   Options
	log    *logrus.Logger
	stdout io.Writer
}

func main() {
	a := &app{log: logrus.New(), stdout: os.Stdout}
	a.log.SetFormatter(&logrus.JSONFormatter{})

	parser := flags.NewParser(&a.opts, flags.Default)
	parser.AddCommand("list", "list shard cursors",
		"Lists the persisted cursor of every shard.", &listCommand{app: a})
	parser.AddCommand("show", "show a shard cursor",
		"Prints the persisted cursor of a shard, the configured shard if none is given.", &showCommand{app: a})
	parser.AddCommand("reset", "remove a shard cursor",
		"Removes the persisted cursor of a shard. The shard is tracked from the first repository transaction again.",
		&resetCommand{app: a})
	parser.AddCommand("config", "print the effective config",
		"Prints the config after applying the config file and the environment.", &configCommand{app: a})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func (a *app) config() (config.Tracker, error) {
	if a.opts.Verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}
	cfg, err := config.LoadConfig(a.opts.Config, a.log)
	if err != nil {
		return cfg, err
	}
	if a.opts.State != "" {
		cfg.StatePath = a.opts.State
	}
	if cfg.StatePath == "" {
		cfg.StatePath = defaultStatePath
	}
	return cfg, nil
}

// withStore opens the state file for the duration of fn
func (a *app) withStore(fn func(ctx context.Context, cfg config.Tracker, store *trackerstate.Store) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	store := trackerstate.NewStore(cfg.StatePath, a.log)
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, cfg, store)
}

func shardArg(cfg config.Tracker, args []string) (string, error) {
	switch len(args) {
	case 0:
		return cfg.ShardName(), nil
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("expected at most one shard, got %d", len(args))
	}
}

type listCommand struct {
	app *app
}

func (c *listCommand) Execute(args []string) error {
	return c.app.withStore(func(ctx context.Context, _ config.Tracker, store *trackerstate.Store) error {
		entries, err := store.List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(c.app.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SHARD\tLAST TX\tLAST COMMIT\tCYCLES\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", e.Shard, e.State.LastIndexedTxID,
				e.State.LastIndexedTxCommitTime, e.State.TrackerCycles, e.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

type showCommand struct {
	app *app
}

func (c *showCommand) Execute(args []string) error {
	return c.app.withStore(func(ctx context.Context, cfg config.Tracker, store *trackerstate.Store) error {
		shard, err := shardArg(cfg, args)
		if err != nil {
			return err
		}
		state, err := store.LoadState(ctx, shard)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(c.app.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Shard string `json:"shard"`
			State any    `json:"state"`
		}{shard, state})
	})
}

type resetCommand struct {
	app *app
}

func (c *resetCommand) Execute(args []string) error {
	return c.app.withStore(func(ctx context.Context, cfg config.Tracker, store *trackerstate.Store) error {
		shard, err := shardArg(cfg, args)
		if err != nil {
			return err
		}
		existed, err := store.Reset(ctx, shard)
		if err != nil {
			return err
		}
		if !existed {
			c.app.log.WithField("shard", shard).Warn("no cursor stored for shard")
		}
		return nil
	})
}

type configCommand struct {
	app *app
}

func (c *configCommand) Execute(args []string) error {
	cfg, err := c.app.config()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(c.app.stdout)
	defer enc.Close()
	return enc.Encode(cfg)
}
