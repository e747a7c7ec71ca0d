/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/einvoice"
	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/database"
	"github.com/blnkfinance/einvoice/internal/cache"
	redlock "github.com/blnkfinance/einvoice/internal/lock"
	redis_db "github.com/blnkfinance/einvoice/internal/redis-db"
)

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// engineInstance carries the engine and its configuration to every subcommand.
type engineInstance struct {
	engine *einvoice.Engine
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration file and builds the engine before any subcommand runs.
func preRun(app *engineInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.engine = engine
		app.cnf = cnf
		return nil
	}
}

// setupEngine connects the status store and, when Redis is configured, the shared
// cache, the submission locks and the bulk queue.
func setupEngine(cfg *config.Configuration) (*einvoice.Engine, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	c, err := cache.NewCache(cfg.Redis, cfg.Cache.EntryTTL)
	if err != nil {
		return nil, fmt.Errorf("error creating cache: %v", err)
	}
	opts := []einvoice.Option{einvoice.WithCache(c)}

	if cfg.Redis.Dns != "" {
		rdb, err := redis_db.FromConfig(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		opts = append(opts, einvoice.WithLocks(redlock.NewRedisFactory(rdb.Client(), "einvoice:submit:")))

		if cfg.Queue.Enabled {
			q, err := einvoice.NewQueue(cfg)
			if err != nil {
				return nil, fmt.Errorf("error creating queue: %v", err)
			}
			opts = append(opts, einvoice.WithQueue(q))
		}
	}

	engine, err := einvoice.New(cfg, db, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating engine: %v", err)
	}
	return engine, nil
}

func NewCLI() *CLI {
	var configFile string
	app := &engineInstance{}

	rootCmd := &cobra.Command{
		Use:   "einvoice",
		Short: "LHDN MyInvois e-invoicing middleware",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./einvoice.json", "Configuration file for the e-invoice middleware")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(scanCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
