// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/500Foods/Philement-sub005/internal/config"
	"github.com/500Foods/Philement-sub005/internal/logging"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/queue"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the queue fleet for every configured database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logging.New("fleet")

		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}

		m := queue.NewManager()
		m.SetLogger(log)
		defer m.Shutdown(context.Background())

		for _, conn := range cfg.Databases.Connections {
			engCfg, drv, err := resolveConnection(conn)
			if err != nil {
				return err
			}

			if _, err := m.Register(ctx, conn.Name, drv, engCfg, conn.PreparedStatementCacheSize, nil, startsFor(conn)); err != nil {
				return err
			}
			if err := m.RunMigrationTest(ctx, conn.Name, conn.TestMigration); err != nil {
				return err
			}
			log.Info("database %s online (%s)", conn.Name, engCfg.EngineTag)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info("shutting down fleet")
		return nil
	},
}

// resolveConnection turns one configured connection into the
// ConnectionConfig and driver its Lead connects with, sniffing the
// engine from the connection string when the config does not name one.
func resolveConnection(conn config.Connection) (*engine.ConnectionConfig, engine.Driver, error) {
	engCfg, err := conn.Resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving database %q: %w", conn.Name, err)
	}

	drv := engine.Lookup(engCfg.EngineTag)
	if drv == nil {
		return nil, nil, fmt.Errorf("database %q: no driver registered for engine %q", conn.Name, engCfg.EngineTag)
	}
	return engCfg, drv, nil
}

func startsFor(conn config.Connection) map[queue.Tier]int {
	return map[queue.Tier]int{
		queue.TierCache:  conn.Queues.Cache.Start,
		queue.TierFast:   conn.Queues.Fast.Start,
		queue.TierMedium: conn.Queues.Medium.Start,
		queue.TierSlow:   conn.Queues.Slow.Start,
	}
}
