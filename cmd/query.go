// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/500Foods/Philement-sub005/internal/config"
	"github.com/500Foods/Philement-sub005/pkg/engine"
	"github.com/500Foods/Philement-sub005/pkg/queue"
)

func queryCmd() *cobra.Command {
	var (
		database string
		tier     string
		params   string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one SQL statement against a configured database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}

			conn, err := findConnection(cfg, database)
			if err != nil {
				return err
			}

			engCfg, drv, err := resolveConnection(conn)
			if err != nil {
				return err
			}

			m := queue.NewManager()
			defer m.Shutdown(context.Background())

			if _, err := m.Register(ctx, conn.Name, drv, engCfg, conn.PreparedStatementCacheSize, nil, nil); err != nil {
				return err
			}

			req := &engine.QueryRequest{SQLTemplate: args[0]}
			if params != "" {
				req.ParametersJSON = []byte(params)
			}

			result, err := m.Submit(ctx, conn.Name, queue.Tier(tier), req)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("query failed: %s: %s", result.ErrorKind, result.ErrorMessage)
			}

			fmt.Println(string(result.DataJSON))
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "database", "", "Configured database name (defaults to the first entry)")
	cmd.Flags().StringVar(&tier, "tier", string(queue.TierFast), "Worker tier to route the statement to")
	cmd.Flags().StringVar(&params, "params", "", "Typed parameter envelope as JSON")

	return cmd
}

func findConnection(cfg *config.AppConfig, name string) (config.Connection, error) {
	conns := cfg.Databases.Connections
	if len(conns) == 0 {
		return config.Connection{}, fmt.Errorf("no databases configured")
	}
	if name == "" {
		return conns[0], nil
	}
	for _, c := range conns {
		if c.Name == name {
			return c, nil
		}
	}
	return config.Connection{}, fmt.Errorf("no database configured as %q", name)
}
