// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	// Register every engine driver with the process-wide registry.
	_ "github.com/500Foods/Philement-sub005/pkg/engine/db2"
	_ "github.com/500Foods/Philement-sub005/pkg/engine/mysql"
	_ "github.com/500Foods/Philement-sub005/pkg/engine/postgres"
	_ "github.com/500Foods/Philement-sub005/pkg/engine/sqlite"
)

// Version is the dbfleet version
var Version = "development"

func init() {
	viper.SetEnvPrefix("PHILEMENT")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", "dbfleet.yaml", "Path to the fleet configuration file")

	// Every persistent flag is overridable via PHILEMENT_<NAME>.
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(strings.ToUpper(f.Name), f)
	})
}

var rootCmd = &cobra.Command{
	Use:          "dbfleet",
	SilenceUsage: true,
	Version:      Version,
}

func configPath() string {
	return viper.GetString("CONFIG")
}

// Execute executes the root command.
func Execute() error {
	// register subcommands
	rootCmd.AddCommand(enginesCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(queryCmd())

	return rootCmd.Execute()
}
