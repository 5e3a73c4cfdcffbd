// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the registered database engines",
	RunE: func(_ *cobra.Command, _ []string) error {
		for _, tag := range engine.Registered() {
			fmt.Println(tag)
		}
		return nil
	},
}
