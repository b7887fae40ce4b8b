package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/halfreduce/internal/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the registered reduction strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := strategy.NewRegistry()
		for _, name := range reg.Names() {
			s, _ := reg.Get(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", s.Name(), s.Description())
		}
		return nil
	},
}
