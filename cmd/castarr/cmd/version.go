package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/castarr/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of castarr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			data, err := version.JSON()
			if err != nil {
				return fmt.Errorf("encoding version: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Println(version.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
