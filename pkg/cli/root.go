package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wozorio/regclean/pkg/config"
)

// "regclean" - registry cleanup cli.
func NewCliRootCmd() *cobra.Command {
	showVersion := false

	rootCmd := &cobra.Command{
		Use:   "regclean",
		Short: "`regclean`",
		Long:  "`regclean` deletes dangling and outdated images from a container registry",
		Run: func(cmd *cobra.Command, args []string) {
			if showVersion {
				log.Info().Str("commit", config.Commit).
					Str("binary-type", config.BinaryType).Str("go version", config.GoVersion).Msg("version")
			} else {
				_ = cmd.Usage()
				cmd.SilenceErrors = false
			}
		},
	}

	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(NewRunCommand())

	rootCmd.Flags().BoolVarP(&showVersion, VersionFlag, "v", false, "show the version and exit")

	return rootCmd
}
