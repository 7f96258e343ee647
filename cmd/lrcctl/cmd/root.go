package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/makeasinger/lrcgen/cmd/lrcctl/cmd/process"
	"github.com/makeasinger/lrcgen/cmd/lrcctl/cmd/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lrcctl",
	Short: "Turn an audio file into LRC lyrics using the lrcgen server",
	Long: `Turn an audio file into LRC lyrics using the lrcgen server.

- The audio file (mp3, wav, aac, flac, at most 4MB) is uploaded with your Gemini API key
- The returned lyrics are saved as lyrics.lrc`,
	TraverseChildren: true,
	SilenceUsage:     true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(process.Cmd)
	rootCmd.AddCommand(version.Cmd)
}

// initConfig lets LRCCTL_* environment variables fill any flag left unset
func initConfig() {
	viper.SetEnvPrefix("lrcctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
