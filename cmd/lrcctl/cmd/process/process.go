package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/makeasinger/lrcgen/pkg/form"
)

func init() {
	Cmd.Flags().StringP("server", "s", "http://localhost:8000", "lrcgen server base URL")
	Cmd.Flags().StringP("api-key", "k", "", "Gemini API key")
	Cmd.Flags().StringP("out", "o", ".", "directory to write lyrics.lrc into")

	_ = viper.BindPFlag("server", Cmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("api-key", Cmd.Flags().Lookup("api-key"))
	_ = viper.BindPFlag("out", Cmd.Flags().Lookup("out"))
}

// Cmd represents the process command
var Cmd = &cobra.Command{
	Use:   "process <audio-file>",
	Short: "Upload an audio file and save the generated lyrics.lrc",
	Long: `Upload an audio file and save the generated lyrics.lrc

- Supported files: .mp3, .wav, .aac, .flac up to 4MB
- Flags can also be set with LRCCTL_SERVER, LRCCTL_API_KEY and LRCCTL_OUT`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), options{
			server: viper.GetString("server"),
			apiKey: viper.GetString("api-key"),
			out:    viper.GetString("out"),
			path:   args[0],
		}, cmd.OutOrStdout())
	},
}

type options struct {
	server string
	apiKey string
	out    string
	path   string
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !form.Accepts(opts.path) {
		return fmt.Errorf("unsupported file type %q, expected one of %s",
			filepath.Ext(opts.path), strings.Join(form.AcceptedExtensions, ", "))
	}

	data, err := os.ReadFile(opts.path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	f := form.New(strings.TrimRight(opts.server, "/") + "/api/process")
	f.SetAPIKey(opts.apiKey)
	if err := f.SelectFile(form.File{Name: filepath.Base(opts.path), Data: data}); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "处理中...")
	if _, err := f.Submit(ctx); err != nil {
		return err
	}

	path, err := f.Download(opts.out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "lyrics saved to %s\n", path)
	return nil
}
