package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voxpad/internal/bootstrap"
	"voxpad/internal/config"
	"voxpad/internal/domain"
)

var version = "0.1.0"

type cliFlags struct {
	configFile string
	envFile    string
	quiet      bool

	transcribe TranscribeOptions
	duration   time.Duration
	mimeType   string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	flags := &cliFlags{}

	load := func() (*App, error) {
		opts := []config.LoadOption{config.WithEnvFile(flags.envFile)}
		if flags.configFile != "" {
			opts = append(opts, config.WithConfigFile(flags.configFile))
		}
		cfg, err := config.Load(opts...)
		if err != nil {
			return nil, err
		}
		services, err := bootstrap.Build(cfg, nil, stderr)
		if err != nil {
			return nil, err
		}
		app := NewApp(services, stdin, stdout, stderr)
		app.quiet = flags.quiet
		return app, nil
	}

	rootCmd := &cobra.Command{
		Use:           "voxpad",
		Short:         "Record or load audio and stream its transcription",
		Long:          "voxpad records the microphone or reads an audio file, sends it to a speech model and prints the transcript as it arrives.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/voxpad/voxpad.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "only print the transcript")

	addTranscribeFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&flags.transcribe.Language, "lang", "l", "", "target language: "+languageList())
		cmd.Flags().BoolVarP(&flags.transcribe.Copy, "copy", "c", false, "copy the transcript to the clipboard")
		cmd.Flags().StringVarP(&flags.transcribe.Output, "output", "o", "", "save the transcript to a file or directory")
		cmd.Flags().BoolVarP(&flags.transcribe.Keep, "keep", "k", false, "append the transcript to the local store")
	}

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record the microphone and transcribe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			return app.Record(cmd.Context(), flags.duration, flags.transcribe)
		},
	}
	addTranscribeFlags(recordCmd)
	recordCmd.Flags().DurationVarP(&flags.duration, "duration", "d", 0, "stop recording after this long")

	fileCmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			return app.TranscribeFile(cmd.Context(), args[0], flags.mimeType, flags.transcribe)
		},
	}
	addTranscribeFlags(fileCmd)
	fileCmd.Flags().StringVar(&flags.mimeType, "mime", "", "declared audio type (default is inferred from the extension)")

	formatsCmd := &cobra.Command{
		Use:   "formats",
		Short: "List the recording encodings the recorder supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			return app.Formats(cmd.Context())
		},
	}

	transcriptCmd := &cobra.Command{
		Use:   "transcript",
		Short: "Manage the locally kept transcript",
	}
	transcriptCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the kept transcript",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := load()
				if err != nil {
					return err
				}
				return app.ShowTranscript(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the kept transcript",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := load()
				if err != nil {
					return err
				}
				return app.ClearTranscript(cmd.Context())
			},
		},
	)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voxpad v%s\n", version)
		},
	}

	rootCmd.AddCommand(recordCmd, fileCmd, formatsCmd, transcriptCmd, versionCmd)
	return rootCmd
}

func languageList() string {
	codes := make([]string, 0, len(domain.Languages()))
	for _, lang := range domain.Languages() {
		codes = append(codes, string(lang))
	}
	return strings.Join(codes, ", ")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		stop()
		os.Exit(exitCode(err))
	}
}
