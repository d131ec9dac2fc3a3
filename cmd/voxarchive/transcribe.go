package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/snarg/voxarchive/internal/transcribe"
	"github.com/spf13/cobra"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		audioPath string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <message-id>",
		Short: "Transcribe one voice message, using the cache unless --force",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := app.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			stop := startSpinner(app.progressEnabled(), "Transcribing")
			res, err := eng.service.Transcribe(cmd.Context(), transcribe.Request{
				MessageID: args[0],
				AudioPath: audioPath,
				HostPath:  true,
				Force:     force,
			})
			stop()
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio file path or store key to use instead of the archive")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore any cached transcription")
	return cmd
}

func newRegenerateCmd(app *appState) *cobra.Command {
	var audioPath string

	cmd := &cobra.Command{
		Use:   "regenerate <message-id>",
		Short: "Drop the cached transcription of a voice message and transcribe it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := app.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			stop := startSpinner(app.progressEnabled(), "Regenerating")
			res, err := eng.service.Regenerate(cmd.Context(), transcribe.Request{
				MessageID: args[0],
				AudioPath: audioPath,
				HostPath:  true,
			})
			stop()
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio file path or store key to use instead of the archive")
	return cmd
}

// printResult writes the result as JSON on stdout. An unsuccessful result
// is also an error so the exit status reflects it.
func printResult(res *transcribe.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("message %s: %s", res.MessageID, res.Message)
	}
	return nil
}
