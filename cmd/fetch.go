package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"tripdemand.dev/trips/downloader"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <handle>",
	Short: "Downloads a file from the drive, getting past any confirmation page",
	Args:  cobra.ExactArgs(1),
	RunE:  fetch,
}

var fetchOutput string

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(fetchCmd)
}

// Runs write against the file at path, or stdout when path is empty,
// in which case logs move to stderr. Call it once the output is ready
// so a failed command leaves no file behind.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		log.SetOutput(os.Stderr)
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func fetchTo(ctx context.Context, drive *downloader.Drive, handle string, h map[string]string, path string) error {
	url := drive.URL(handle)

	body, err := drive.Get(ctx, url, h, drive.Options)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}

	err = writeOutput(path, func(w io.Writer) error {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("writing: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[FETCH] done url=%s bytes=%d", url, len(body))
	return nil
}

func fetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	h, err := parseHeaders(headers)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	return fetchTo(cmd.Context(), buildDrive(cfg.Dataset), args[0], h, fetchOutput)
}
