package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"podiumgo/internal/client"
	"podiumgo/internal/config"
	"podiumgo/internal/logger"
	"podiumgo/internal/review"
)

var (
	serverFlag     string
	tokenFlag      string
	audienceFlag   string
	keyFlag        string
	thumbnailsFlag bool
	nameFlag       string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Upload a deck or recording and stream its audience feedback",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <url>",
	Short: "Transcribe an uploaded recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, transcribeCmd} {
		cmd.Flags().StringVar(&serverFlag, "server", config.GetEnv("PODIUM_SERVER", "http://localhost:8090"), "API base URL")
		cmd.Flags().StringVar(&tokenFlag, "token", config.GetEnv("PODIUM_TOKEN", ""), "auth token")
	}
	analyzeCmd.Flags().StringVarP(&audienceFlag, "audience", "a", "", "who the talk is for")
	analyzeCmd.Flags().StringVar(&keyFlag, "key", "", "review key (random when empty)")
	analyzeCmd.Flags().BoolVar(&thumbnailsFlag, "thumbnails", false, "render page thumbnails locally (needs pdftoppm/ffmpeg)")
	transcribeCmd.Flags().StringVar(&nameFlag, "name", "", "original file name of the recording")
	transcribeCmd.MarkFlagRequired("name")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	log := logger.NewWithWriter(cmd.ErrOrStderr(), "warn", "text")
	api := client.New(serverFlag, tokenFlag, client.WithLogger(log))
	printer := &eventPrinter{out: cmd.OutOrStdout()}
	opts := []review.Option{review.WithLogger(log), review.WithOnUpdate(printer.update)}
	if thumbnailsFlag {
		opts = append(opts, review.WithRenderer(review.ExecRenderer{}))
	}
	cache := review.New(api, opts...)

	err := cache.UploadAndAnalyze(ctx, args[0], audienceFlag, keyFlag)
	cache.Close()
	cache.Wait()
	if err != nil {
		return err
	}
	_, view := cache.View()
	if len(view.Thumbnails) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "rendered %d thumbnails\n", len(view.Thumbnails))
	}
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	api := client.New(serverFlag, tokenFlag)
	text, err := api.Transcribe(cmd.Context(), args[0], nameFlag)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

// eventPrinter writes the parts of the view that changed since the last call.
type eventPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	step      string
	completed int
	units     int
	errors    int
	summary   bool
}

func (p *eventPrinter) update(_ string, view review.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := view.Progress; s.Step != p.step || s.Completed != p.completed {
		if s.Total > 0 {
			fmt.Fprintf(p.out, "[%s %d/%d]\n", s.Step, s.Completed, s.Total)
		} else {
			fmt.Fprintf(p.out, "[%s]\n", s.Step)
		}
		p.step, p.completed = s.Step, s.Completed
	}
	for _, u := range view.Units[min(p.units, len(view.Units)):] {
		fmt.Fprintln(p.out, indent(u))
	}
	p.units = max(p.units, len(view.Units))
	for _, msg := range view.Errors[min(p.errors, len(view.Errors)):] {
		fmt.Fprintln(p.out, "error:", msg)
	}
	p.errors = max(p.errors, len(view.Errors))
	if view.Summary != nil && !p.summary {
		p.summary = true
		fmt.Fprintln(p.out, "summary:")
		fmt.Fprintln(p.out, indent(view.Summary))
	}
}

func indent(raw json.RawMessage) string {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return strings.TrimSpace(string(out))
}
