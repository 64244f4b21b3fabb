package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/internal/tui"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	runMode      string
	runIntent    string
	runPriority  int
	runProvider  string
	runPinned    bool
	runThreshold int
	runTUI       bool
	runJSON      bool
	runVerbose   bool
	runNoStore   bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Execute one run in this process",
	Long: `Execute a run through the pipeline and print progress as it happens.

Modes:
  chat     a single code stage with one agent
  swarm    every stage, one agent each (default)
  project  every stage with full fan-out, plus a YAML plan artifact

The run is recorded in the run store unless --no-store is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runMode, "mode", "m", string(models.ModeSwarm), "chat, swarm or project")
	runCmd.Flags().StringVar(&runIntent, "intent", "", "free-form hint about the purpose of the run")
	runCmd.Flags().IntVarP(&runPriority, "priority", "p", 0, "queue priority 0-100")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "preferred provider")
	runCmd.Flags().BoolVar(&runPinned, "pinned", false, "use only the preferred provider")
	runCmd.Flags().IntVar(&runThreshold, "threshold", 0, "confidence threshold override (0 uses config)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show the live agent grid")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final run as JSON")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "stream agent output")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not record the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	req := models.RunRequest{
		Prompt:              strings.Join(args, " "),
		Mode:                models.Mode(runMode),
		Intent:              runIntent,
		Priority:            runPriority,
		PreferredProvider:   runProvider,
		ConfidenceThreshold: runThreshold,
		Owner:               os.Getenv("USER"),
	}
	if runPinned {
		req.SelectionMode = models.SelectionPinned
	}

	var store state.Store
	if !runNoStore {
		s, err := state.OpenStore(ctx, cfg.Store)
		if err != nil {
			logger.Warn("run store unavailable, continuing without history", "error", err)
		} else {
			store = s
		}
	}

	eng, err := newEngine(ctx, cfg, engineDeps{store: store}, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = eng.Close(closeCtx)
	}()

	sub := eng.bus.Subscribe()
	defer sub.Close()

	run, err := eng.queue.Enqueue(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runTUI {
		status, err := tui.Run(ctx, run.ID, sub.C())
		if err != nil {
			return err
		}
		if !status.Terminal() {
			eng.queue.CancelJob(run.ID)
		}
	} else {
		follow(ctx, out, run.ID, sub.C(), runVerbose, func() { eng.queue.CancelJob(run.ID) })
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	final, err := eng.queue.Wait(waitCtx, run.ID)
	if err != nil {
		return err
	}
	return printFinal(out, final, runJSON)
}

// follow prints events for runID until the run is terminal. The first ctx
// cancellation calls cancel and keeps following so the terminal event is
// still shown.
func follow(ctx context.Context, w io.Writer, runID string, events <-chan broadcast.Event, verbose bool, cancel func()) {
	done := ctx.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.RunID != runID {
				continue
			}
			if line := formatEvent(ev, verbose); line != "" {
				fmt.Fprintln(w, line)
			}
			if isTerminal(ev) {
				return
			}
		case <-done:
			done = nil
			cancel()
		}
	}
}

func isTerminal(ev broadcast.Event) bool {
	switch ev.Type {
	case broadcast.KindResult, broadcast.KindError:
		return true
	case broadcast.KindRunStatus:
		d, ok := ev.Data.(broadcast.RunStatusData)
		return ok && d.Status.Terminal()
	}
	return false
}

// formatEvent renders one event as a single coloured line, or "" to skip it.
func formatEvent(ev broadcast.Event, verbose bool) string {
	switch d := ev.Data.(type) {
	case broadcast.RunStatusData:
		line := fmt.Sprintf("▸ run %s", d.Status)
		if d.Reason != "" {
			line += " (" + d.Reason + ")"
		}
		return color.CyanString(line)
	case models.AgentInstance:
		line := fmt.Sprintf("  [%s] %s", d.Stage, d.ID)
		if d.Provider != "" {
			line += " via " + d.Provider
		}
		switch d.Status {
		case models.AgentStatusCompleted:
			return color.GreenString("%s ✓ completed", line)
		case models.AgentStatusFailed:
			return color.RedString("%s ✗ failed: %s", line, d.Reason)
		case models.AgentStatusCancelled:
			return color.YellowString("%s cancelled", line)
		case models.AgentStatusRunning:
			return line + " running"
		default:
			if !verbose {
				return ""
			}
			return color.HiBlackString("%s %s", line, d.Status)
		}
	case broadcast.AgentOutputData:
		if !verbose || strings.TrimSpace(d.Text) == "" {
			return ""
		}
		return color.HiBlackString("    │ %s", strings.TrimRight(d.Text, "\n"))
	case models.StageAnalysis:
		line := fmt.Sprintf("● %s confidence %d%% (pass rate %.0f%%, attempt %d)",
			d.Stage, d.Confidence, d.PassRate*100, d.Attempts)
		if d.Degraded {
			return color.YellowString("%s degraded", line)
		}
		return color.New(color.Bold).Sprint(line)
	case broadcast.ResultData:
		conf := 0
		if d.Result != nil {
			conf = d.Result.Confidence
		}
		return color.GreenString("✓ run %s with confidence %d%%", d.Status, conf)
	case broadcast.ErrorData:
		return color.RedString("✗ run failed [%s]: %s", d.Code, d.Message)
	}
	return ""
}

// printFinal writes the run's output and maps its status to an exit error.
func printFinal(w io.Writer, run *models.Run, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else if run.Result != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, run.Result.Output)
		if run.Result.PlanYAML != "" {
			fmt.Fprintln(w)
			fmt.Fprintln(w, color.New(color.Bold).Sprint("Plan:"))
			fmt.Fprint(w, run.Result.PlanYAML)
		}
		if run.Result.FromFallback {
			fmt.Fprintln(w, color.YellowString("(synthesis failed; showing the best code output)"))
		}
	}

	switch run.Status {
	case models.RunStatusCompleted:
		return nil
	case models.RunStatusCancelled:
		return errors.New("run cancelled")
	default:
		return fmt.Errorf("run %s: %s", run.Status, run.Error)
	}
}
