package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	runsStatus string
	runsOwner  string
	runsLimit  int
	runsOffset int
	serverURL  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.OpenStore(cmd.Context(), cfg.Store)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		defer store.Close()

		runs, err := store.List(cmd.Context(), state.Filter{
			Status: models.RunStatus(runsStatus),
			Owner:  runsOwner,
			Limit:  runsLimit,
			Offset: runsOffset,
		})
		if err != nil {
			return err
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one recorded run and its agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := state.OpenStore(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		defer store.Close()

		run, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		instances, err := store.ListInstances(ctx, run.ID)
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), run, instances)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := serverURL
		if base == "" {
			base = "http://" + localAddr(cfg.Server.Addr)
		}
		cancelled, run, err := cancelRemote(cmd.Context(), http.DefaultClient, base, args[0])
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", run.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s already %s\n", run.ID, run.Status)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().StringVar(&runsOwner, "owner", "", "filter by owner")
	runsCmd.Flags().IntVar(&runsLimit, "limit", state.DefaultListLimit, "maximum runs to show")
	runsCmd.Flags().IntVar(&runsOffset, "offset", 0, "runs to skip")

	cancelCmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from server.addr)")
}

// localAddr turns a listen address such as ":8080" into a dialable one.
func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

type cancelReply struct {
	Cancelled bool        `json:"cancelled"`
	Run       *models.Run `json:"run"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func cancelRemote(ctx context.Context, client *http.Client, base, id string) (bool, *models.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(base, "/") + "/api/runs/" + id + "/cancel"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, nil, err
	}
	var reply cancelReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, nil, fmt.Errorf("decoding response (%s): %w", resp.Status, err)
	}
	if reply.Error != nil {
		return false, nil, fmt.Errorf("%s: %s", reply.Error.Code, reply.Error.Message)
	}
	if reply.Run == nil {
		return false, nil, errors.New("server returned no run")
	}
	return reply.Cancelled, reply.Run, nil
}

func statusColor(s models.RunStatus) func(format string, a ...interface{}) string {
	switch s {
	case models.RunStatusCompleted:
		return color.GreenString
	case models.RunStatusFailed:
		return color.RedString
	case models.RunStatusCancelled, models.RunStatusPaused:
		return color.YellowString
	case models.RunStatusRunning:
		return color.CyanString
	default:
		return fmt.Sprintf
	}
}

func printRuns(w io.Writer, runs []*models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tCONF\tQUEUED\tPROMPT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			statusColor(r.Status)("%s", r.Status),
			r.Mode,
			r.Confidence(),
			r.QueuedAt.Local().Format("2006-01-02 15:04"),
			truncatePrompt(r.Prompt, 50))
	}
	tw.Flush()
}

func printRun(w io.Writer, run *models.Run, instances []models.AgentInstance) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:   %s\n", statusColor(run.Status)("%s", run.Status))
	fmt.Fprintf(w, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(w, "Priority: %d\n", run.Priority)
	fmt.Fprintf(w, "Prompt:   %s\n", truncatePrompt(run.Prompt, 72))
	fmt.Fprintf(w, "Queued:   %s\n", run.QueuedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil && run.StartedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", run.CompletedAt.Sub(*run.StartedAt).Round(time.Second))
	}
	if len(run.Providers) > 0 {
		fmt.Fprintf(w, "Providers: %s\n", strings.Join(run.Providers, ", "))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", color.RedString(run.Error))
	}

	if run.Result != nil {
		fmt.Fprintf(w, "\nConfidence: %d%%", run.Result.Confidence)
		if run.Result.Degraded {
			fmt.Fprint(w, color.YellowString(" (degraded)"))
		}
		fmt.Fprintln(w)
		for _, a := range run.Result.Stages {
			fmt.Fprintf(w, "  %-10s %3d%%  attempts %d\n", a.Stage, a.Confidence, a.Attempts)
		}
	}

	if len(instances) > 0 {
		fmt.Fprintln(w, "\nAgents:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, inst := range instances {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", inst.ID, inst.Stage, inst.Provider, inst.Status, inst.Reason)
		}
		tw.Flush()
	}
}

func truncatePrompt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
