package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/intelliinspect/internal/api"
	"github.com/kalambet/intelliinspect/internal/config"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/partition"
	"github.com/kalambet/intelliinspect/internal/simulate"
	"github.com/kalambet/intelliinspect/internal/storage"
)

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classifier on parsed.csv and the stored range selection",
	Long: `Train the classifier on parsed.csv and the stored range selection.

By default the request goes to the running server. With --local the
pipeline runs in this process against the configured data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		ctx := cmd.Context()

		if local {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, store, err := newLocalService(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			printStep("Training on %s", cfg.Storage.DataDir)
			rec, err := svc.Train(ctx)
			if err != nil {
				if rec.Status == evaluate.StatusError {
					printRecord(rec)
				}
				return err
			}
			printRecord(rec)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Training on server")
		rec, err := trainRemote(ctx, client)
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	},
}

func trainRemote(ctx context.Context, client *apiClient) (evaluate.Record, error) {
	resp, err := client.post(ctx, "/train", nil)
	if err != nil {
		return evaluate.Record{}, err
	}
	var rec evaluate.Record
	if err := decodeJSON(resp, &rec); err != nil {
		return evaluate.Record{}, err
	}
	return rec, nil
}

func init() {
	trainCmd.Flags().Bool("local", false, "train in this process instead of on the server")
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the latest results record (metrics.json)",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")

		var data []byte
		if local {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, store, err := newLocalService(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if data, err = svc.Metrics(); err != nil {
				return err
			}
		} else {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.get(cmd.Context(), "/metrics")
			if err != nil {
				return err
			}
			if data, err = readBody(resp); err != nil {
				return err
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))
		return nil
	},
}

func init() {
	metricsCmd.Flags().Bool("local", false, "read metrics.json directly from the data directory")
}

// --- simulate ---

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Stream predictions over the simulation window",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		emit := func(ev simulate.Event) error {
			if asJSON {
				b, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			_, err := fmt.Fprintln(out, formatEvent(ev))
			return err
		}

		if local {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Simulation.Interval, _ = cmd.Flags().GetDuration("interval")
			}
			svc, store, err := newLocalService(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var t tally
			for ev := range svc.Simulate(cmd.Context()) {
				if err := emit(ev); err != nil {
					return err
				}
				t.add(ev)
			}
			return t.result()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/simulate")
		if err != nil {
			return err
		}
		if err := checkStatus(resp); err != nil {
			return err
		}
		defer resp.Body.Close()

		var t tally
		err = readEvents(resp.Body, func(ev simulate.Event) error {
			if err := emit(ev); err != nil {
				return err
			}
			t.add(ev)
			return nil
		})
		if err != nil {
			return err
		}
		return t.result()
	},
}

func init() {
	simulateCmd.Flags().Bool("local", false, "simulate in this process instead of on the server")
	simulateCmd.Flags().Bool("json", false, "print raw JSON events")
	simulateCmd.Flags().Duration("interval", 500*time.Millisecond, "delay between predictions (--local only)")
}

// readEvents decodes "data: {json}" frames from an event stream and passes
// each event to fn.
func readEvents(r io.Reader, fn func(simulate.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev simulate.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decoding event %q: %w", payload, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}

// tally counts scored and failed rows of a simulation stream.
type tally struct {
	rows, failed int
	setupErr     string
}

func (t *tally) add(ev simulate.Event) {
	switch {
	case ev.Type == simulate.TypePrediction:
		t.rows++
	case ev.Type == simulate.TypeError && ev.ID != nil:
		t.rows++
		t.failed++
	case ev.Type == simulate.TypeError:
		t.setupErr = ev.Error
	}
}

// result is an error when the stream ended with a setup failure. Row-level
// errors only produce a warning.
func (t *tally) result() error {
	if t.setupErr != "" {
		return errors.New(t.setupErr)
	}
	if t.failed > 0 {
		printWarning("%d of %d rows could not be scored", t.failed, t.rows)
	}
	return nil
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/runs?limit=%d", limit))
		if err != nil {
			return err
		}
		var runs []storage.Run
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to show")
}

// --- ranges ---

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Show how the train, test and simulation windows cut the data",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/ranges")
		if err != nil {
			return err
		}
		var d partition.Distribution
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), d)
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue and inspect background training jobs",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a training job on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/jobs/train", nil)
		if err != nil {
			return err
		}
		var job storage.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued job %s", job.ID)
		if !wait {
			return nil
		}

		final, err := waitForJob(cmd.Context(), client, job.ID, time.Second)
		if err != nil {
			return err
		}
		return printJob(cmd.OutOrStdout(), final)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and the run it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := getJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		return printJob(cmd.OutOrStdout(), job)
	},
}

func init() {
	jobsSubmitCmd.Flags().Bool("wait", false, "wait for the job to finish")
	jobsCmd.AddCommand(jobsSubmitCmd, jobsShowCmd)
}

// jobStatus mirrors the /jobs/{id} response.
type jobStatus struct {
	storage.Job
	Run *storage.Run `json:"run,omitempty"`
}

func getJob(ctx context.Context, client *apiClient, id string) (jobStatus, error) {
	resp, err := client.get(ctx, "/jobs/"+id)
	if err != nil {
		return jobStatus{}, err
	}
	var js jobStatus
	if err := decodeJSON(resp, &js); err != nil {
		return jobStatus{}, err
	}
	return js, nil
}

// waitForJob polls until the job is completed or failed.
func waitForJob(ctx context.Context, client *apiClient, id string, every time.Duration) (jobStatus, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		js, err := getJob(ctx, client, id)
		if err != nil {
			return jobStatus{}, err
		}
		if js.Status == storage.JobCompleted || js.Status == storage.JobFailed {
			return js, nil
		}
		select {
		case <-ctx.Done():
			return jobStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, js jobStatus) error {
	return printJSON(w, js)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve training tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, store, err := newLocalService(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Service: svc}))
		if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
