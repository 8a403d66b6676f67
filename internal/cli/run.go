package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления flow runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage flow runs",
	}

	cmd.AddCommand(
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunStagesCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "FLOW_ID", "STATUS", "STAGE_RUNS", "UPDATED"}

func runRow(r *FlowRunResponse) []string {
	return []string{r.ID, r.FlowID, r.Status, strconv.Itoa(len(r.StageRuns)), r.UpdatedAt}
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var roots []string

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Start a new flow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.StartRun(args[0], roots)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow run started: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roots, "root", nil, "Root stage to start (repeatable, all roots if not specified)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show flow run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetFlowRun(args[0])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list FLOW_ID",
		Short: "List active flow runs of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListActiveRuns(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}
}

func newRunStagesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stages ID",
		Short: "List stage runs of a flow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetFlowRun(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "STAGE_ID", "STATUS", "EXECUTOR", "STARTED", "FINISHED", "DURATION"}
			rows := make([][]string, len(run.StageRuns))
			for i, sr := range run.StageRuns {
				duration := ""
				if sr.DurationMs > 0 {
					duration = (time.Duration(sr.DurationMs) * time.Millisecond).String()
				}
				rows[i] = []string{sr.ID, sr.StageID, sr.Status, sr.ExecutorID, sr.StartedAt, sr.FinishedAt, duration}
			}

			out.Print(headers, rows, run.StageRuns)
			return nil
		},
	}
}
