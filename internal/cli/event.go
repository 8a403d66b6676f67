package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventTypes — допустимые типы событий (см. stagerun.EventType).
var eventTypes = []string{"ACKNOWLEDGE_REQUEST", "START_RUN", "RUN_SUCCESSFUL", "RUN_FAILED", "RUN_CANCELLED"}

// NewEventCmd создаёт группу команд для отправки событий stage runs.
// Полезно для отладки без executor'ов.
func NewEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send stage run events",
	}

	cmd.AddCommand(newEventSendCmd(clientFn, outputFn))

	return cmd
}

func newEventSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var executorID string
	var instant string

	cmd := &cobra.Command{
		Use:   "send FLOW_RUN_ID STAGE_RUN_ID EVENT_TYPE",
		Short: "Send a stage run event",
		Long:  "Send a stage run event. EVENT_TYPE is one of: " + strings.Join(eventTypes, ", "),
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := buildEvent(args[1], args[2], executorID, instant)
			if err != nil {
				return err
			}

			run, err := client.SendEvent(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Event %s applied, flow run is %s", req.EventType, run.Status))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&executorID, "executor", "", "Executor ID (required for ACKNOWLEDGE_REQUEST)")
	cmd.Flags().StringVar(&instant, "at", "", "Event time in RFC3339 (now if not specified)")

	return cmd
}

// buildEvent проверяет аргументы и собирает EventRequest.
func buildEvent(stageRunID, eventType, executorID, instant string) (EventRequest, error) {
	eventType = strings.ToUpper(eventType)

	known := false
	for _, t := range eventTypes {
		if t == eventType {
			known = true
			break
		}
	}
	if !known {
		return EventRequest{}, fmt.Errorf("unknown event type %q, expected one of: %s", eventType, strings.Join(eventTypes, ", "))
	}

	if eventType == "ACKNOWLEDGE_REQUEST" && executorID == "" {
		return EventRequest{}, fmt.Errorf("--executor is required for %s", eventType)
	}

	at := time.Now().UTC()
	if instant != "" {
		parsed, err := time.Parse(time.RFC3339, instant)
		if err != nil {
			return EventRequest{}, fmt.Errorf("invalid --at: %w", err)
		}
		at = parsed
	}

	return EventRequest{
		EventType:  eventType,
		StageRunID: stageRunID,
		Instant:    at,
		ExecutorID: executorID,
	}, nil
}
