package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/grove/pkg/trigger"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Inspect Periodic Trigger interval strings",
}

var triggerCheckCmd = &cobra.Command{
	Use:   "check <interval>",
	Short: "Parse an interval string and print the clamped duration and coarse cron schedule",
	Long: `check parses an interval the way a TriggerSpec's persisted interval
field is parsed (spec §6's grammar: digits plus an optional ms/s/m/h/d
unit), clamped to [1 minute, 30 days], and prints the crontab expression
the Cron would use to decide how often to evaluate it.

This is a standalone diagnostic: it does not touch a live container, since
the container's last-computation timestamp is host-owned state this
process does not have access to outside of a running serve.`,
	Args: cobra.ExactArgs(1),
	RunE: runTriggerCheck,
}

func init() {
	triggerCmd.AddCommand(triggerCheckCmd)
}

func runTriggerCheck(_ *cobra.Command, args []string) error {
	d, err := trigger.ParseInterval(args[0])
	if err != nil {
		return err
	}

	t := trigger.New(d)
	if _, err := t.CoarseSchedule(); err != nil {
		return fmt.Errorf("failed to derive coarse schedule: %w", err)
	}

	fmt.Printf("interval:        %s\n", t.Interval)
	fmt.Printf("coarse schedule: %s\n", t.CoarseSpec())
	return nil
}
