package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/grove/pkg/childstore"
	"github.com/cuemby/grove/pkg/mangler"
	"github.com/cuemby/grove/pkg/orphan"
	"github.com/cuemby/grove/pkg/types"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Inspect or prune a Computed Container's persisted children",
}

var gcInspectCmd = &cobra.Command{
	Use:   "inspect <container-name> <root-dir>",
	Short: "List the children currently persisted under root-dir/jobs",
	Args:  cobra.ExactArgs(2),
	RunE:  runGCInspect,
}

var gcRunCmd = &cobra.Command{
	Use:   "run <container-name> <root-dir>",
	Short: "Run the Orphan Strategy once against a container's persisted children",
	Long: `run applies NumToKeep/DaysToKeep pruning standalone, outside the
cron loop, for operator-triggered cleanup between reconciliations.

The Orphan Strategy needs each child's Building and Kept flags plus its
LastBuildTime; those are host-owned live state at reconciliation time and
are not part of grove's own persisted config.xml (spec §3 treats them as
host-supplied, not grove-persisted). Standalone, this command approximates
them: Building and Kept are always treated as false, and LastBuildTime is
the child directory's on-disk modification time. A host that tracks real
build status should run the Orphan Strategy itself during reconciliation
(pkg/orphan) rather than rely on this approximation; run is meant for
retiring directories a host has already stopped touching.`,
	Args: cobra.ExactArgs(2),
	RunE: runGCRun,
}

func init() {
	gcRunCmd.Flags().Bool("prune", true, "enable pruning (mirrors OrphanPolicy.Prune)")
	gcRunCmd.Flags().Int("num-to-keep", -1, "keep at most this many most-recent children, -1 for unlimited")
	gcRunCmd.Flags().Int("days-to-keep", -1, "keep children built within this many days, -1 for unlimited")
	gcRunCmd.Flags().Bool("dry-run", true, "print what would be deleted instead of deleting it")

	gcCmd.AddCommand(gcInspectCmd)
	gcCmd.AddCommand(gcRunCmd)
}

func loadChildren(containerName, rootDir string) (map[string]*types.Child, error) {
	store := childstore.New(mangler.DefaultMangler{})
	records, err := store.Load(containerName, rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", rootDir, err)
	}

	children := make(map[string]*types.Child, records.Len())
	for el := records.Front(); el != nil; el = el.Next() {
		r := el.Value
		dir := filepath.Join(rootDir, "jobs", r.DirName)
		lastBuild := time.Time{}
		if info, err := os.Stat(dir); err == nil {
			lastBuild = info.ModTime()
		}
		children[r.BusinessName] = &types.Child{
			BusinessName:  r.BusinessName,
			DirName:       r.DirName,
			State:         r.Child.State,
			LastBuildTime: lastBuild,
			Building:      false,
			Kept:          false,
		}
	}
	return children, nil
}

func runGCInspect(_ *cobra.Command, args []string) error {
	children, err := loadChildren(args[0], args[1])
	if err != nil {
		return err
	}

	if len(children) == 0 {
		fmt.Println("no persisted children")
		return nil
	}
	for name, c := range children {
		fmt.Printf("%-40s -> jobs/%s (last build: %s)\n", name, c.DirName, c.LastBuildTime)
	}
	return nil
}

func runGCRun(cmd *cobra.Command, args []string) error {
	containerName, rootDir := args[0], args[1]
	children, err := loadChildren(containerName, rootDir)
	if err != nil {
		return err
	}

	prune, _ := cmd.Flags().GetBool("prune")
	numToKeep, _ := cmd.Flags().GetInt("num-to-keep")
	daysToKeep, _ := cmd.Flags().GetInt("days-to-keep")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	strategy := orphan.DefaultStrategy{Prune: prune, NumToKeep: numToKeep, DaysToKeep: daysToKeep}
	toDelete := strategy.SelectForDeletion(containerName, children, cmd.OutOrStdout())

	if len(toDelete) == 0 {
		fmt.Println("nothing to delete")
		return nil
	}

	for name := range toDelete {
		dir := filepath.Join(rootDir, "jobs", children[name].DirName)
		if dryRun {
			fmt.Printf("would delete %s (%s)\n", name, dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dir, err)
		}
		fmt.Printf("deleted %s (%s)\n", name, dir)
	}
	return nil
}
