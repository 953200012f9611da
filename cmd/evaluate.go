package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltplan/voltplan/config"
	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/core/planner"
	"github.com/voltplan/voltplan/infra/logger"
)

var snapshotPath string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation over a snapshot file and print the decision",
	RunE:  evaluate,
}

func init() {
	evaluateCmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot JSON file")
	if err := evaluateCmd.MarkFlagRequired("snapshot"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(evaluateCmd)
}

func evaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Time.IsZero() {
		snap.Time = time.Now()
	}

	engine := planner.New(cfg.Planner, logger.New("evaluate"), nil)
	dec := engine.Evaluate(snap)

	out, err := json.MarshalIndent(dec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
