package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a backup of the catalog database now",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local backups, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

func init() {
	backupCmd.AddCommand(backupListCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	coll, cleanup, err := openCollection(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	mgr, err := newBackupManager(cfg, coll)
	if err != nil {
		return err
	}
	res, err := mgr.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Backup written to %s\n", res.Path)
	if res.Uploaded {
		fmt.Fprintln(out, "Uploaded to offsite storage.")
	}
	if len(res.Pruned) > 0 {
		fmt.Fprintf(out, "Pruned %d old backup(s).\n", len(res.Pruned))
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	mgr, err := newBackupManager(cfg, nil)
	if err != nil {
		return err
	}
	files, err := mgr.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, files)
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No backups found.")
		return nil
	}
	for _, f := range files {
		fmt.Fprintln(out, filepath.Base(f))
	}
	return nil
}
