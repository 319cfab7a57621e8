package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/ui"
)

var doneCmd = &cobra.Command{
	Use:   "done <item>",
	Short: "Mark an item done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args[0], schema.StatusDone, "done")
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <item>",
	Short: "Archive an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args[0], schema.StatusArchived, "archived")
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <item>",
	Short: "Reopen a done or archived item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStatus(cmd, args[0], schema.StatusActive, "reopened")
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <item>",
	Aliases: []string{"delete"},
	Short:   "Delete an item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		it, ok := findItem(eng, args[0])
		if !ok {
			return fmt.Errorf("item %q not found", args[0])
		}
		if err := eng.DeleteItem(cmd.Context(), it.ID); err != nil {
			ui.Fail("could not save: %v", err)
			return err
		}
		ui.Pass("deleted %s", it.Title)
		return nil
	},
}

func setStatus(cmd *cobra.Command, ref string, status schema.Status, verb string) error {
	eng, cleanup, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	it, ok := findItem(eng, ref)
	if !ok {
		return fmt.Errorf("item %q not found", ref)
	}
	patch := schema.Patch{"status": schema.Set(string(status))}
	if err := eng.UpdateItem(cmd.Context(), it.ID, patch); err != nil {
		ui.Fail("could not save: %v", err)
		return err
	}
	ui.Pass("%s %s", verb, it.Title)
	return nil
}

func init() {
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(reopenCmd)
	rootCmd.AddCommand(rmCmd)
}
