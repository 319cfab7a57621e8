package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/ui"
)

var linkCmd = &cobra.Command{
	Use:   "link <item> <item>",
	Short: "Link two items bidirectionally",
	Long: `Link two items so each appears in the other's linked set.

Both sides commit together: either the whole link lands or neither
half does. Linking an already-linked pair is a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return relink(cmd, args[0], args[1], true)
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <item> <item>",
	Short: "Remove the link between two items",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return relink(cmd, args[0], args[1], false)
	},
}

func relink(cmd *cobra.Command, aRef, bRef string, link bool) error {
	eng, cleanup, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	a, ok := findItem(eng, aRef)
	if !ok {
		return fmt.Errorf("item %q not found", aRef)
	}
	b, ok := findItem(eng, bRef)
	if !ok {
		return fmt.Errorf("item %q not found", bRef)
	}

	if link {
		err = eng.LinkItems(cmd.Context(), a.ID, b.ID)
	} else {
		err = eng.UnlinkItems(cmd.Context(), a.ID, b.ID)
	}
	if err != nil {
		ui.Fail("could not save: %v", err)
		return err
	}
	if link {
		ui.Pass("linked %s ↔ %s", a.Title, b.Title)
	} else {
		ui.Pass("unlinked %s ↔ %s", a.Title, b.Title)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
