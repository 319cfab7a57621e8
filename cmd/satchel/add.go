package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/ui"
)

var (
	addType     string
	addDue      string
	addPriority int
	addTags     []string
	addParent   string
	addNote     bool
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an item",
	Long: `Add an item to the collection.

The --due flag accepts natural language ("tomorrow 9am", "next friday")
as well as RFC 3339 timestamps.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		partial := map[string]any{
			"title": strings.Join(args, " "),
			"type":  addType,
		}
		if addNote {
			partial["type"] = "note"
		}
		if addPriority > 0 {
			partial["priority"] = addPriority
		}
		if len(addTags) > 0 {
			partial["tags"] = addTags
		}
		if addParent != "" {
			parent, ok := findItem(eng, addParent)
			if !ok {
				return fmt.Errorf("parent %q not found", addParent)
			}
			partial["parent_id"] = parent.ID
		}
		if addDue != "" {
			due, err := parseDue(addDue)
			if err != nil {
				return err
			}
			partial["due_at"] = due.UnixMilli()
		}

		id, err := eng.CreateItem(cmd.Context(), partial)
		if err != nil {
			ui.Fail("could not save: %v", err)
			return err
		}
		ui.Pass("added %s", ui.Styles.Accent.Render(short(id)))
		return nil
	},
}

// parseDue accepts RFC 3339 first, then falls back to natural language.
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", s)
	}
	return r.Time, nil
}

func init() {
	addCmd.Flags().StringVarP(&addType, "type", "t", "task", "item type (task, project, habit, event, goal, note)")
	addCmd.Flags().StringVar(&addDue, "due", "", "due date (natural language or RFC 3339)")
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", 0, "priority (1=highest)")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "tags (repeatable)")
	addCmd.Flags().StringVar(&addParent, "parent", "", "parent item (id prefix or title)")
	addCmd.Flags().BoolVar(&addNote, "note", false, "shorthand for --type note")
	rootCmd.AddCommand(addCmd)
}
