package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/ui"
)

var (
	listType string
	listAll  bool
	listTag  string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List items",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		items := eng.Collection().Items()
		shown := 0
		for _, it := range items {
			if !listAll && (it.Status == schema.StatusDone || it.Status == schema.StatusArchived) {
				continue
			}
			if listType != "" && string(it.Type) != listType {
				continue
			}
			if listTag != "" && !hasTag(it, listTag) {
				continue
			}
			printItem(it)
			shown++
		}
		if shown == 0 {
			fmt.Println(ui.Styles.Muted.Render("nothing here"))
		}
		return nil
	},
}

func hasTag(it schema.Item, tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func printItem(it schema.Item) {
	title := it.Title
	if it.Status == schema.StatusDone {
		title = ui.Styles.Done.Render(title)
	}
	line := fmt.Sprintf("%s %s  %s %s",
		ui.StatusIcon(string(it.Status)),
		ui.Styles.Muted.Render(short(it.ID)),
		title,
		ui.Styles.Muted.Render("("+string(it.Type)+")"))
	if it.DueAt != nil {
		due := time.UnixMilli(*it.DueAt)
		style := ui.Styles.Muted
		if due.Before(time.Now()) && it.Status != schema.StatusDone {
			style = ui.Styles.Error
		}
		line += " " + style.Render("due "+due.Format("Jan 2 15:04"))
	}
	if len(it.Tags) > 0 {
		line += " " + ui.Styles.Accent.Render("#"+strings.Join(it.Tags, " #"))
	}
	fmt.Println(line)
}

func init() {
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "filter by item type")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include done and archived items")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	rootCmd.AddCommand(listCmd)
}
