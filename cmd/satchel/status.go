package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		counts := map[schema.Status]int{}
		byType := map[schema.ItemType]int{}
		for _, it := range eng.Collection().Items() {
			counts[it.Status]++
			byType[it.Type]++
		}

		fmt.Println(ui.Styles.Title.Render("satchel"))
		fmt.Printf("  store:   %s (%s)\n", cfg.Storage.Dir, cfg.Storage.Backend)
		fmt.Printf("  backends: %v\n", store.RegisteredKinds())
		if cfg.Remote.URL != "" {
			fmt.Printf("  remote:  %s as %s\n", cfg.Remote.URL, cfg.Remote.Owner)
		} else {
			fmt.Printf("  remote:  %s\n", ui.Styles.Muted.Render("not configured, local only"))
		}
		fmt.Printf("  items:   %d total, %d active, %d done, %d archived\n",
			eng.Collection().Len(),
			counts[schema.StatusActive]+counts[schema.StatusInbox]+counts[schema.StatusWaiting],
			counts[schema.StatusDone], counts[schema.StatusArchived])
		for _, t := range []schema.ItemType{
			schema.TypeTask, schema.TypeProject, schema.TypeHabit,
			schema.TypeEvent, schema.TypeGoal, schema.TypeNote,
		} {
			if n := byType[t]; n > 0 {
				fmt.Printf("    %-8s %d\n", t, n)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
