// Command satchel is the personal organizer CLI: a local-first item
// store with an optional networked document store for sync across
// devices.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/schema"
	"github.com/satchelhq/satchel/internal/store"
	_ "github.com/satchelhq/satchel/internal/store/badgerstore"
	_ "github.com/satchelhq/satchel/internal/store/file"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Local-first personal organizer",
	Long: `Satchel keeps tasks, projects, habits, events, goals and notes in a
local store, and optionally syncs them through a satchel document
store server (see 'satchel serve').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.satchel/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEngine builds an engine over the configured local store. When a
// remote URL and owner are configured it also dials the document store
// so mutations persist remotely; otherwise the engine runs in local
// mode. The returned cleanup closes whatever was opened.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	local, err := store.Open(cfg.Storage.Backend, cfg.Storage.Dir, store.Config{
		MaxBytes: cfg.Storage.MaxBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	eng := engine.New(engine.Config{Local: local})

	var client *remote.Client
	if cfg.Remote.URL != "" && cfg.Remote.Owner != "" {
		client, err = remote.Dial(ctx, cfg.Remote.URL, nil)
		if err != nil {
			local.Close()
			return nil, nil, fmt.Errorf("dial %s: %w", cfg.Remote.URL, err)
		}
		eng.SetRemote(client, cfg.Remote.Owner)
		items, err := client.List(ctx, cfg.Remote.Owner)
		if err != nil {
			client.Close()
			local.Close()
			return nil, nil, fmt.Errorf("load items: %w", err)
		}
		eng.Collection().ReplaceAll(items)
	} else {
		eng.Collection().ReplaceAll(local.Load(ctx))
	}

	cleanup := func() {
		if client != nil {
			client.Close()
		}
		local.Close()
	}
	return eng, cleanup, nil
}

// short returns the display prefix of an id. Caller-supplied ids can
// be shorter than the usual 32 hex chars.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// findItem resolves an id prefix or exact title against the collection.
func findItem(eng *engine.Engine, ref string) (schema.Item, bool) {
	var (
		match schema.Item
		n     int
	)
	for _, it := range eng.Collection().Items() {
		if it.ID == ref || it.Title == ref {
			return it, true
		}
		if len(ref) >= 4 && len(it.ID) >= len(ref) && it.ID[:len(ref)] == ref {
			match = it
			n++
		}
	}
	if n == 1 {
		return match, true
	}
	return schema.Item{}, false
}
