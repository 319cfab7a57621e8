package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/satchelhq/satchel/internal/docstore"
	"github.com/satchelhq/satchel/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the satchel document store server",
	Long: `Start the document store server that satchel clients sync through.

State lives in a SQLite database; clients connect over a websocket at
/ws and receive a live snapshot feed for their owner id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[serve] ", log.LstdFlags)
		if cfg.Server.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   cfg.Server.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := docstore.OpenDB(cfg.Server.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		srv := docstore.NewServer(db, docstore.Config{
			Addr:   cfg.Server.Addr,
			Logger: logger,
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		defer srv.Stop()

		fmt.Printf("%s satchel document store listening on %s\n",
			ui.Styles.Accent.Render("▸"), srv.Addr())
		fmt.Printf("   database: %s\n", cfg.Server.DBPath)
		fmt.Printf("\nPress Ctrl+C to stop\n")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nshutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
