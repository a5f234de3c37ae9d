package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pokevault/pokevault/internal/bridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the engine for UI processes over a WebSocket bridge",
	Long: `Start the sync bridge server.

UI processes connect to ws://localhost:<port>/ws and talk to the engine
over envelope messages: perform-sync and trigger-sync requests, online
and app-info queries, and sync-status broadcasts for every cycle the
host runs.

The config file is watched while serving; edits to it apply to the next
command without a restart.

Example usage:
  pokevault serve                       # default port 9980
  pokevault serve --port 9000
  pokevault serve --log-file vault.log  # rotate logs instead of stderr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = viper.GetInt("serve.port")
		}
		logFile, _ := cmd.Flags().GetString("log-file")
		if logFile == "" {
			logFile = viper.GetString("serve.log_file")
		}

		var out io.Writer = os.Stderr
		if logFile != "" {
			out = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(out, "[serve] ", log.LstdFlags)

		eng, cleanup, err := openEngine(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		server := bridge.NewServer(eng, &bridge.ServerConfig{
			Port:       port,
			Collection: viper.GetString("collection"),
			AppName:    "pokevault",
			AppVersion: Version,
			Logger:     logger,
		})
		if err := server.Start(); err != nil {
			return err
		}

		// Config edits during a long-running serve take effect on the
		// next reconnect rather than requiring a restart.
		viper.OnConfigChange(func(e fsnotify.Event) {
			logger.Printf("Config changed: %s", e.Name)
		})
		viper.WatchConfig()

		fmt.Printf("Bridge listening on ws://%s/ws\n", server.Addr())
		fmt.Printf("Health check: http://%s/healthz\n", server.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")
	serveCmd.Flags().String("log-file", "", "write rotated logs to this file")
	rootCmd.AddCommand(serveCmd)
}
