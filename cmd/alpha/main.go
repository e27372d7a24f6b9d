// Command alpha runs the autonomous cognitive runtime: an operator REPL in
// the foreground and the night cycles in the background.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/alpha/internal/config"
	"github.com/normanking/alpha/internal/logging"
	"github.com/normanking/alpha/internal/metrics"
	"github.com/normanking/alpha/internal/runtime"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "alpha",
		Short:         "Alpha autonomous cognitive runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.alpha/config.yaml)")

	root.AddCommand(serveCmd(), statusCmd(), consolidateCmd(), goalsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime with an operator REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := rt.StartCycles(); err != nil {
				return err
			}

			if cfg.Metrics.Enabled {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", metrics.Handler())
					log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint up")
					if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
						log.Error().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 64*1024), 64*1024)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			fmt.Println("Альфа на связи. Пустая строка или Ctrl+C для выхода.")
			for {
				fmt.Print("> ")
				select {
				case <-sigCh:
					fmt.Println()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					return rt.Shutdown(shutdownCtx)
				case line, ok := <-lines:
					if !ok || strings.TrimSpace(line) == "" {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						return rt.Shutdown(shutdownCtx)
					}
					reply := rt.ProcessMessage(ctx, line, "Operator")
					fmt.Println(reply)
				}
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of all runtime counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown(ctx)

			out, err := json.MarshalIndent(rt.Status(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one memory consolidation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown(ctx)

			consol := rt.Consolidator()
			if consol == nil {
				return fmt.Errorf("consolidation is disabled in the configuration")
			}
			runCtx, cancel := context.WithTimeout(ctx, cfg.Consolidation.Timeout())
			defer cancel()
			imported, err := consol.Run(runCtx)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d new artifacts\n", imported)
			return nil
		},
	}
}

func goalsCmd() *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Show goal counts, optionally execute one pending goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown(ctx)

			if execute {
				done, err := rt.Engine().ExecuteOne(ctx)
				if err != nil {
					return err
				}
				if done {
					fmt.Println("one goal studied")
				} else {
					fmt.Println("nothing to execute (empty queue, quota, or model down)")
				}
			}

			pending, completed, err := rt.GoalStore().Counts()
			if err != nil {
				return err
			}
			fmt.Printf("pending: %d, completed: %d, quota remaining today: %d\n",
				pending, completed, rt.Engine().QuotaRemaining())
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "execute one pending goal before printing counts")
	return cmd
}
