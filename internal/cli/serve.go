package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/memori/pkg/consolidator"
	"github.com/harun/memori/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine as a WebSocket service",
	Long: `Run the engine as a long-lived service. Exposes chat, memory listing,
explain traces and manual consolidation over WebSocket, plus /healthz
and /metrics. Scheduled consolidation runs when enabled in config.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled in config")
	}

	zl := e.log.GetZerolog()

	var cons *consolidator.Consolidator
	var sched *consolidator.Scheduler
	if e.cfg.Consolidation.Enabled {
		cons = e.consolidator
		if e.cfg.Consolidation.Schedule != "" {
			sched, err = consolidator.NewScheduler(cons, e.cfg.Consolidation.Schedule, zl)
			if err != nil {
				return fmt.Errorf("invalid consolidation schedule: %w", err)
			}
		}
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:         e.cfg.Gateway.Host,
		Port:         e.cfg.Gateway.Port,
		Orchestrator: e.orch,
		Consolidator: cons,
		Logger:       zl,
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
	}
	fmt.Printf("Listening on %s:%d\n", e.cfg.Gateway.Host, e.cfg.Gateway.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if sched != nil {
		sched.Stop()
	}
	return server.Stop()
}
