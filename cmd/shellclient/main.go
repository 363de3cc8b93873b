package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shellserver/internal/command"
	"shellserver/internal/config"
	"shellserver/internal/logging"
	"shellserver/internal/ring"
)

func main() {
	root := &cobra.Command{
		Use:           "shellclient",
		Short:         "Connects to a running shellserver and submits commands interactively.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClient,
	}
	// --help/-h prints the command catalogue instead of cobra's generated
	// usage text, per spec.md §6.
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Print(command.Catalogue())
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shellclient: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() // nolint:errcheck

	sessionRing, err := ring.Open(cfg.ShmDir, cfg.ShmName)
	if err != nil {
		return fmt.Errorf("attach to admission ring %q: %w", cfg.ShmName, err)
	}
	defer sessionRing.Close()

	sess, err := newClientSession(cfg, sessionRing, logger)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.cleanup()

	if err := sess.admit(); err != nil {
		if err == ring.ErrServerBusy {
			return fmt.Errorf("server busy, try again later")
		}
		return fmt.Errorf("admission: %w", err)
	}

	sess.installSignalHandlers()
	sess.runREPL()
	return nil
}
