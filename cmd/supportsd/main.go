// supportsd runs the notification center as a daemon. Clients post
// notifications over HTTP and observe them through WebSocket streams whose
// subscriptions are dropped as soon as the connection goes away.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkkko/supports/internal/config"
	"github.com/nkkko/supports/internal/engine"
	"github.com/nkkko/supports/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configFile, addr, logLevel string

	flagSet := pflag.NewFlagSet("supportsd", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address (overrides config and SUPPORTS_SERVER_ADDR)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: supportsd [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.LoadConfig(configFile, addr, logLevel)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", cfg.Server.Addr).Msg("supportsd starting")
	return e.Start(ctx)
}
