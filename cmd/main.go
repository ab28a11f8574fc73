package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"telchat/moderation"
	"telchat/runtime"
	"telchat/runtime/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle. Keeping
// the logic out of main ensures defers execute before the process exits and
// gives one place where every startup error surfaces.
func run() error {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Optional moderation
	var censor *moderation.Censor
	if words := config.WordList(); len(words) > 0 {
		mask, err := config.MaskRune()
		if err != nil {
			return err
		}
		censor, err = moderation.NewCensor(words, mask)
		if err != nil {
			return fmt.Errorf("building censor: %w", err)
		}
		log.Info("Moderation enabled", "words", len(words))
	}

	// 3. Context & signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Supervision: the coordinator restarts on crash (observed as a full
	// reset by linked sessions), telemetry is fire-and-forget.
	sup := workers.NewSupervisor(log, config.RestartInterval)
	coordinator := runtime.NewCoordinator(log, config.HistoryLimit, censor)
	sup.Add(coordinator)
	sup.Add(workers.NewTelemetry(log, config.TelemetryInterval))

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 5. Accept loop: one supervised session per connection. Sessions end
	// with a nil error on any disconnect, so they are never restarted; the
	// supervisor only shields the service from a panicking session.
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	log.Info("Telnet chat server listening", "address", address)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("Accept failed", "error", err)
			continue
		}
		sup.Start(ctx, runtime.NewSession(log, conn, coordinator))
	}

	<-supDone
	log.Info("Server stopped")
	return nil
}
