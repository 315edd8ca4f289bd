package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/profilr/internal/config"
	"github.com/loykin/profilr/internal/gpm"
	"github.com/loykin/profilr/internal/inject"
	"github.com/loykin/profilr/internal/logger"
	"github.com/loykin/profilr/internal/manager"
	"github.com/loykin/profilr/internal/metrics"
	"github.com/loykin/profilr/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	serveFlags := &ServeFlags{}
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}
	injectFlags := &InjectFlags{}

	profilrCommand := command{}

	root := createRootCommand()

	// Add subcommands
	root.AddCommand(
		createServeCommand(serveFlags),
		createStartCommand(profilrCommand, startFlags),
		createStatusCommand(profilrCommand, statusFlags),
		createInjectCommand(profilrCommand, injectFlags),
	)

	return root
}

// createRootCommand creates the root command
func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profilr",
		Short: "Browser profile launch and script injection service",
		Long: `Profilr starts browser profiles through a local profile manager,
discovers their remote debugging endpoints and injects scripts into
open pages over the DevTools protocol.

Examples:
  profilr serve --config=config.toml
  profilr start profile-17
  profilr status
  profilr inject profile-17 --script-url=https://cdn.example.com/probe.js
  profilr status --api-base=http://remote:8080  # Remote service`,
	}
}

// createServeCommand creates the serve subcommand
func createServeCommand(serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the profilr service",
		Long: `Run the HTTP service that launches profiles and injects scripts.
Configuration is read from a TOML file; every key is optional and the
defaults target a local profile manager on 127.0.0.1:19995.

Examples:
  profilr serve                     # Built-in defaults, listen on :8080
  profilr serve config.toml         # Start with a specific config file
  profilr serve --config=config.toml --listen=:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address override (e.g. :9000)")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	log := logger.Setup(cfg.Log.LoggerConfig())

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	launcher := gpm.New(gpm.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Token:   cfg.Upstream.Token,
		Timeout: cfg.Upstream.Timeout,
		Window:  cfg.Launch.Window(),
		Logger:  log,
	})
	mgr := manager.New(manager.Config{
		MaxConcurrent: cfg.Launch.MaxConcurrent,
		Launcher:      launcher,
		Discovery:     cfg.Discovery.Options(),
		Logger:        log,
	})
	eng := inject.New(inject.Config{
		FallbackScript: cfg.Inject.FallbackScript,
		Logger:         log,
	})

	// Create and start HTTP/HTTPS server
	protocol := "HTTP"
	var srv *http.Server

	if cfg.TLS.Enabled {
		protocol = "HTTPS"
		srv, err = server.NewTLSServer(cfg.Listen, "", cfg.TLS, mgr, eng)
		if err != nil {
			return fmt.Errorf("failed to create HTTPS server: %w", err)
		}
	} else {
		srv, err = server.NewServer(cfg.Listen, "", mgr, eng)
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
	}

	fmt.Printf("Starting profilr %s server on %s\n", protocol, cfg.Listen)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	mgr.Close()
	return srv.Close()
}

// createStartCommand creates the start subcommand
func createStartCommand(profilrCommand command, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <profile-id>",
		Short: "Request a profile launch",
		Long: `Ask a running profilr service to launch one browser profile.
The request is accepted or rejected immediately; launch progress is
visible via 'profilr status'.

Examples:
  profilr start profile-17
  profilr start profile-17 --api-base=http://remote:8080`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startFlags.ProfileID = args[0]
			return profilrCommand.Start(*startFlags)
		},
	}

	// Remote service connection
	cmd.Flags().StringVar(&startFlags.APIBase, "api-base", "", "service URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&startFlags.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(profilrCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [profile-id]",
		Short: "Show tracked profile state",
		Long: `Show the state of profiles tracked by a running profilr service.

Examples:
  profilr status                    # Show all profiles
  profilr status profile-17         # Show one profile
  profilr status --api-base=http://remote:8080  # Remote service`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				statusFlags.ProfileID = args[0]
			}
			return profilrCommand.Status(*statusFlags)
		},
	}

	// Remote service connection
	cmd.Flags().StringVar(&statusFlags.APIBase, "api-base", "", "service URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&statusFlags.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

// createInjectCommand creates the inject subcommand
func createInjectCommand(profilrCommand command, injectFlags *InjectFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject <profile-id>",
		Short: "Inject a script into a started profile",
		Long: `Inject a script into every open page of a started profile.
The payload is a script URL, inline source, or a local file sent as
inline source. Without any payload flag the service falls back to its
configured script file.

Examples:
  profilr inject profile-17 --script-url=https://cdn.example.com/probe.js
  profilr inject profile-17 --inline-js='console.log("hi")'
  profilr inject profile-17 --script-file=./probe.js`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			injectFlags.ProfileID = args[0]
			return profilrCommand.Inject(*injectFlags)
		},
	}

	cmd.Flags().StringVar(&injectFlags.ScriptURL, "script-url", "", "script URL added to every page")
	cmd.Flags().StringVar(&injectFlags.InlineJS, "inline-js", "", "inline script source")
	cmd.Flags().StringVar(&injectFlags.ScriptFile, "script-file", "", "local JS file sent as inline source (overrides --inline-js)")

	// Remote service connection
	cmd.Flags().StringVar(&injectFlags.APIBase, "api-base", "", "service URL (e.g. http://host:8080)")
	cmd.Flags().DurationVar(&injectFlags.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}
