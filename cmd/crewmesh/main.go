// Crewmesh: inter-agent coordination MCP server.
//
// Gives a crew of AI agents a shared fabric for messaging, peer review and
// persistent learning, backed by NATS JetStream and SQLite.
//
// Usage:
//
//	crewmesh serve     # Start MCP server (stdio transport)
//	crewmesh version   # Print the version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"crewmesh/internal/config"
	"crewmesh/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("crewmesh v%s\n", server.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() error {
	// Logs go to stderr so they never interfere with the MCP stdio
	// transport on stdout.
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	s, cleanup, err := server.New(ctx, config.Load(), logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	return mcpserver.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `crewmesh v%s - inter-agent coordination MCP server

Usage:
  crewmesh serve     Start the MCP server (stdio transport)
  crewmesh version   Print the version

Environment:
  CREWMESH_NATS_URL   Broker endpoint (default nats://localhost:4222)
  CREWMESH_DATA_DIR   Data directory (default ~/.crewmesh)

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "crewmesh": {
        "command": "crewmesh",
        "args": ["serve"]
      }
    }
  }
`, server.Version)
}
