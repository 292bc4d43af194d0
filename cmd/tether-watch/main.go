// Command tether-watch maintains a tether to a remote peer and reports
// its lifecycle on the console.
//
// It is a diagnostic tool: point it at a peer and watch connects,
// probes, closes and reconnect scheduling in real time.
//
// Usage:
//
//	tether-watch [flags]
//
// Flags:
//
//	-address string      WebSocket URL of the peer (e.g. ws://host:8443/tether)
//	-instance string     Discover the peer via mDNS by instance name instead of -address
//	-connect-timeout duration  Connect timeout (default 30s)
//	-probe-interval duration   Liveness probe interval (default 30s)
//	-no-reconnect        Disable automatic reconnection
//	-call string         Issue a call with this method name each time the tether opens
//	-config string       Path to a YAML configuration file
//	-verbose             Log at debug level
//
// Examples:
//
//	# Watch a known peer
//	tether-watch -address ws://192.168.1.40:8443/tether
//
//	# Discover a peer on the local network first
//	tether-watch -instance living-room-hub
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tether-protocol/tether-go/pkg/client"
	"github.com/tether-protocol/tether-go/pkg/connection"
	"github.com/tether-protocol/tether-go/pkg/discovery"
	tlog "github.com/tether-protocol/tether-go/pkg/log"
)

var (
	address        = flag.String("address", "", "WebSocket URL of the peer")
	instance       = flag.String("instance", "", "Discover the peer via mDNS by instance name")
	connectTimeout = flag.Duration("connect-timeout", 30*time.Second, "Connect timeout")
	probeInterval  = flag.Duration("probe-interval", 30*time.Second, "Liveness probe interval")
	noReconnect    = flag.Bool("no-reconnect", false, "Disable automatic reconnection")
	callMethod     = flag.String("call", "", "Issue a call with this method name each time the tether opens")
	configPath     = flag.String("config", "", "Path to a YAML configuration file")
	verbose        = flag.Bool("verbose", false, "Log at debug level")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tether-watch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	target := *address
	if target == "" && *instance != "" {
		logger.Info("discovering peer", "instance", *instance)
		svc, err := discovery.Find(context.Background(), discovery.BrowserConfig{}, *instance)
		if err != nil {
			return fmt.Errorf("discover %q: %w", *instance, err)
		}
		target = svc.URL()
		logger.Info("peer discovered", "url", target)
	}
	if target == "" {
		return fmt.Errorf("either -address or -instance is required")
	}

	c, err := client.New(client.Config{
		Address: target,
		Logger:  tlog.NewSlogAdapter(logger),
	})
	if err != nil {
		return err
	}

	if err := c.Conn().SetConnectTimeout(*connectTimeout); err != nil {
		return err
	}
	if err := c.Conn().SetProbeInterval(*probeInterval); err != nil {
		return err
	}
	c.Conn().SetReconnect(!*noReconnect)

	if *configPath != "" {
		if err := c.Conn().LoadFile(*configPath); err != nil {
			return err
		}
	}

	if *callMethod != "" {
		method := *callMethod
		c.OnEvent(func(e connection.Event) {
			if _, ok := e.(connection.OpenEvent); !ok {
				return
			}
			err := c.Call(method, nil, func(result cbor.RawMessage, err error) {
				if err != nil {
					logger.Warn("call failed", "method", method, "error", err)
					return
				}
				logger.Info("call answered", "method", method, "result_bytes", len(result))
			})
			if err != nil {
				logger.Warn("call not issued", "method", method, "error", err)
			}
		})
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	return nil
}
