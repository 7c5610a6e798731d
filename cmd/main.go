package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1mmey/SecurityChat/internal/config"
	"github.com/1mmey/SecurityChat/internal/directory"
	"github.com/1mmey/SecurityChat/internal/discovery"
	"github.com/1mmey/SecurityChat/internal/history"
	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
	"github.com/1mmey/SecurityChat/internal/models"
	"github.com/1mmey/SecurityChat/internal/peer"
	"github.com/1mmey/SecurityChat/internal/server"
	"github.com/1mmey/SecurityChat/internal/ui"
)

func main() {
	// Handle help flag
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help") {
		config.PrintUsage()
		os.Exit(0)
	}

	// Create configuration with CLI flags and interactive prompts
	cfg := config.NewCLIConfig()

	// Create logger with configured level and file support
	log, err := logger.NewWithFile(
		logger.LogLevel(cfg.GetLogLevel()),
		cfg.GetQuiet(),
		cfg.GetLogFile(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Identity directory, seeded from the friends file when configured
	dir := directory.New(log)
	if path := cfg.GetFriendsFile(); path != "" {
		if err := loadFriends(path, dir); err != nil {
			log.Warn("Could not load friends list", "path", path, "error", err)
		}
	}

	// History dispatcher, the single owner of conversation state
	dispatcher := history.NewDispatcher(log)

	// Server channel to the relay
	session := &models.Session{Token: cfg.GetToken(), Username: cfg.GetUsername()}
	serverChannel := server.NewChannel(cfg.GetRelayURL(), session, dir, dispatcher, log)

	// Peer channel: LAN discovery first, rendezvous service as fallback
	localAddress := dir.DerivePeerAddress(cfg.GetUsername())
	signaling := peer.NewSignalingClient(cfg.GetSignalURL(), localAddress, dispatcher, log)
	mdns := discovery.NewMDNSResolver(cfg.GetServiceType(), localAddress, log)
	resolvers := []interfaces.EndpointResolver{mdns, signaling}
	peerChannel := peer.NewChannel(cfg.GetUsername(), cfg.GetPort(), signaling, resolvers, dir, dispatcher, log)

	// Create UI model
	model := ui.NewModel(cfg.GetUsername(), dir, dispatcher, serverChannel, peerChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Optional metrics endpoint
	if addr := cfg.GetMetricsAddr(); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("Serving metrics", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	// Start channels in background; the relay needs a credential, the peer
	// channel works without one
	go func() {
		if err := peerChannel.Start(ctx); err != nil {
			log.Error("Failed to start peer channel", "error", err)
			os.Exit(1)
		}

		mdns.SetListenPort(cfg.GetPort())
		if cfg.GetPort() != 0 {
			if err := mdns.Start(ctx); err != nil {
				log.Warn("LAN discovery unavailable", "error", err)
			}
		}

		if session.Valid() {
			if err := serverChannel.Connect(); err != nil {
				log.Warn("Relay unavailable", "error", err)
			}
		} else {
			log.Info("No session token, relay channel disabled")
		}
	}()

	// Start Bubble Tea program
	p := tea.NewProgram(model, tea.WithAltScreen())
	model.SetProgram(p)

	// Handle shutdown gracefully
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")

		serverChannel.Disconnect()
		peerChannel.DisconnectAll()
		mdns.Stop()

		p.Quit()
	}()

	// Run the program
	if _, err := p.Run(); err != nil {
		log.Error("Error running program", "error", err)
		os.Exit(1)
	}

	serverChannel.Disconnect()
	peerChannel.DisconnectAll()
	mdns.Stop()

	log.Info("Application shutdown complete")
}

// loadFriends reads the friends list JSON file and rebuilds the directory
// from it.
func loadFriends(path string, dir interfaces.Directory) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read friends file: %w", err)
	}

	var friends []models.Friend
	if err := json.Unmarshal(data, &friends); err != nil {
		return fmt.Errorf("failed to parse friends file: %w", err)
	}

	dir.Rebuild(friends)
	return nil
}
