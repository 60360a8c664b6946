// Command lockstepd is the session hub daemon. It listens for peer
// connections, arbitrates hostship, and relays host data to followers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lockstep/lockstep/internal/journal"
	"github.com/lockstep/lockstep/internal/log"
	"github.com/lockstep/lockstep/internal/session"
	"github.com/lockstep/lockstep/internal/transport"
)

const (
	// DefaultListenAddress is the default address the hub listens on.
	DefaultListenAddress = ":" + transport.DefaultPort
	// DefaultJournalPath is the default path for the session journal database.
	DefaultJournalPath = "~/.local/share/lockstep/journal.db"
	// DefaultPIDFile is the default path for the lockstepd PID file.
	DefaultPIDFile = "~/.local/share/lockstep/lockstepd.pid"
)

// Config represents the configuration for the lockstepd daemon.
type Config struct {
	// ServerName names this hub; peer password digests are bound to it.
	ServerName string
	// SessionPassword authenticates joining peers.
	SessionPassword string
	// HostPassword gates hostship requests. Empty means any peer may host.
	HostPassword string
	// QueueHostship queues hostship requests made while a host exists
	// instead of rejecting them.
	QueueHostship bool
	// ListenAddress is the address to listen on.
	ListenAddress string
	// JournalPath is the path to the session journal database. Empty
	// disables the journal.
	JournalPath string
	// PIDFile is the path to the PID file.
	PIDFile string
	// LogLevel is the logging level.
	LogLevel string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ServerName:    "lockstep",
		ListenAddress: DefaultListenAddress,
		JournalPath:   expandPath(DefaultJournalPath),
		PIDFile:       expandPath(DefaultPIDFile),
		LogLevel:      "info",
	}
}

// expandPath expands the ~ in a path to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}

// writePIDFile writes the current process ID to the PID file.
func writePIDFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for PID file: %w", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// runDaemon runs the lockstepd daemon with the given configuration.
func runDaemon(config Config) error {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	if err := writePIDFile(config.PIDFile); err != nil {
		return err
	}
	defer removePIDFile(config.PIDFile)

	var jnl *journal.Journal
	if config.JournalPath != "" {
		jnl, err = journal.Open(config.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open session journal: %w", err)
		}
		defer jnl.Close()
	}

	policy := session.RejectWhileHosted
	if config.QueueHostship {
		policy = session.QueueWhileHosted
	}

	hub, err := session.NewHub(session.HubConfig{
		Name:            config.ServerName,
		SessionPassword: config.SessionPassword,
		HostPassword:    config.HostPassword,
		Policy:          policy,
		Journal:         jnl,
	})
	if err != nil {
		return err
	}

	listener, err := transport.Listen(config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
		cancel()
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			hub.Attach(conn)
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
		hub.Shutdown()
	}()

	log.Info().
		Str("server", config.ServerName).
		Str("listen", listener.Addr()).
		Bool("host_password", config.HostPassword != "").
		Msg("Lockstep hub started")

	hub.Run()

	log.Info().Msg("Lockstep hub stopped")
	return nil
}

func main() {
	config := DefaultConfig()

	app := &cli.App{
		Name:  "lockstepd",
		Usage: "lockstep session hub daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Aliases:     []string{"n"},
				Usage:       "Server name peers authenticate against",
				Value:       "lockstep",
				Destination: &config.ServerName,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "Session password required from joining peers",
				EnvVars:     []string{"LOCKSTEP_PASSWORD"},
				Destination: &config.SessionPassword,
			},
			&cli.StringFlag{
				Name:        "host-password",
				Usage:       "Password required to claim hostship (empty allows anyone)",
				EnvVars:     []string{"LOCKSTEP_HOST_PASSWORD"},
				Destination: &config.HostPassword,
			},
			&cli.BoolFlag{
				Name:        "queue-hostship",
				Usage:       "Queue hostship requests while a host exists instead of rejecting them",
				Destination: &config.QueueHostship,
			},
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"L"},
				Usage:       "Address to listen on",
				Value:       DefaultListenAddress,
				Destination: &config.ListenAddress,
			},
			&cli.StringFlag{
				Name:        "journal",
				Aliases:     []string{"j"},
				Usage:       "Path to the session journal database (empty disables)",
				Value:       DefaultJournalPath,
				Destination: &config.JournalPath,
			},
			&cli.StringFlag{
				Name:        "pid-file",
				Aliases:     []string{"p"},
				Usage:       "Path to the PID file",
				Value:       DefaultPIDFile,
				Destination: &config.PIDFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "info",
				Destination: &config.LogLevel,
			},
		},
		Action: func(c *cli.Context) error {
			config.JournalPath = expandPath(config.JournalPath)
			config.PIDFile = expandPath(config.PIDFile)

			return runDaemon(config)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("Lockstepd failed")
		os.Exit(1)
	}
}
