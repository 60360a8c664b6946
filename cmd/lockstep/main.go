// Command lockstep is a headless session peer. It joins a hub, mirrors the
// synchronized state domains, and reports session events, which makes it
// useful for smoke-testing a hub without a renderer attached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lockstep/lockstep/internal/log"
	"github.com/lockstep/lockstep/internal/secretstore"
	"github.com/lockstep/lockstep/internal/session"
	"github.com/lockstep/lockstep/internal/syncable"
	"github.com/lockstep/lockstep/internal/syncbuf"
	"github.com/lockstep/lockstep/internal/wire"
)

const version = "0.1.0-dev"

// mirrorSyncable holds the latest synchronized blob for one state domain.
type mirrorSyncable struct {
	name  string
	value []byte
}

func (m *mirrorSyncable) Encode(buf *syncbuf.Buffer) {
	buf.WriteBytes(m.value)
}

func (m *mirrorSyncable) Decode(buf *syncbuf.Buffer) error {
	value, err := buf.ReadBytes()
	if err != nil {
		return err
	}
	m.value = value
	log.Info().Str("domain", m.name).Int("bytes", len(value)).Msg("State updated")
	return nil
}

// lookupPassword resolves a password flag, falling back to the secret store.
func lookupPassword(flagValue, key string) string {
	if flagValue != "" {
		return flagValue
	}
	data, err := secretstore.Default.Get(key)
	if err != nil {
		return ""
	}
	return string(data)
}

var joinCmd = &cli.Command{
	Name:  "join",
	Usage: "join <address> – join a session and mirror its state",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Name announced to the hub",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server name the hub authenticates as",
			Value:   "lockstep",
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Session password (defaults to the secret store)",
			EnvVars: []string{"LOCKSTEP_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "host-password",
			Usage:   "Host password (defaults to the secret store)",
			EnvVars: []string{"LOCKSTEP_HOST_PASSWORD"},
		},
		&cli.BoolFlag{
			Name:  "host",
			Usage: "Request hostship after joining",
		},
		&cli.BoolFlag{
			Name:    "follow",
			Aliases: []string{"f"},
			Usage:   "Follow the host's camera",
		},
		&cli.DurationFlag{
			Name:  "tick",
			Usage: "Synchronization point interval",
			Value: 33 * time.Millisecond,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose output",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: join <address> [options]", 1)
		}
		addr := c.Args().First()
		server := c.String("server")

		if c.Bool("verbose") {
			log.SetLevel(zerolog.DebugLevel)
		}

		name := c.String("name")
		if name == "" {
			host, err := os.Hostname()
			if err == nil {
				name = host
			}
		}
		if name == "" {
			return cli.Exit("a peer name is required (--name)", 1)
		}

		registry := syncable.NewRegistry()
		domains := map[uint32]string{
			wire.DomainCamera: "camera",
			wire.DomainTime:   "time",
			wire.DomainScript: "script",
		}
		for id, domainName := range domains {
			if err := registry.Register(id, &mirrorSyncable{name: domainName}); err != nil {
				return err
			}
		}

		start := time.Now()
		peer := session.NewPeer(session.PeerConfig{
			Name:         name,
			ServerName:   server,
			Password:     lookupPassword(c.String("password"), secretstore.SessionPasswordKey(server)),
			HostPassword: lookupPassword(c.String("host-password"), secretstore.HostPasswordKey(server)),
			Clock:        func() float64 { return time.Since(start).Seconds() },
		}, registry)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-signalCh
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			cancel()
		}()

		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		defer connectCancel()
		if err := peer.Connect(connectCtx, addr); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
		defer peer.Disconnect()

		log.Info().
			Str("address", addr).
			Str("name", name).
			Str("status", peer.Status().String()).
			Msg("Joined session")

		if c.Bool("host") {
			if err := peer.RequestHostship(); err != nil {
				return err
			}
		}
		if c.Bool("follow") {
			if err := peer.FollowHostView(); err != nil {
				return err
			}
		}

		ticker := time.NewTicker(c.Duration("tick"))
		defer ticker.Stop()

		lastStatus := peer.Status()
		lastHost := peer.HostName()
		lastCount := peer.NConnections()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-peer.Done():
				log.Info().Msg("Session ended")
				return nil
			case <-ticker.C:
				peer.SynchronizationPoint()

				if s := peer.Status(); s != lastStatus {
					log.Info().Str("status", s.String()).Msg("Status changed")
					lastStatus = s
				}
				if h := peer.HostName(); h != lastHost {
					if h == "" {
						log.Info().Msg("Host resigned")
					} else {
						log.Info().Str("host", h).Msg("Host changed")
					}
					lastHost = h
				}
				if n := peer.NConnections(); n != lastCount {
					log.Info().Uint32("peers", n).Msg("Peer count changed")
					lastCount = n
				}
			}
		}
	},
}

var passwordCmd = &cli.Command{
	Name:  "password",
	Usage: "manage stored session passwords",
	Subcommands: []*cli.Command{
		{
			Name:  "set",
			Usage: "set <server> <password> – store the session password for a server",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "host",
					Usage: "Store the host password instead of the session password",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return cli.Exit("Usage: password set <server> <password>", 1)
				}
				key := secretstore.SessionPasswordKey(c.Args().First())
				if c.Bool("host") {
					key = secretstore.HostPasswordKey(c.Args().First())
				}
				if err := secretstore.Default.Put(key, []byte(c.Args().Get(1))); err != nil {
					return fmt.Errorf("failed to store password: %w", err)
				}
				return nil
			},
		},
		{
			Name:  "clear",
			Usage: "clear <server> – remove the stored passwords for a server",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.Exit("Usage: password clear <server>", 1)
				}
				server := c.Args().First()
				if err := secretstore.Default.Delete(secretstore.SessionPasswordKey(server)); err != nil {
					log.Debug().Err(err).Msg("No session password stored")
				}
				if err := secretstore.Default.Delete(secretstore.HostPasswordKey(server)); err != nil {
					log.Debug().Err(err).Msg("No host password stored")
				}
				return nil
			},
		},
	},
}

func main() {
	app := &cli.App{
		Name:    "lockstep",
		Usage:   "headless lockstep session peer",
		Version: version,
		Commands: []*cli.Command{
			joinCmd,
			passwordCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("Lockstep failed")
		os.Exit(1)
	}
}
