// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Program tickwire is a command-line utility for hosting, joining, and
// inspecting tickwire sessions.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/channel"
	"github.com/creachadair/tickwire/peers"
	"github.com/creachadair/tickwire/scene"
	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

var flags struct {
	Config string `flag:"config,Configuration file (YAML, TOML, or JSON)"`
	Debug  bool   `flag:"debug,Enable debug logging"`
}

var serveFlags struct {
	Crates int `flag:"crates,default=4,Number of demo entities to replicate"`
}

var searchFlags struct {
	Wait time.Duration `flag:"wait,default=3s,How long to listen for advertisements"`
}

var demoFlags struct {
	Steps   int           `flag:"steps,default=200,Number of simulation steps"`
	Crates  int           `flag:"crates,default=4,Number of demo entities to replicate"`
	Loss    float64       `flag:"loss,Fraction of datagrams to drop"`
	Latency time.Duration `flag:"latency,Delivery delay per datagram"`
	Seed    uint64        `flag:"seed,default=1,Random seed for the network"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Utilities for hosting, joining, and inspecting tickwire sessions.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:     "serve",
				Help:     "Host a session replicating a set of moving demo entities.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "join",
				Usage: "<host>[:<port>]",
				Help:  "Join the session hosted at the given address and log its events.",
				Run:   runJoin,
			},
			{
				Name:     "search",
				Help:     "List the sessions advertised on the local network.",
				SetFlags: command.Flags(flax.MustBind, &searchFlags),
				Run:      runSearch,
			},
			{
				Name:  "decode",
				Usage: "<hex-datagram>...",
				Help: `Decode datagrams and print their contents.

Each argument is the hexadecimal encoding of one datagram, as captured from
the network. Whitespace and colons in the argument are ignored.`,
				Run: runDecode,
			},
			{
				Name:     "demo",
				Help:     "Run a server and client in memory and report what the client sees.",
				SetFlags: command.Flags(flax.MustBind, &demoFlags),
				Run:      runDemo,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// setup loads settings and constructs a logger.
func setup() (*settings, *logrus.Logger, error) {
	s, err := loadSettings(flags.Config)
	if err != nil {
		return nil, nil, err
	}
	log, err := s.logger(flags.Debug)
	if err != nil {
		return nil, nil, err
	}
	return s, log, nil
}

func runServe(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	s, log, err := setup()
	if err != nil {
		return err
	}
	world := newWorld(log)
	crates, err := populate(world, serveFlags.Crates)
	if err != nil {
		return err
	}
	cfg := s.hostConfig(log)
	cfg.World = world
	cfg.Callbacks = tickwire.Callbacks{
		OnConnect:    func(id byte) { log.WithField("client", id).Info("client joined") },
		OnDisconnect: func(id byte) { log.WithField("client", id).Info("client left") },
	}
	h := tickwire.NewHost(cfg)
	if err := h.OpenSession(s.Port); err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dt := s.interval()
	t := time.NewTicker(dt)
	defer t.Stop()
	start := time.Now()
	var nextAnnounce time.Duration
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case now := <-t.C:
			elapsed := now.Sub(start)
			h.PreTick(dt)
			animate(crates, elapsed.Seconds())
			if elapsed >= nextAnnounce && len(crates) != 0 {
				nextAnnounce = elapsed + 10*time.Second
				msg := fmt.Sprintf("%d clients connected", len(h.Clients()))
				if err := crateFuncs.Bind(h, crates[0].Node).Invoke("announce", wire.String(msg)); err != nil {
					log.WithError(err).Warn("announce failed")
				}
			}
			h.PostTick(dt)
		}
	}
}

func runJoin(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("exactly one address is required")
	}
	addr, err := parseAddr(env.Args[0])
	if err != nil {
		return err
	}
	s, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var failed error
	cfg := s.hostConfig(log)
	cfg.World = newWorld(log)
	cfg.Callbacks = tickwire.Callbacks{
		OnAccept: func() { log.Info("joined session") },
		OnReject: func(r wire.RejectReason) {
			failed = fmt.Errorf("connection rejected: %v", r)
			cancel()
		},
		OnKick: func(r wire.KickReason) {
			failed = fmt.Errorf("removed from session: %v", r)
			cancel()
		},
	}
	h := tickwire.NewHost(cfg)
	if err := h.Connect(addr); err != nil {
		return err
	}
	if err := peers.Run(ctx, s.interval(), h); err != nil {
		return err
	}
	return failed
}

func runSearch(env *command.Env) error {
	s, log, err := setup()
	if err != nil {
		return err
	}
	h := tickwire.NewHost(s.hostConfig(log))
	defer h.Close()
	if err := h.StartSearch(); err != nil {
		return err
	}
	dt := s.interval()
	for range int(searchFlags.Wait / dt) {
		time.Sleep(dt)
		h.Tick(dt)
	}
	sessions := h.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, sess := range sessions {
		fmt.Println(sess)
	}
	return nil
}

func runDecode(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing datagram arguments")
	}
	var nerr int
	for i, arg := range env.Args {
		raw, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(arg))
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		d, err := wire.ParseDatagram(raw)
		if err != nil {
			fmt.Printf("#%d: invalid datagram: %v\n", i+1, err)
			nerr++
			continue
		}
		fmt.Printf("#%d: seq=%d reliable=%v size=%d\n", i+1, d.Seq, d.Reliable, len(raw))
		msgs, err := wire.Messages(d.Payload)
		for _, m := range msgs {
			fmt.Printf("  %v\n", m)
		}
		if err != nil {
			fmt.Printf("  invalid message: %v\n", err)
			nerr++
		}
	}
	if nerr != 0 {
		return fmt.Errorf("%d datagrams had errors", nerr)
	}
	return nil
}

func runDemo(env *command.Env) error {
	s, log, err := setup()
	if err != nil {
		return err
	}
	sworld := newWorld(log.WithField("host", "server"))
	crates, err := populate(sworld, demoFlags.Crates)
	if err != nil {
		return err
	}
	cworld := newWorld(log.WithField("host", "client"))

	scfg := s.hostConfig(log.WithField("host", "server"))
	scfg.World = sworld
	scfg.Advertise = false
	ccfg := s.hostConfig(log.WithField("host", "client"))
	ccfg.World = cworld

	net := channel.NewMemory(&channel.MemoryOptions{
		Loss:    demoFlags.Loss,
		Latency: demoFlags.Latency,
		Seed:    demoFlags.Seed,
	})
	loc, err := peers.NewLocalOn(net, scfg, ccfg)
	if err != nil {
		return err
	}
	defer loc.Stop()

	for i := range demoFlags.Steps {
		animate(crates, (time.Duration(i) * peers.StepInterval).Seconds())
		if i%50 == 25 {
			for _, e := range cworld.Root().Children() {
				if err := crateFuncs.Bind(loc.Client, e).Invoke("hit", wire.Int(7)); err != nil {
					return fmt.Errorf("hit %v: %w", e, err)
				}
			}
		}
		loc.Step()
	}
	if err := loc.Settle(100); err != nil {
		log.WithError(err).Warn("demo did not settle")
	}

	fmt.Println("Client view:")
	for _, e := range cworld.Root().Children() {
		c := asCrate(e.(*scene.Node))
		fmt.Printf("  %-10v pos=%.2f hp=%d\n", c.Node, c.pos.Load(), c.hp.Load())
	}
	sent, dropped := net.Stats()
	fmt.Printf("Network: %d datagrams sent, %d dropped\n", sent, dropped)
	fmt.Printf("Server: %+v\n", loc.Server.Stats())
	fmt.Printf("Client: %+v\n", loc.Client.Stats())
	fmt.Printf("Metrics: %v\n", loc.Server.Metrics())
	return nil
}

// parseAddr parses a host address with an optional port. If the port is
// omitted, the default port is used.
func parseAddr(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, errors.New("invalid address: " + s)
	}
	return netip.AddrPortFrom(a, tickwire.DefaultPort), nil
}
