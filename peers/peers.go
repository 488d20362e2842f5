// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for running and testing hosts.
package peers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/channel"
)

// StepInterval is the simulated duration of one [Local.Step].
const StepInterval = 10 * time.Millisecond

// settleSteps bounds the handshake performed by NewLocal.
const settleSteps = 100

// Local is a server and a connected client that communicate over an
// in-memory network, suitable for testing.
type Local struct {
	Net    *channel.Memory
	Server *tickwire.Host
	Client *tickwire.Host
}

// NewLocal creates a server with config server, opens a session, and
// connects a client with config client to it over a new perfect in-memory
// network. The Network fields of both configs are replaced. NewLocal returns
// once the handshake is complete.
func NewLocal(server, client tickwire.Config) (*Local, error) {
	return NewLocalOn(channel.NewMemory(nil), server, client)
}

// NewLocalOn is as NewLocal, but uses the given network.
func NewLocalOn(net *channel.Memory, server, client tickwire.Config) (*Local, error) {
	server.Network = net
	client.Network = net
	loc := &Local{
		Net:    net,
		Server: tickwire.NewHost(server),
		Client: tickwire.NewHost(client),
	}
	if err := loc.Server.OpenSession(tickwire.DefaultPort); err != nil {
		return nil, err
	}
	if err := loc.Client.Connect(loc.Server.LocalAddr()); err != nil {
		loc.Server.Close()
		return nil, err
	}
	if err := loc.Settle(settleSteps); err != nil {
		loc.Stop()
		return nil, err
	}
	return loc, nil
}

// Step ticks the server and then the client once, and advances the clock of
// the network by StepInterval.
func (p *Local) Step() {
	p.Server.Tick(StepInterval)
	p.Client.Tick(StepInterval)
	p.Net.Advance(StepInterval)
}

// Settle steps p until the client is connected, every peer is ready, and no
// reliable datagram is awaiting acknowledgement in either direction. It
// reports an error if that does not happen within maxSteps steps.
func (p *Local) Settle(maxSteps int) error {
	for range maxSteps {
		p.Step()
		if p.settled() {
			return nil
		}
	}
	return fmt.Errorf("not settled after %d steps (client %v)", maxSteps, p.Client.Status())
}

func (p *Local) settled() bool {
	if !p.Client.IsClient() || p.Client.Server().Outgoing() != 0 {
		return false
	}
	cs := p.Server.Clients()
	for _, c := range cs {
		if !c.Ready() || c.Outgoing() != 0 {
			return false
		}
	}
	return len(cs) != 0
}

// Stop shuts down both hosts.
func (p *Local) Stop() error {
	return errors.Join(p.Client.Close(), p.Server.Close())
}

// Run ticks each of the given hosts every interval until ctx ends, then
// closes them. Each host is ticked by its own goroutine, so a host must not
// be used elsewhere while Run is active.
func Run(ctx context.Context, interval time.Duration, hosts ...*tickwire.Host) error {
	g := taskgroup.New(nil)
	for _, h := range hosts {
		g.Go(func() error {
			t := time.NewTicker(interval)
			defer t.Stop()
			last := time.Now()
			for {
				select {
				case <-ctx.Done():
					return h.Close()
				case now := <-t.C:
					h.Tick(now.Sub(last))
					last = now
				}
			}
		})
	}
	return g.Wait()
}
