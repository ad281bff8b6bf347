package main

import (
	"context"
	"encoding/json"
	"log"
	"net"

	"github.com/jangala-dev/settings-go/bus"
	"github.com/jangala-dev/settings-go/daemon"
	"github.com/jangala-dev/settings-go/services/bridge"
	"github.com/jangala-dev/settings-go/settings"
	"github.com/jangala-dev/settings-go/transport/framedstream"
	"github.com/jangala-dev/settings-go/typereg"
)

// runRemoteLinkDemo exercises a daemon reachable over a real TCP link
// instead of the in-process bus: a loopback listener plays the remote
// daemon's transport, and services/bridge supervises the client side's
// reconnecting link to it, wrapping each connection as a
// transport/framedstream.Bus the way a UART link would be wrapped on
// target hardware.
func runRemoteLinkDemo(parent context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go acceptRemoteDaemons(ctx, ln)

	b := bus.NewBus(16)
	bridgeConn := b.NewConnection("bridge")

	done := make(chan error, 1)
	go bridge.Start(ctx, bridgeConn, func(fb *framedstream.Bus) {
		// The bridge starts pumping inbound frames only after this callback
		// returns, so the blocking exchange runs on its own goroutine.
		go func() { done <- exerciseRemoteClient(ctx, fb) }()
	})

	cfg, err := json.Marshal(bridge.Config{
		Transport: bridge.TransportConfig{
			Type: "tcp",
			TCP:  &bridge.TCPConfig{Addr: ln.Addr().String()},
		},
	})
	if err != nil {
		return err
	}
	bridgeConn.Publish(bridgeConn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptRemoteDaemons plays the part of a daemon reachable over TCP,
// serving every accepted connection until ctx is cancelled.
func acceptRemoteDaemons(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serveRemoteDaemon(conn)
	}
}

func serveRemoteDaemon(conn net.Conn) {
	fb := framedstream.New(conn)
	d, err := daemon.New(fb)
	if err != nil {
		log.Printf("[settingsdemo] (remote link) daemon.New: %v", err)
		return
	}
	defer d.Close()
	if err := d.SeedDevice(demoDevice); err != nil {
		log.Printf("[settingsdemo] (remote link) SeedDevice: %v", err)
	}
	if err := fb.Run(); err != nil {
		log.Printf("[settingsdemo] (remote link) link closed: %v", err)
	}
}

// exerciseRemoteClient runs once services/bridge hands back a live link: it
// registers and reads a setting through the daemon on the far end of the
// TCP connection, proving the framedstream.Bus path end to end.
func exerciseRemoteClient(ctx context.Context, fb *framedstream.Bus) error {
	client := settings.New(fb, 2)
	defer client.Close()

	log.Println("[settingsdemo] (remote link) registering wifi/ssid …")
	buf := make([]byte, 16)
	if err := client.RegisterOwned(ctx, "wifi", "ssid", buf, typereg.String, nil); err != nil {
		return err
	}
	codec, _ := client.Registry().Lookup(typereg.String)
	log.Printf("[settingsdemo] (remote link) wifi/ssid = %q (over TCP via services/bridge)", codec.ToText(buf))
	return nil
}
