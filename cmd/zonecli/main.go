// Command zonecli is an interactive terminal client for a zone ledger. With
// -serve it starts a local zone server and connects to it with a throwaway
// device identity.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/config"
	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/log"
	"github.com/relativeprotocol/zoneclient/replica"
	"github.com/relativeprotocol/zoneclient/session"
	"github.com/relativeprotocol/zoneclient/zonetest"
)

func main() {
	configPath := flag.String("config", "", "path to the client YAML configuration")
	serve := flag.Bool("serve", false, "run a local zone server and connect to it")
	flag.Parse()

	if err := run(*configPath, *serve); err != nil {
		fmt.Fprintln(os.Stderr, "zonecli:", err)
		os.Exit(1)
	}
}

func run(configPath string, serve bool) error {
	var (
		cfg      config.Config
		provider credential.Provider
		trust    credential.TrustStore
		err      error
	)
	switch {
	case serve:
		cfg = config.Default()
		cfg.Log.Level = "warn"
		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		server, err := zonetest.NewServer(zonetest.WithLogger(logger.Named("server")))
		if err != nil {
			return err
		}
		defer server.Close()
		device, err := zonetest.NewIdentity("zonecli", 24*time.Hour)
		if err != nil {
			return err
		}
		cfg.Server.URL = server.URL()
		provider, trust = device.Provider(), server.Trust()
		fmt.Printf("serving zones at %s\n", server.URL())
	case configPath != "":
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if provider, err = cfg.Provider(); err != nil {
			return err
		}
		if trust, err = cfg.TrustStore(); err != nil {
			return err
		}
	default:
		return errors.New("either -config or -serve is required")
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	log.SetLogger(logger)

	scfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	s, err := session.New(scfg, provider, trust, session.WithLogger(logger.Named("zone")))
	if err != nil {
		return err
	}
	defer s.Close()

	s.SubscribeState(session.StateListenerFunc(func(state session.JoinState) {
		fmt.Printf("* %s\n", state)
	}))
	s.SubscribeErrors(session.ErrorListenerFunc(func(err error) {
		fmt.Printf("* join failed: %v\n", err)
	}))
	s.SubscribeEvents(session.EventListenerFunc(func(ev replica.Event) {
		logger.Debug("zone event", zap.String("kind", ev.Kind()))
		if created, ok := ev.(replica.ZoneCreated); ok {
			fmt.Printf("* created zone %s\n", created.ZoneID)
		}
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r := newREPL(s, os.Stdout)
	fmt.Println(`type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.exec(line); errors.Is(err, errQuit) {
				return nil
			} else if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}
