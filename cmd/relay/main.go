// Command relay starts the multi-protocol media platform: an RTSP/GB28181/
// SRT ingress tier, the timeshift/transcode-trigger core, the egress HTTP
// API, and the MQTT broker, all wired from a single .env-style config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxmedia/flux-relay/pkg/config"
	"github.com/fluxmedia/flux-relay/pkg/logger"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/mqtt"
	"github.com/fluxmedia/flux-relay/pkg/relay"
	"github.com/fluxmedia/flux-relay/pkg/storage"
	"github.com/fluxmedia/flux-relay/pkg/stream"

	"github.com/fluxmedia/flux-relay/pkg/api"
)

func main() {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("config", ".env", "path to the .env-style configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Multi-protocol ingest, timeshift, and live-delivery relay\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting relay", "log_config", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded",
		"hot_window", cfg.Timeshift.HotWindow,
		"cold_window", cfg.Timeshift.ColdWindow,
		"streams", len(cfg.Streams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	backend, err := storage.NewDisk(cfg.Storage.Dir)
	if err != nil {
		log.Error("failed to open storage backend", "error", err, "dir", cfg.Storage.Dir)
		os.Exit(1)
	}
	persist := storage.NewSegmentPersister(backend)

	triggers := []stream.Trigger{
		{Kind: stream.TriggerProtocolSwitch},
		{Kind: stream.TriggerClientThreshold, Count: 3},
		{Kind: stream.TriggerClientVariety},
		{Kind: stream.TriggerNetworkVariance, Threshold: 0.5},
	}
	core := relay.NewCore(cfg.Timeshift.HotWindow, cfg.Timeshift.ColdWindow, persist, triggers, cfg.Transcode.CommandsPerMinute, log.Logger)
	defer core.Close()

	aclRules := make([]mqtt.Rule, 0, len(cfg.MQTT.ACLRules))
	for _, r := range cfg.MQTT.ACLRules {
		aclRules = append(aclRules, mqtt.Rule{
			ClientIDPattern: r.ClientIDPattern,
			UsernamePattern: r.UsernamePattern,
			TopicPattern:    r.TopicPattern,
			Action:          parseACLAction(r.Action),
			Permission:      parseACLPermission(r.Permission),
			Priority:        r.Priority,
		})
	}
	broker := mqtt.NewBroker(mqtt.BrokerConfig{
		ListenAddr: cfg.MQTT.ListenAddr,
		ACL:        mqtt.NewACL(aclRules),
	}, log.Logger)

	go func() {
		if err := broker.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("mqtt broker stopped", "error", err)
		}
	}()
	log.Info("mqtt broker listening", "address", cfg.MQTT.ListenAddr)

	apiServer := api.NewServer(core, broker, log.Logger)
	if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
		log.Error("failed to start API server", "error", err)
		os.Exit(1)
	}
	defer apiServer.Stop()
	log.Info("api server listening", "address", cfg.API.ListenAddr)

	for _, sc := range cfg.Streams {
		if err := startIngress(ctx, core, sc, cfg, log); err != nil {
			log.Error("failed to start stream ingress", "stream_id", sc.StreamID, "protocol", sc.IngressProtocol, "error", err)
		}
	}

	log.Info("relay ready", "streams", len(cfg.Streams))

	<-ctx.Done()
	broker.Close()

	log.Info("graceful shutdown complete")
}

// startIngress registers sc's stream entity and dispatches to the
// protocol-specific ingress worker named by sc.IngressProtocol.
func startIngress(ctx context.Context, core *relay.Core, sc config.StreamConfig, cfg *config.Config, log *logger.Logger) error {
	id, err := mediatypes.ParseStreamId(sc.StreamID)
	if err != nil {
		return fmt.Errorf("parse stream id %q: %w", sc.StreamID, err)
	}

	if err := core.RegisterStream(id, sc.IngressURL, sc.IngressProtocol); err != nil {
		return err
	}

	workerLog := log.With("stream_id", sc.StreamID, "protocol", sc.IngressProtocol)

	switch sc.IngressProtocol {
	case "rtsp":
		runRTSPIngress(ctx, core, id, sc, cfg, workerLog)
	case "gb28181":
		return runGB28181Ingress(ctx, core, id, sc, cfg, workerLog)
	case "srt":
		return runSRTIngress(ctx, core, id, sc, cfg, workerLog)
	default:
		return fmt.Errorf("unknown ingress protocol %q", sc.IngressProtocol)
	}
	return nil
}

func parseACLAction(s string) mqtt.Action {
	switch s {
	case "subscribe":
		return mqtt.ActionSubscribe
	case "both":
		return mqtt.ActionBoth
	default:
		return mqtt.ActionPublish
	}
}

func parseACLPermission(s string) mqtt.Permission {
	if s == "allow" {
		return mqtt.PermissionAllow
	}
	return mqtt.PermissionDeny
}
