package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the relay core.
type Config struct {
	Timeshift TimeshiftConfig
	HLS       HLSConfig
	SRT       SRTConfig
	MQTT      MQTTConfig
	Storage   StorageConfig
	API       APIConfig
	Transcode TranscodeConfig
	Streams   []StreamConfig
}

// TimeshiftConfig configures the hot buffer / cold index ring.
type TimeshiftConfig struct {
	HotWindow  time.Duration
	ColdWindow time.Duration
}

// HLSConfig configures HLS/DASH playlist windowing.
type HLSConfig struct {
	TargetDuration time.Duration
	SegmentCount   int
}

// SRTConfig configures the SRT listener and congestion tuning.
type SRTConfig struct {
	ListenAddr        string
	MaxFlowWindow     uint32
	KeepaliveInterval time.Duration
	ConnectionTimeout time.Duration
	TargetBitrateBps  int
}

// MQTTConfig configures the broker core.
type MQTTConfig struct {
	ListenAddr string
	ACLRules   []ACLRuleConfig
}

// ACLRuleConfig is a single priority-ordered broker ACL rule.
type ACLRuleConfig struct {
	ClientIDPattern string
	UsernamePattern string
	TopicPattern    string
	Action          string // publish, subscribe, both
	Permission      string // allow, deny
	Priority        int
}

// StorageConfig configures the cold-storage backend.
type StorageConfig struct {
	Dir        string
	SnapshotDir string
}

// APIConfig configures the external core-operation listener.
type APIConfig struct {
	ListenAddr string
}

// TranscodeConfig bounds how fast the Auto-mode trigger may dispatch
// external transcode-start commands once a stream switches out of
// passthrough.
type TranscodeConfig struct {
	CommandsPerMinute float64
}

// StreamConfig declares a single stream's ingress and transcode mode.
type StreamConfig struct {
	StreamID        string
	IngressProtocol string // rtsp, gb28181, srt
	IngressURL      string
	Mode            string // passthrough, transcode, auto
}

// ConfigSource lets an external collaborator (e.g. a hot-reload watcher)
// push configuration updates without this package depending on it.
type ConfigSource interface {
	Load() (*Config, error)
}

// defaults mirror a typical small-deployment configuration.
func defaultConfig() *Config {
	return &Config{
		Timeshift: TimeshiftConfig{
			HotWindow:  30 * time.Second,
			ColdWindow: 24 * time.Hour,
		},
		HLS: HLSConfig{
			TargetDuration: 2 * time.Second,
			SegmentCount:   6,
		},
		SRT: SRTConfig{
			ListenAddr:        ":9000",
			MaxFlowWindow:     8192,
			KeepaliveInterval: time.Second,
			ConnectionTimeout: 5 * time.Second,
			TargetBitrateBps:  2_000_000,
		},
		MQTT: MQTTConfig{
			ListenAddr: ":1883",
		},
		Storage: StorageConfig{
			Dir:         "./data/segments",
			SnapshotDir: "./data/snapshots",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Transcode: TranscodeConfig{
			CommandsPerMinute: 30,
		},
	}
}

// Load reads configuration from a .env-style file: bare "key=value" lines,
// blank lines and "#" comments skipped, values URL-unescaped. Repeated
// "stream=" lines each declare one stream as
// "stream_id;protocol;url;mode". Repeated "acl=" lines each declare one
// MQTT ACL rule as "client_pattern;username_pattern;topic;action;permission;priority".
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := defaultConfig()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if err := cfg.applyKey(key, decodedValue); err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyKey(key, value string) error {
	switch key {
	case "timeshift_hot_window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		c.Timeshift.HotWindow = d
	case "timeshift_cold_window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		c.Timeshift.ColdWindow = d
	case "hls_target_duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		c.HLS.TargetDuration = d
	case "hls_segment_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.HLS.SegmentCount = n
	case "srt_listen_addr":
		c.SRT.ListenAddr = value
	case "srt_max_flow_window":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.SRT.MaxFlowWindow = uint32(n)
	case "srt_keepalive_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		c.SRT.KeepaliveInterval = d
	case "srt_connection_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		c.SRT.ConnectionTimeout = d
	case "srt_target_bitrate_bps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.SRT.TargetBitrateBps = n
	case "mqtt_listen_addr":
		c.MQTT.ListenAddr = value
	case "storage_dir":
		c.Storage.Dir = value
	case "snapshot_dir":
		c.Storage.SnapshotDir = value
	case "api_listen_addr":
		c.API.ListenAddr = value
	case "transcode_commands_per_minute":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.Transcode.CommandsPerMinute = f
	case "stream":
		sc, err := parseStream(value)
		if err != nil {
			return err
		}
		c.Streams = append(c.Streams, sc)
	case "acl":
		rule, err := parseACLRule(value)
		if err != nil {
			return err
		}
		c.MQTT.ACLRules = append(c.MQTT.ACLRules, rule)
	}
	return nil
}

func parseStream(value string) (StreamConfig, error) {
	fields := strings.Split(value, ";")
	if len(fields) != 4 {
		return StreamConfig{}, fmt.Errorf("stream requires 4 fields id;protocol;url;mode, got %d", len(fields))
	}
	return StreamConfig{
		StreamID:        strings.TrimSpace(fields[0]),
		IngressProtocol: strings.TrimSpace(fields[1]),
		IngressURL:      strings.TrimSpace(fields[2]),
		Mode:            strings.TrimSpace(fields[3]),
	}, nil
}

func parseACLRule(value string) (ACLRuleConfig, error) {
	fields := strings.Split(value, ";")
	if len(fields) != 6 {
		return ACLRuleConfig{}, fmt.Errorf("acl requires 6 fields client;username;topic;action;permission;priority, got %d", len(fields))
	}
	priority, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return ACLRuleConfig{}, fmt.Errorf("acl priority: %w", err)
	}
	return ACLRuleConfig{
		ClientIDPattern: strings.TrimSpace(fields[0]),
		UsernamePattern: strings.TrimSpace(fields[1]),
		TopicPattern:    strings.TrimSpace(fields[2]),
		Action:          strings.TrimSpace(fields[3]),
		Permission:      strings.TrimSpace(fields[4]),
		Priority:        priority,
	}, nil
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("missing storage_dir")
	}
	if c.SRT.ListenAddr == "" {
		return fmt.Errorf("missing srt_listen_addr")
	}
	if c.MQTT.ListenAddr == "" {
		return fmt.Errorf("missing mqtt_listen_addr")
	}
	for _, s := range c.Streams {
		if s.StreamID == "" {
			return fmt.Errorf("stream missing stream_id")
		}
		switch s.IngressProtocol {
		case "rtsp", "gb28181", "srt":
		default:
			return fmt.Errorf("stream %s: unknown ingress protocol %q", s.StreamID, s.IngressProtocol)
		}
		switch s.Mode {
		case "passthrough", "transcode", "auto":
		default:
			return fmt.Errorf("stream %s: unknown mode %q", s.StreamID, s.Mode)
		}
	}
	return nil
}
