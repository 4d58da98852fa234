package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugRTP        bool
	DebugNAL        bool
	DebugTrack      bool
	DebugRTSP       bool
	DebugSRT        bool
	DebugGB28181    bool
	DebugTS         bool
	DebugHLS        bool
	DebugMQTT       bool
	DebugTimeshift  bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable detailed RTP packet debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugNAL, "debug-nal", false,
		"Enable detailed NAL unit debugging (type, size, raw bytes)")
	fs.BoolVar(&f.DebugTrack, "debug-track", false,
		"Enable track status debugging (RTSP/GB28181 tracks)")
	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false,
		"Enable RTSP protocol debugging")
	fs.BoolVar(&f.DebugSRT, "debug-srt", false,
		"Enable SRT handshake/congestion/ARQ debugging")
	fs.BoolVar(&f.DebugGB28181, "debug-gb28181", false,
		"Enable GB28181 SIP/catalog/registry debugging")
	fs.BoolVar(&f.DebugTS, "debug-ts", false,
		"Enable MPEG-TS mux debugging")
	fs.BoolVar(&f.DebugHLS, "debug-hls", false,
		"Enable HLS playlist debugging")
	fs.BoolVar(&f.DebugMQTT, "debug-mqtt", false,
		"Enable MQTT broker packet debugging")
	fs.BoolVar(&f.DebugTimeshift, "debug-timeshift", false,
		"Enable timeshift hot/cold ring debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		type pair struct {
			on  bool
			cat DebugCategory
		}
		for _, p := range []pair{
			{f.DebugRTP, DebugRTP},
			{f.DebugNAL, DebugNAL},
			{f.DebugTrack, DebugTrack},
			{f.DebugRTSP, DebugRTSP},
			{f.DebugSRT, DebugSRT},
			{f.DebugGB28181, DebugGB28181},
			{f.DebugTS, DebugTS},
			{f.DebugHLS, DebugHLS},
			{f.DebugMQTT, DebugMQTT},
			{f.DebugTimeshift, DebugTimeshift},
		} {
			if p.on {
				cfg.EnableCategory(p.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./flux-relay

  Enable DEBUG level:
    ./flux-relay --log-level debug
    ./flux-relay -l debug

  Log to file:
    ./flux-relay --log-file relay.log
    ./flux-relay -o relay.log

  JSON format for structured logging:
    ./flux-relay --log-format json -o relay.json

  Debug the SRT reliability layer only:
    ./flux-relay --debug-srt

  Debug the MQTT broker only:
    ./flux-relay --debug-mqtt

  Debug multiple categories:
    ./flux-relay --debug-rtp --debug-nal --debug-timeshift

  Debug everything:
    ./flux-relay --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./flux-relay -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		type pair struct {
			on   bool
			name string
		}
		for _, p := range []pair{
			{f.DebugRTP, "rtp"},
			{f.DebugNAL, "nal"},
			{f.DebugTrack, "track"},
			{f.DebugRTSP, "rtsp"},
			{f.DebugSRT, "srt"},
			{f.DebugGB28181, "gb28181"},
			{f.DebugTS, "ts"},
			{f.DebugHLS, "hls"},
			{f.DebugMQTT, "mqtt"},
			{f.DebugTimeshift, "timeshift"},
		} {
			if p.on {
				debugCategories = append(debugCategories, p.name)
			}
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
