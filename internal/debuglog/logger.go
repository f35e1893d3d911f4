// Package debuglog configures the process-wide go-log backend used by
// every package's named logger.
package debuglog

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

// EnvDebug forces debug level for every subsystem when set to "1".
const EnvDebug = "HANDSHAKE_DEBUG"

// Subsystems are the named loggers this module registers.
var Subsystems = []string{
	"p2p/network",
	"p2p/handshake",
	"p2p/orchestrator",
	"p2p/store",
	"p2p/cli",
}

func enabled() bool {
	return os.Getenv(EnvDebug) == "1"
}

func parseFormat(format string) (logging.LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "plain", "plaintext":
		return logging.PlaintextOutput, nil
	case "color", "colorized":
		return logging.ColorizedOutput, nil
	case "json":
		return logging.JSONOutput, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", format)
	}
}

// Setup routes all loggers to stderr at level in the given format.
func Setup(level, format string) error {
	if enabled() {
		level = "debug"
	}
	if level == "" {
		level = "warn"
	}
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	f, err := parseFormat(format)
	if err != nil {
		return err
	}
	cfg := logging.Config{
		Format:          f,
		Level:           lvl,
		Stderr:          true,
		SubsystemLevels: make(map[string]logging.LogLevel, len(Subsystems)),
	}
	for _, name := range Subsystems {
		cfg.SubsystemLevels[name] = lvl
	}
	logging.SetupLogging(cfg)
	return nil
}
