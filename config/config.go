// Package config parses tcoind's command-line and default configuration,
// grounded on mining/simulator/config.go's go-flags idiom.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/tcoin-network/tcoind/logs"
)

const (
	defaultListenHost      = "0.0.0.0"
	defaultListenPort      = 8901
	defaultMaxConnections  = 30
	defaultLogFilename     = "tcoind.log"
	defaultKnownPeersFile  = "known_peers.json"
	defaultSnapshotFile    = "tangle.json"
	defaultLogLevel        = "info"
	defaultConnectKnownNum = 8
)

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tcoind")
}

// Config holds every setting tcoind needs to start a node, parsed from the
// command line with defaults rooted at the user's home directory.
type Config struct {
	HomeDir        string `long:"datadir" description:"Directory to store the known-peers file, tangle snapshot, and log file"`
	Secret         string `long:"secret" description:"Hex-encoded wallet private key; a new wallet is generated if omitted (its key is not saved)"`
	ListenHost     string `long:"listen" description:"Host interface to listen for peer connections on"`
	ListenPort     int    `long:"port" description:"Port to listen for peer connections on"`
	ConnectPeers   []string `long:"connect" description:"host:port of a peer to connect to at startup; may be given multiple times"`
	MaxConnections int    `long:"maxconnections" description:"Maximum number of inbound peer connections to accept"`
	ConnectKnown   int    `long:"connectknown" description:"Number of known peers to dial at startup"`
	NoSnapshot     bool   `long:"nosnapshot" description:"Skip loading and periodically saving a tangle snapshot"`
	LogLevel       string `long:"loglevel" description:"Logging level for all subsystems: trace, debug, info, warn, error, critical"`

	knownPeersPath string
	snapshotPath   string
	logFile        string
}

// KnownPeersPath is where the node persists discovered peer addresses.
func (c *Config) KnownPeersPath() string { return c.knownPeersPath }

// SnapshotPath is where the node persists (and, at startup, loads) a
// signed tangle snapshot.
func (c *Config) SnapshotPath() string { return c.snapshotPath }

// LogFile is where rotated logs are written.
func (c *Config) LogFile() string { return c.logFile }

// Load parses the command line into a Config, applying defaults and
// deriving the data-directory-relative paths, then initializes logging.
func Load() (*Config, error) {
	cfg := &Config{
		HomeDir:        defaultHomeDir(),
		ListenHost:     defaultListenHost,
		ListenPort:     defaultListenPort,
		MaxConnections: defaultMaxConnections,
		ConnectKnown:   defaultConnectKnownNum,
		LogLevel:       defaultLogLevel,
	}

	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.HomeDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.HomeDir, err)
	}

	cfg.knownPeersPath = filepath.Join(cfg.HomeDir, defaultKnownPeersFile)
	cfg.snapshotPath = filepath.Join(cfg.HomeDir, defaultSnapshotFile)
	cfg.logFile = filepath.Join(cfg.HomeDir, defaultLogFilename)

	if err := logs.InitLogRotator(cfg.logFile); err != nil {
		return nil, err
	}
	logs.SetLogLevels(cfg.LogLevel)

	return cfg, nil
}
