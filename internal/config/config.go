// Package config holds the runtime settings of a node.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
)

const (
	DefaultPeerTTL        = 60 * time.Second
	DefaultSessionTimeout = 5 * time.Minute
	defaultName           = "linkchat"
)

type Config struct {
	// Interface is the network interface to bind; empty means auto-detect.
	Interface        string
	Name             string
	NodeID           string
	OutputDir        string
	AnnounceInterval time.Duration
	PeerTTL          time.Duration
	SessionTimeout   time.Duration
	// HistoryDB is the SQLite file receive sessions are journalled to.
	// Empty disables the journal.
	HistoryDB string
	Progress  bool
	Debug     bool
}

func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = defaultName
	}

	return Config{
		Name:             name,
		NodeID:           NewNodeID(),
		OutputDir:        ".",
		AnnounceInterval: protocol.AnnounceInterval,
		PeerTTL:          DefaultPeerTTL,
		SessionTimeout:   DefaultSessionTimeout,
		Progress:         true,
	}
}

// NewNodeID returns a short random identifier for this process.
func NewNodeID() string {
	return uuid.NewString()[:8]
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.NodeID == "" {
		errs = append(errs, errors.New("node id must not be empty"))
	}
	if c.AnnounceInterval <= 0 {
		errs = append(errs, fmt.Errorf("announce interval must be positive, got %s", c.AnnounceInterval))
	}
	if c.PeerTTL < 0 {
		errs = append(errs, fmt.Errorf("peer ttl must not be negative, got %s", c.PeerTTL))
	}
	if c.PeerTTL > 0 && c.PeerTTL <= c.AnnounceInterval {
		errs = append(errs, fmt.Errorf("peer ttl %s must exceed the announce interval %s", c.PeerTTL, c.AnnounceInterval))
	}
	if c.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("session timeout must not be negative, got %s", c.SessionTimeout))
	}

	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir must not be empty"))
	} else if info, err := os.Stat(c.OutputDir); err != nil {
		errs = append(errs, fmt.Errorf("output dir: %w", err))
	} else if !info.IsDir() {
		errs = append(errs, fmt.Errorf("output dir %s is not a directory", c.OutputDir))
	}

	return errors.Join(errs...)
}
