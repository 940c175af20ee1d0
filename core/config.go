package core

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/nestroute/mrtd/bgp"
	"github.com/robfig/cron/v3"
)

// Global configuration of the daemon, replaced once at startup.
var C = DefaultConfig()

// Config represents the configuration of the MRT exporter.
type Config struct {
	Core struct {
		// Logging level
		LogLevel string `json:"log_level"`
		// Output log to file
		LogFile string `json:"log_file"`
		// Log line format: text or json
		LogFormat string `json:"log_format"`

		// Config file base dir
		BaseDir string `json:"-"`
	} `json:"core"`

	Collector struct {
		// Name written into the peer index table (may be empty)
		Name string `json:"name"`
		// BGP identifier of the collector, dotted quad
		BgpId string `json:"bgp_id"`
		// Local AS number
		As uint32 `json:"as"`
	} `json:"collector"`

	Dump struct {
		// Cron expression or descriptor (e.g. "@every 2h") for periodic dumps.
		// Empty disables periodic dumps.
		Schedule string `json:"schedule"`
		// Table nodes examined per step
		NodeBudget int `json:"node_budget"`
		// Matching routes exported per step
		EntryBudget int `json:"entry_budget"`
		// Prefix of the RIB record
		Prefix string `json:"prefix"`
		// MRT output file template, strftime-like (%Y %m %d %H %M %S)
		File string `json:"file"`
		// Directory of the badger record archive; empty disables it
		Archive string `json:"archive"`
	} `json:"dump"`

	// Statically configured neighbors and their routes
	Peers []PeerConfig `json:"peers"`

	Metrics struct {
		// Whether to serve prometheus metrics
		Enabled bool `json:"enabled"`
		// Listen address of the metrics endpoint
		Bind string `json:"bind"`
	} `json:"metrics"`

	// Parsed values, filled by Parse
	bgpId    uint32
	prefix   netip.Prefix
	schedule cron.Schedule
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	c := &Config{}
	c.Core.LogLevel = "INFO"
	c.Core.LogFile = ""
	c.Core.LogFormat = "text"

	c.Collector.Name = "mrtd"
	c.Collector.BgpId = "0.0.0.0"
	c.Collector.As = 0

	c.Dump.Schedule = "@every 2h"
	c.Dump.NodeBudget = 16
	c.Dump.EntryBudget = 4
	c.Dump.Prefix = "0.0.0.0/0"
	c.Dump.File = "rib.%Y%m%d.%H%M.mrt"
	c.Dump.Archive = ""

	c.Metrics.Enabled = false
	c.Metrics.Bind = "127.0.0.1:9179"
	return c
}

// Parse validates the configuration and fills the derived fields.
func (c *Config) Parse() error {
	if _, err := ParseLogFormat(c.Core.LogFormat); err != nil {
		return err
	}

	id, err := netip.ParseAddr(c.Collector.BgpId)
	if err != nil || !id.Is4() {
		return fmt.Errorf("collector bgp_id must be an IPv4 dotted quad: %q", c.Collector.BgpId)
	}
	c.bgpId = bgp.IdFromAddr(id)

	if len(c.Collector.Name) > 0xFFFF {
		return fmt.Errorf("collector name too long")
	}

	if c.Dump.NodeBudget <= 0 || c.Dump.EntryBudget <= 0 {
		return fmt.Errorf("dump budgets must be positive")
	}

	c.prefix, err = netip.ParsePrefix(c.Dump.Prefix)
	if err != nil {
		return fmt.Errorf("invalid dump prefix: %w", err)
	}
	c.prefix = c.prefix.Masked()

	c.schedule = nil
	if c.Dump.Schedule != "" {
		c.schedule, err = cron.ParseStandard(c.Dump.Schedule)
		if err != nil {
			return fmt.Errorf("invalid dump schedule: %w", err)
		}
	}

	if c.Dump.File == "" && c.Dump.Archive == "" {
		return fmt.Errorf("at least one of dump.file and dump.archive must be set")
	}

	for i := range c.Peers {
		if err := c.Peers[i].parse(); err != nil {
			return err
		}
	}

	return nil
}

// CollectorId returns the parsed collector BGP identifier.
func (c *Config) CollectorId() uint32 {
	return c.bgpId
}

// DumpPrefix returns the parsed RIB record prefix.
func (c *Config) DumpPrefix() netip.Prefix {
	return c.prefix
}

// DumpSchedule returns the parsed dump schedule, or nil if periodic dumps are off.
func (c *Config) DumpSchedule() cron.Schedule {
	return c.schedule
}

// NextDump returns the next scheduled dump after t, or the zero time.
func (c *Config) NextDump(t time.Time) time.Time {
	if c.schedule == nil {
		return time.Time{}
	}
	return c.schedule.Next(t)
}

// ResolveRelPath resolves a path relative to the config file.
func (c *Config) ResolveRelPath(target string) string {
	if filepath.IsAbs(target) || c.Core.BaseDir == "" {
		return target
	}
	return filepath.Join(c.Core.BaseDir, target)
}
