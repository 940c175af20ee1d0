package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/daemon"
	"github.com/nestroute/mrtd/std/utils"
	"github.com/nestroute/mrtd/std/utils/toolutils"
	"github.com/nestroute/mrtd/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var config = core.DefaultConfig()
var dumpOnStart bool

var CmdRun = &cobra.Command{
	Use:     "run CONFIG-FILE",
	Short:   "Start the MRT Table Dump Daemon",
	GroupID: "run",
	Version: utils.MrtdVersion,
	Args:    cobra.ExactArgs(1),
	Run:     run,
}

func init() {
	CmdRun.Flags().BoolVar(&dumpOnStart, "dump-on-start", false, "Dump the table once the static routes are loaded")
}

func run(cmd *cobra.Command, args []string) {
	configfile := args[0]
	config.Core.BaseDir = filepath.Dir(configfile)

	// read configuration file
	if err := toolutils.ReadYaml(config, configfile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}

	mrtd, err := NewMrtd(config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	if err := mrtd.Start(); err != nil {
		core.Log.Fatal(mrtd, "Unable to start", "err", err)
		os.Exit(2)
	}
	if dumpOnStart {
		mrtd.dumper.TriggerDump()
	}

	// set up signal handler channel and wait for interrupt
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	core.Log.Info(mrtd, "Received signal - exit", "signal", receivedSig)

	mrtd.Stop()
}

// Mrtd wires the dumper to its sinks and metrics.
// Note: only one instance of this class should be created.
type Mrtd struct {
	config   *core.Config
	registry *prometheus.Registry
	metrics  *core.Metrics
	emitter  *transport.Emitter
	dumper   *daemon.Dumper
	server   *daemon.MetricsServer

	stopped chan struct{}
}

// NewMrtd validates the configuration and opens the sinks.
func NewMrtd(config *core.Config) (*Mrtd, error) {
	if err := config.Parse(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	// Provide global configuration.
	core.C = config
	if err := core.OpenLogger(config); err != nil {
		return nil, err
	}

	m := &Mrtd{
		config:   config,
		registry: prometheus.NewRegistry(),
		stopped:  make(chan struct{}),
	}
	m.registry.MustRegister(collectors.NewGoCollector())
	m.metrics = core.NewMetrics(m.registry)

	var sinks []transport.Sink
	if config.Dump.File != "" {
		sinks = append(sinks, transport.NewFileSink(config.Dump.File, config.Core.BaseDir))
	}
	if config.Dump.Archive != "" {
		archive, err := transport.OpenArchiveSink(config.ResolveRelPath(config.Dump.Archive))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archive)
	}

	m.emitter = transport.NewEmitter(nil, m.metrics, sinks...)
	m.dumper = daemon.NewDumper(config, m.emitter, m.metrics, nil)
	if config.Metrics.Enabled {
		m.server = daemon.NewMetricsServer(config.Metrics.Bind, m.registry)
	}
	return m, nil
}

func (m *Mrtd) String() string {
	return "mrtd"
}

// Start runs the daemon. This function is non-blocking.
func (m *Mrtd) Start() error {
	core.Log.Info(m, "Starting MRT table dump daemon", "version", utils.MrtdVersion)

	if m.server != nil {
		if err := m.server.Start(); err != nil {
			return fmt.Errorf("unable to start metrics server: %w", err)
		}
	}

	go func() {
		m.dumper.Start()
		close(m.stopped)
	}()

	m.dumper.LoadStatic(m.config.Peers)
	return nil
}

// Stop shuts down the dumper and closes all sinks.
func (m *Mrtd) Stop() {
	core.Log.Info(m, "Stopping MRT table dump daemon")

	m.dumper.Stop()
	<-m.stopped

	if m.server != nil {
		m.server.Stop()
	}
	if err := m.emitter.Close(); err != nil {
		core.Log.Error(m, "Unable to close sinks", "err", err)
	}
	core.CloseLogger()
}
