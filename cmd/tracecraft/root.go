package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/tracecraft/internal/config"
	"github.com/KilimcininKorOglu/tracecraft/internal/listen"
	"github.com/KilimcininKorOglu/tracecraft/internal/logger"
	"github.com/KilimcininKorOglu/tracecraft/internal/output"
	"github.com/KilimcininKorOglu/tracecraft/internal/probe"
	"github.com/KilimcininKorOglu/tracecraft/internal/scan"
)

var (
	// Flags
	probeType   string
	destPort    uint16
	sourceIP    string
	instance    uint8
	verbosity   int
	coarse      bool
	midbox      bool
	fixSeq      bool
	windowScale int
	mss         uint16
	dryRun      bool
	receive     bool
	firstTTL    uint8
	maxTTL      uint8
	rateLimit   int
	inputFile   string
	linger      time.Duration
	jsonOutput  bool
	csvOutput   bool
	noColor     bool
	noSummary   bool

	// Config file
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tracecraft [flags] <target>...",
	Short: "Stateless IPv4 traceroute prober",
	Long: `tracecraft - stateless IPv4 traceroute probing

tracecraft sends one probe per target and TTL without keeping any
per-probe state. The send time and the destination are encoded in the
probe headers so replies can be matched and timed by a decoupled
receiver.

Features:
  • UDP, ICMP Echo / Echo Reply, TCP SYN and TCP ACK probes
  • TCP middlebox detection with verification hashes
  • Rate-limited scans over many targets
  • Dry-run packet dumps as text, JSON or CSV
  • Configuration file support (~/.config/tracecraft/config.yaml)

Examples:
  tracecraft 192.0.2.1                    TCP ACK probes, TTL 1-16
  tracecraft -t udp -p 33434 192.0.2.1    UDP probes
  tracecraft -t tcp-syn --midbox host     Middlebox detection
  tracecraft -n -j -m 3 192.0.2.1         Dump probes as JSON
  tracecraft -r 1000 --input targets.txt  Scan a target list
  tracecraft config --init                Create default config file`,
	PersistentPreRunE: loadConfig,
	RunE:              runScan,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/tracecraft/config.yaml)")
	registerScanFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// registerScanFlags binds the probing flags of cmd to the package flag variables.
func registerScanFlags(cmd *cobra.Command) {
	// Probe flags
	cmd.Flags().StringVarP(&probeType, "type", "t", "", "Probe type: udp, icmp, icmp-reply, tcp-syn, tcp-ack")
	cmd.Flags().Uint16VarP(&destPort, "port", "p", 0, "Destination port (UDP/TCP)")
	cmd.Flags().StringVarP(&sourceIP, "source", "s", "", "Source IP address (default: outbound interface)")
	cmd.Flags().Uint8VarP(&instance, "instance", "i", 0, "Instance tag carried in the IP ID")
	cmd.Flags().BoolVar(&coarse, "coarse", false, "Millisecond instead of microsecond timestamps")

	// Middlebox detection
	cmd.Flags().BoolVar(&midbox, "midbox", false, "Send TCP probes with options and verification hashes")
	cmd.Flags().BoolVar(&fixSeq, "fix-seq", false, "Use a constant TCP sequence number (with --midbox)")
	cmd.Flags().IntVar(&windowScale, "wscale", -1, "Append a Window Scale option with this shift (with --midbox)")
	cmd.Flags().Uint16Var(&mss, "mss", 0, "MSS option value (with --midbox)")

	// Scan parameters
	cmd.Flags().Uint8VarP(&firstTTL, "first-ttl", "f", 0, "First TTL to probe")
	cmd.Flags().Uint8VarP(&maxTTL, "max-ttl", "m", 0, "Last TTL to probe")
	cmd.Flags().IntVarP(&rateLimit, "rate", "r", 0, "Probes per second (0 = unlimited)")
	cmd.Flags().StringVar(&inputFile, "input", "", "Read targets from file, one per line")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Print probes instead of sending them")
	cmd.Flags().BoolVar(&receive, "receive", true, "Listen for ICMP replies")
	cmd.Flags().DurationVar(&linger, "linger", 2*time.Second, "Time to keep listening after the last probe")

	// Output flags
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "Verbosity (-vvv prints one line per probe)")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Dry-run output in JSON format")
	cmd.Flags().BoolVar(&csvOutput, "csv", false, "Dry-run output in CSV format")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "Do not print the summary table")
}

// loadConfig loads configuration from file and applies defaults.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyConfigDefaults(cmd, cfg)
	return nil
}

// applyConfigDefaults writes flags that were set on the command line back
// into c, so c holds the effective configuration.
func applyConfigDefaults(cmd *cobra.Command, c *config.Config) {
	d := &c.Defaults
	flags := cmd.Flags()

	if flags.Changed("type") {
		d.Type = probeType
	}
	if flags.Changed("port") {
		d.Port = destPort
	}
	if flags.Changed("source") {
		d.Source = sourceIP
	}
	if flags.Changed("instance") {
		d.Instance = instance
	}
	if flags.Changed("coarse") {
		d.Coarse = coarse
	}
	if flags.Changed("midbox") {
		d.Middlebox.Enabled = midbox
	}
	if flags.Changed("fix-seq") {
		d.Middlebox.FixSequence = fixSeq
	}
	if flags.Changed("wscale") {
		if windowScale >= 0 {
			ws := uint8(windowScale)
			d.Middlebox.WindowScale = &ws
		} else {
			d.Middlebox.WindowScale = nil
		}
	}
	if flags.Changed("mss") {
		d.Middlebox.MSS = mss
	}
	if flags.Changed("first-ttl") {
		d.FirstTTL = firstTTL
	}
	if flags.Changed("max-ttl") {
		d.MaxTTL = maxTTL
	}
	if flags.Changed("rate") {
		d.Rate = rateLimit
	}
	if flags.Changed("verbose") {
		d.Verbose = verbosity
	}
	if flags.Changed("json") {
		d.JSON = jsonOutput
	}
	if flags.Changed("no-color") {
		d.NoColor = noColor
	}
	if flags.Changed("receive") {
		d.Receive = receive
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tracecraft %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", date)
		fmt.Printf("  Config: %s\n", config.GetConfigPath())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage the tracecraft configuration file.

Commands:
  tracecraft config --init     Create default config file
  tracecraft config --show     Show an example configuration
  tracecraft config --path     Show config file path`,
	RunE: runConfig,
}

var (
	configInit bool
	configShow bool
	configPath bool
)

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Create default config file")
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show an example configuration")
	configCmd.Flags().BoolVar(&configPath, "path", false, "Show config file path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configPath {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
		return nil
	}

	if configInit {
		path := config.GetConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}

		if err := config.DefaultConfig().Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
		return nil
	}

	if configShow {
		fmt.Fprintln(cmd.OutOrStdout(), config.GenerateExample())
		return nil
	}

	return cmd.Help()
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d := cfg.Defaults

	level := slog.LevelInfo
	if d.Verbose >= probe.VerbosityHigh {
		level = slog.LevelDebug
	}
	log := logger.NewWithLevel(os.Stderr, level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.IntoContext(ctx, log)

	targets, err := collectTargets(ctx, args)
	if err != nil {
		return err
	}

	pc, err := cfg.ProbeConfig()
	if err != nil {
		return err
	}
	pc.DryRun = dryRun

	reg := prometheus.NewRegistry()
	opts := []probe.Option{
		probe.WithLogger(log),
		probe.WithRegisterer(reg),
		probe.WithPublisher(cfg),
		probe.WithTraceWriter(os.Stderr),
	}

	outputConfig := output.Config{Colors: !d.NoColor}
	if dryRun {
		opts = append(opts, probe.WithSender(output.NewDumpSender(output.NewWriter(dumpFormat(d), outputConfig))))
	}

	var listener *listen.Listener
	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	if pc.Receive && !dryRun {
		listener, err = listen.New(
			listen.WithLogger(log),
			listen.WithRegisterer(reg),
			listen.WithVerification(pc.MiddleboxDetection),
		)
		if err != nil {
			return permissionHint(err)
		}
		defer listener.Close()
		opts = append(opts, probe.WithListener(listener.Func(listenCtx)))
	}

	engine, err := probe.New(pc, opts...)
	if err != nil {
		return permissionHint(err)
	}
	defer engine.Close()

	if src, ok := cfg.Get(probe.SourceIPKey); ok {
		log.Debug("Probing", "source", src, "type", pc.Type, "targets", len(targets))
	}

	scanner, err := scan.New(&scan.Config{
		FirstTTL: d.FirstTTL,
		MaxTTL:   d.MaxTTL,
		Rate:     d.Rate,
	}, engine)
	if err != nil {
		return err
	}

	_, runErr := scanner.Run(ctx, targets)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if listener != nil {
		if runErr == nil {
			select {
			case <-time.After(linger):
			case <-ctx.Done():
			}
		}
		stopListener()
		<-listener.Done()
	}

	if !noSummary {
		if err := writeSummary(os.Stderr, reg, outputConfig); err != nil {
			return err
		}
	}
	return nil
}

// collectTargets gathers targets from the arguments and the input file,
// applies aliases and resolves them to IPv4 addresses.
func collectTargets(ctx context.Context, args []string) ([]netip.Addr, error) {
	names := append([]string(nil), args...)
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		more, err := scan.ReadTargets(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", inputFile, err)
		}
		names = append(names, more...)
	}
	if len(names) == 0 {
		return nil, scan.ErrNoTargets
	}

	for i, name := range names {
		names[i] = cfg.Resolve(name)
	}
	return scan.ResolveTargets(ctx, nil, names)
}

func dumpFormat(d config.Defaults) output.Format {
	switch {
	case d.JSON:
		return output.FormatJSON
	case csvOutput:
		return output.FormatCSV
	default:
		return output.FormatText
	}
}

func writeSummary(w io.Writer, g prometheus.Gatherer, oc output.Config) error {
	s, err := output.GatherSummary(g)
	if err != nil {
		return err
	}
	if f, ok := w.(*os.File); !ok || !output.IsTerminal(f) {
		oc.Colors = false
	}
	output.NewTableFormatter(oc).WriteSummary(w, s)
	return nil
}

func permissionHint(err error) error {
	if probe.IsPermissionError(err) {
		return fmt.Errorf("%w\nRun as root or grant CAP_NET_RAW, or use --dry-run", err)
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}
