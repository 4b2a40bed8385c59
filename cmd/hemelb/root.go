package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hemelb-go/hemelb/pkg/config"
	"github.com/hemelb-go/hemelb/pkg/elog"
	"github.com/hemelb-go/hemelb/pkg/geometry"
	"github.com/hemelb-go/hemelb/pkg/runtime"
	"github.com/hemelb-go/hemelb/pkg/transport"
)

const (
	geometryFileName = "geometry.dat"
	configFileName   = "config.xml"
	sidecarFileName  = "hemelb.yaml"

	// inboxDepth bounds how many unconsumed messages one rank's Endpoint
	// will buffer before PostSend blocks; 64 comfortably covers one
	// in-flight halo exchange plus a few pipelined render submissions.
	inboxDepth = 64
)

var (
	flagRanks             int
	flagConfig            string
	flagMaxNeighbourProcs int
	flagTreeFanout        int
	flagVerbose           bool
	flagDebug             bool
	flagJSON              bool
	flagGeometryOnly      bool
)

var rootCmd = &cobra.Command{
	Use:   "hemelb INPUT_DIR",
	Short: "Run the HemeLB core lattice-Boltzmann simulator",
	Long: `hemelb drives a fleet of simulation ranks, running in-process as
goroutines, through geometry loading, partitioning, and lattice-Boltzmann
iteration over the data found under INPUT_DIR.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoot,
}

func init() {
	bindFlags(rootCmd.Flags())
}

// bindFlags registers every flag on f and wires the two that have a
// config.Runtime analogue into viper, splitting flag definition from flag
// use the same way addModifyFlags(f *pflag.FlagSet) does.
func bindFlags(f *pflag.FlagSet) {
	f.IntVar(&flagRanks, "ranks", 1, "number of simulation ranks to run as in-process goroutines")
	f.StringVar(&flagConfig, "config", "", "path to a YAML config sidecar (overrides INPUT_DIR/"+sidecarFileName+")")
	f.IntVar(&flagMaxNeighbourProcs, "max-neighbour-procs", 0, "override max_neighbour_procs (0 keeps the config value)")
	f.IntVar(&flagTreeFanout, "tree-fanout", 0, "override tree_fanout (0 keeps the config value)")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	f.BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	f.BoolVarP(&flagJSON, "json", "j", false, "write log lines to stdout and show no progress bar")
	f.BoolVar(&flagGeometryOnly, "geometry-only", false, "load the geometry file, print block/site counts, and exit")

	_ = viper.BindPFlag("max_neighbour_procs", f.Lookup("max-neighbour-procs"))
	_ = viper.BindPFlag("tree_fanout", f.Lookup("tree-fanout"))
}

// noopXMLConfigReader is the stub XMLConfigReader (spec §1/§6 leaves the
// real config.xml parser out of scope): it always reports that it cannot
// read the file, so the caller falls back to the YAML sidecar or the
// built-in defaults.
type noopXMLConfigReader struct{}

func (noopXMLConfigReader) Read(path string) (*config.Runtime, error) {
	return nil, fmt.Errorf("hemelb: config.xml parsing is not implemented; supply %s instead", sidecarFileName)
}

func runRoot(cmd *cobra.Command, args []string) error {
	inputDir, err := homedir.Expand(args[0])
	if err != nil {
		return fmt.Errorf("expanding input directory: %w", err)
	}

	geometryPath := filepath.Join(inputDir, geometryFileName)

	if flagGeometryOnly {
		return runGeometryOnly(geometryPath)
	}

	cfg, err := loadConfig(inputDir)
	if err != nil {
		return err
	}
	cfg.DataFilePath = geometryPath

	if viper.IsSet("max_neighbour_procs") && viper.GetInt("max_neighbour_procs") != 0 {
		cfg.MaxNeighbourProcs = viper.GetInt("max_neighbour_procs")
	}
	if viper.IsSet("tree_fanout") && viper.GetInt("tree_fanout") != 0 {
		cfg.TreeFanout = viper.GetInt("tree_fanout")
	}

	if flagRanks < 1 {
		return fmt.Errorf("hemelb: --ranks must be at least 1, got %d", flagRanks)
	}

	progress := elog.NewProgressContainer(flagJSON || !isInteractive())
	bar := progress.NewBar("steps", int64(flagRanks)*int64(cfg.TotalTimeSteps))

	fabric := transport.NewFabric(flagRanks, inboxDepth)
	g, ctx := errgroup.WithContext(cmd.Context())
	for rank := 0; rank < flagRanks; rank++ {
		rank := rank
		g.Go(func() error {
			log := elog.New(rank, logWriter())
			log.SetLevel(logLevel())
			rt := runtime.New(cfg, fabric, rank, log)
			rt.StepProgress = bar
			_, err := rt.Run(ctx)
			return err
		})
	}

	err = g.Wait()
	progress.Wait()
	return err
}

// loadConfig resolves the configuration the CLI hands to every rank: an
// explicit --config flag wins, then INPUT_DIR/config.xml via the (stub)
// XMLConfigReader, then INPUT_DIR/hemelb.yaml, finally config.Default().
func loadConfig(inputDir string) (*config.Runtime, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}

	var reader runtime.XMLConfigReader = noopXMLConfigReader{}
	if cfg, err := reader.Read(filepath.Join(inputDir, configFileName)); err == nil {
		return cfg, nil
	}

	sidecar := filepath.Join(inputDir, sidecarFileName)
	if _, err := os.Stat(sidecar); err == nil {
		return config.Load(sidecar)
	}

	return config.Default(), nil
}

func runGeometryOnly(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening geometry file: %w", err)
	}
	defer f.Close()

	preamble, blocks, _, err := geometry.Load(f, nil, config.Default().GeometryReadBatchBlocks)
	if err != nil {
		return fmt.Errorf("loading geometry file: %w", err)
	}

	fluidBlocks, fluidSites := 0, 0
	for _, b := range blocks {
		if b.SiteCount > 0 {
			fluidBlocks++
			fluidSites += b.SiteCount
		}
	}

	fmt.Printf("blocks: %d (%d x %d x %d, block side %d)\n",
		preamble.TotalBlocks(), preamble.Bx, preamble.By, preamble.Bz, preamble.B)
	fmt.Printf("fluid blocks: %d\n", fluidBlocks)
	fmt.Printf("fluid sites: %d\n", fluidSites)
	return nil
}

func logLevel() logrus.Level {
	switch {
	case flagDebug:
		return logrus.DebugLevel
	case flagVerbose:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

func logWriter() *os.File {
	if flagJSON {
		return os.Stdout
	}
	return os.Stderr
}

func isInteractive() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
