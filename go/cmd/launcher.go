// Package cmd holds the shemufuzz command line: a cobra root command that
// subcommand packages register themselves with.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/engine/unicorn"
	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
)

var flags struct {
	config  string
	arch    string
	access  string
	output  string
	trace   bool
	verbose bool
	color   bool
}

var root = &cobra.Command{
	Use:   "shemufuzz",
	Short: "Fuzzing harness for an x86/x64 shellcode emulator",
	Long: `shemufuzz feeds raw shellcode to an emulator inside a synthetic process
context: registers, flat segments, a stack, a TIB and a bounded instruction
budget. Inputs come from AFL, a corpus directory, a single file or the command
line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "config file (default: shemufuzz.yaml in the user config dir)")
	pf.StringVar(&flags.arch, "arch", "", "guest architecture: x86 or x64")
	pf.StringVar(&flags.access, "access", "", "shellcode access: direct or callback")
	pf.StringVarP(&flags.output, "output", "o", "", "write logs to this file instead of stderr")
	pf.BoolVar(&flags.trace, "trace", false, "log every emulated instruction")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose debug output")
	pf.BoolVar(&flags.color, "color", false, "color register diffs")
}

// Register adds a subcommand to the launcher.
func Register(c *cobra.Command) {
	root.AddCommand(c)
}

// Env is what a subcommand needs to run inputs.
type Env struct {
	Config *models.Config
	Log    *log.Logger
	Engine *unicorn.Engine
}

// Setup loads the configuration, applies command line overrides and builds
// the logger and engine.
func Setup(c *cobra.Command) (*Env, error) {
	conf, err := models.LoadConfig(flags.config)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(c, conf); err != nil {
		return nil, err
	}
	logger, err := log.FromConfig(conf)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded",
		zap.Stringer("arch", conf.Arch),
		zap.Stringer("access", conf.Access),
		zap.Bool("trace", conf.Trace),
	)
	return &Env{Config: conf, Log: logger, Engine: unicorn.New(logger)}, nil
}

func applyFlags(c *cobra.Command, conf *models.Config) error {
	fs := c.Flags()
	if fs.Changed("arch") {
		if err := conf.Arch.UnmarshalText([]byte(flags.arch)); err != nil {
			return err
		}
	}
	if fs.Changed("access") {
		if err := conf.Access.UnmarshalText([]byte(flags.access)); err != nil {
			return err
		}
	}
	if fs.Changed("output") {
		conf.Output = flags.output
	}
	if fs.Changed("trace") {
		conf.Trace = flags.trace
	}
	if fs.Changed("verbose") {
		conf.Verbose = flags.verbose
	}
	if fs.Changed("color") {
		conf.Color = flags.color
	}
	return nil
}

// Runner wires a harness runner for env.
func (e *Env) Runner() *shemu.Runner {
	return shemu.NewRunner(e.Config, e.Engine, e.Log)
}

func (e *Env) Close() {
	e.Log.Sync()
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stacktrace if available.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	st, ok := err.(stackTracer)
	if !ok {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 2)
	for _, f := range frames {
		for i := range widths {
			if len(f[i]) > widths[i] {
				widths[i] = len(f[i])
			}
		}
	}
	for _, f := range frames {
		for i := range widths {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", f[2])
	}
}

// Execute runs the launcher with args in place of the command line.
func Execute(args []string) error {
	root.SetArgs(args)
	return root.Execute()
}

// Main runs the launcher and exits non-zero on error.
func Main() {
	if err := Execute(os.Args[1:]); err != nil {
		PrintError(err)
		os.Exit(1)
	}
}
