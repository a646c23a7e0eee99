// Package fuzz runs the persistent harness loop, either as an AFL fork
// server or over a corpus directory.
package fuzz

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/afl"
	"github.com/lunixbochs/shemufuzz/go/cmd"
	"github.com/lunixbochs/shemufuzz/go/log"
)

var opts struct {
	loops  uint64
	corpus string
}

// corpusFiles lists the regular files in dir in natural order.
func corpusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list corpus %q", dir)
	}
	var paths []string
	for _, ent := range entries {
		if ent.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Slice(paths, func(i, j int) bool { return sortorder.NaturalLess(paths[i], paths[j]) })
	return paths, nil
}

func runCorpus(env *cmd.Env) error {
	paths, err := corpusFiles(opts.corpus)
	if err != nil {
		return err
	}
	src := &shemu.FileSource{Paths: paths, Max: env.Config.MaxInput, Log: env.Log}
	n, err := shemu.Loop(env.Runner(), src, opts.loops)
	env.Log.Info("corpus done", log.Path(opts.corpus), zap.Uint64("inputs", n))
	return err
}

// openInput picks the AFL testcase channel: shared memory when AFL++ offers
// it, else the input file, else stdin.
func openInput(env *cmd.Env, args []string) (afl.Input, uint32, error) {
	area, err := afl.AttachShm(afl.SHM_FUZZ_ENV_VAR)
	if err == nil {
		env.Log.Debug("shared memory testcases", log.Size(uint64(len(area))))
		return &afl.ShmInput{Area: area}, afl.FS_OPT_ENABLED | afl.FS_OPT_SHDMEM_FUZZ, nil
	} else if errors.Cause(err) != afl.ErrNoShm {
		return nil, 0, err
	}
	if len(args) > 0 && args[0] != "-" {
		return &afl.FileInput{Path: args[0], Max: env.Config.MaxInput}, 0, nil
	}
	return &afl.FileInput{File: os.Stdin, Max: env.Config.MaxInput}, 0, nil
}

// fakeChild is the process AFL sees per run. AFL kills it on a timeout,
// which stops the emulation in progress.
func fakeChild(env *cmd.Env) *afl.FakeProc {
	return &afl.FakeProc{Argv: []string{"/bin/cat"}, Log: env.Log, OnExit: env.Engine.Stop}
}

func runAFL(env *cmd.Env, args []string) error {
	var cov *afl.Coverage
	area, err := afl.AttachShm(afl.SHM_ENV_VAR)
	if err == nil {
		if len(area) > afl.MAP_SIZE {
			area = area[:afl.MAP_SIZE]
		}
		if cov, err = afl.NewCoverage(area); err != nil {
			return err
		}
		env.Engine.Block = cov.Block
	} else {
		env.Log.Warn("running without coverage", zap.Error(err))
	}

	input, hello, err := openInput(env, args)
	if err != nil {
		return err
	}
	r := env.Runner()
	if os.Getenv("AFL_NO_FORKSRV") == "1" {
		buf, err := input.Read()
		if err != nil {
			return err
		}
		_, err = r.Run(buf)
		return err
	}

	child := fakeChild(env)
	defer child.Kill()
	src := &afl.Source{
		Server:   afl.NewForkServer(child.Start),
		Input:    input,
		Coverage: cov,
		Opts:     hello,
	}
	env.Log.Debug("starting forkserver", zap.Uint64("loops", opts.loops))
	_, err = shemu.Loop(r, src, opts.loops)
	return err
}

func run(c *cobra.Command, args []string) error {
	env, err := cmd.Setup(c)
	if err != nil {
		return err
	}
	defer env.Close()
	if opts.corpus != "" {
		return runCorpus(env)
	}
	return runAFL(env, args)
}

func init() {
	c := &cobra.Command{
		Use:   "fuzz [file|-]",
		Short: "persistent fuzzing loop (AFL fork server, or --corpus)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  run,
	}
	c.Flags().Uint64Var(&opts.loops, "loops", 0, "stop after this many inputs (0: no limit)")
	c.Flags().StringVar(&opts.corpus, "corpus", "", "run every file in this directory instead of serving AFL")
	cmd.Register(c)
}
