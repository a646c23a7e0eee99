// Package replay runs a single saved input, typically a crash found by the
// fuzzer. Every failure here aborts: the only other outcome is exit 0.
package replay

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/cmd"
)

func validArgs(c *cobra.Command, args []string) error {
	if len(args) != 1 {
		shemu.Abort(nil, errors.Errorf("usage: %s", c.UseLine()))
	}
	return nil
}

func run(c *cobra.Command, args []string) error {
	env, err := cmd.Setup(c)
	if err != nil {
		shemu.Abort(nil, err)
	}
	defer env.Close()

	path := args[0]
	status, err := shemu.Replay(env.Runner(), path)
	if err != nil {
		shemu.Abort(env.Log, err)
	}
	fmt.Fprintf(c.OutOrStdout(), "%s: 0x%08x (%s)\n", path, uint32(status), status)
	return nil
}

func init() {
	c := &cobra.Command{
		Use:   "replay <file>",
		Short: "emulate one input file",
		Args:  validArgs,
		RunE:  run,
	}
	c.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		shemu.Abort(nil, err)
		return err
	})
	cmd.Register(c)
}
