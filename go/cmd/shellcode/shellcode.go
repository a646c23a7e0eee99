// Package shellcode emulates shellcode given on the command line and prints
// what it did.
package shellcode

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/cmd"
	"github.com/lunixbochs/shemufuzz/go/cpu"
	"github.com/lunixbochs/shemufuzz/go/models"
)

var asm bool

// readShellcode decodes arg as hex, or as assembly with --asm. "-" reads
// the same from stdin.
func readShellcode(arg string, conf *models.Config) ([]byte, error) {
	text := arg
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read shellcode")
		}
		if !asm {
			return data, nil
		}
		text = string(data)
	}
	if asm {
		k, err := cpu.NewKeystone(int(conf.Arch.Bits()))
		if err != nil {
			return nil, err
		}
		defer k.Close()
		return k.Asm(text, conf.Layout.ShellcodeBase)
	}
	text = strings.Join(strings.Fields(text), "")
	code, err := hex.DecodeString(strings.TrimPrefix(text, "0x"))
	return code, errors.Wrap(err, "failed to decode shellcode")
}

func run(c *cobra.Command, args []string) error {
	env, err := cmd.Setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	code, err := readShellcode(args[0], env.Config)
	if err != nil {
		return err
	}
	out := c.OutOrStdout()
	dis := &cpu.X86{Bits: int(env.Config.Arch.Bits())}
	fmt.Fprintln(out, dis.Disas(code, env.Config.Layout.ShellcodeBase))

	r := env.Runner()
	ctx, err := r.Build(code)
	if err != nil {
		return err
	}
	defer shemu.Release(ctx, r.Alloc)
	initial := ctx.Regs
	status := r.Engine.Emulate(ctx)

	fmt.Fprintf(out, "status: 0x%08x (%s)\n", uint32(status), status)
	fmt.Fprintf(out, "flags: %s\n", ctx.Flags)
	fmt.Fprintf(out, "instructions: %d\n", ctx.Instructions)
	if changes := models.DiffRegs(ctx.Arch, &initial, &ctx.Regs, true); changes.Count() > 0 {
		fmt.Fprintln(out, changes.String(env.Config.Color))
	}
	return nil
}

func init() {
	c := &cobra.Command{
		Use:   "shellcode <hex|->",
		Short: "emulate hex-encoded shellcode and show the register changes",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	c.Flags().BoolVar(&asm, "asm", false, "treat the argument as assembly instead of hex")
	cmd.Register(c)
}
