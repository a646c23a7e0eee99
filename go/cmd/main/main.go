package main

import (
	"github.com/lunixbochs/shemufuzz/go/cmd"

	_ "github.com/lunixbochs/shemufuzz/go/cmd/fuzz"
	_ "github.com/lunixbochs/shemufuzz/go/cmd/replay"
	_ "github.com/lunixbochs/shemufuzz/go/cmd/shellcode"
)

func main() { cmd.Main() }
