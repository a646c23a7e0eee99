//go:build gofuzz
// +build gofuzz

// Package fuzz is the go-fuzz entry point: every input is emulated once on
// the unicorn engine as raw shellcode.
package fuzz

import (
	shemu "github.com/lunixbochs/shemufuzz/go"
	"github.com/lunixbochs/shemufuzz/go/engine/unicorn"
	"github.com/lunixbochs/shemufuzz/go/log"
	"github.com/lunixbochs/shemufuzz/go/models"
)

var runner *shemu.Runner

func setup() *shemu.Runner {
	c, err := models.LoadConfig("")
	if err != nil {
		shemu.Abort(nil, err)
	}
	logger, err := log.FromConfig(c)
	if err != nil {
		shemu.Abort(nil, err)
	}
	return shemu.NewRunner(c, unicorn.New(logger), logger)
}

func Fuzz(data []byte) int {
	if runner == nil {
		runner = setup()
	}
	return shemu.OneShot(runner, data)
}
