package cmd

import (
	"github.com/urfave/cli"

	"github.com/auriga-rt/auriga/log"
)

var logger = log.New("auriga")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
