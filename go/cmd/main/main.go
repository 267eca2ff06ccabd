package main

import (
	"github.com/lunixbochs/bootcorn/go/cmd"

	_ "github.com/lunixbochs/bootcorn/go/cmd/run"

	_ "github.com/lunixbochs/bootcorn/go/cmd/inspect"
	_ "github.com/lunixbochs/bootcorn/go/cmd/mkimage"
)

func main() { cmd.Main() }
