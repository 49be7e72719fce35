package main

import (
	"github.com/Paintersrp/muther/internal/cli"
	"github.com/Paintersrp/muther/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
