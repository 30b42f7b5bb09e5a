package main

import (
	"log/slog"

	"github.com/outflowhq/outflow/pkg/outflow"
)

func main() {
	outflow.SetupLogger()

	if err := outflow.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
