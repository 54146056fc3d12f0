package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/fieldwire/txcore/go/config"
	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sources/sqlite"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

type cmdServeDevice struct {
	Path string `long:"path" description:"SQLite file to open (default from config)"`
}

func (cmd *cmdServeDevice) Execute(_ []string) error {
	path := cmd.Path
	if path == "" {
		path = config.Default().SQLiteDSN
	}

	src, err := sqlite.Open("sqlite-device", path, 0)
	if err != nil {
		color.Red("failed to open %s: %v", path, err)
		return nil
	}
	defer src.Close()

	handle := &struct{ name string }{name: "bench-1"}
	subject := graph.NewSubject(handle, &graph.TypeDescriptor{Name: "Bench"})
	id := graph.PropertyID{Subject: subject, Name: "Temperature"}

	result := src.WriteChanges(context.Background(), []graph.Change{{Property: id, New: 21.5}})
	if result != sourcewriter.SourceWriteSuccess {
		color.Red("write to %s failed", path)
		return nil
	}

	color.Green("wrote Bench.Temperature = 21.5 to %s", path)
	fmt.Printf("identity=%s batchSize=%d\n", src.Identity(), src.WriteBatchSize())
	return nil
}
