package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sources/memory"
	"github.com/fieldwire/txcore/go/sourcewriter"
	"github.com/fieldwire/txcore/go/transaction"
)

type cmdRunScenario struct {
	Scenario string `long:"scenario" default:"best-effort" choice:"best-effort" choice:"rollback" choice:"single-write" choice:"optimistic-conflict" description:"Which commit scenario to run"`
}

func deviceType() *graph.TypeDescriptor {
	return &graph.TypeDescriptor{
		Name: "Device",
		Properties: map[string]*graph.PropertyMeta{
			"Position": {Name: "Position"},
			"Setpoint": {Name: "Setpoint"},
			"Label":    {Name: "Label"},
		},
	}
}

func (cmd *cmdRunScenario) Execute(_ []string) error {
	ctx := context.Background()
	tc := transaction.NewContext(transaction.Options{Registry: graph.NewStaticRegistry(nil, 0)})

	handle := &struct{ name string }{name: "device-1"}
	subject := graph.NewSubject(handle, deviceType())
	position, _ := graph.NewProperty(subject, "Position")
	setpoint, _ := graph.NewProperty(subject, "Setpoint")
	label, _ := graph.NewProperty(subject, "Label")

	srcA := memory.New("plc-a", 0)
	srcB := memory.New("plc-b", 0)

	var err error
	switch cmd.Scenario {
	case "best-effort":
		srcB.Fault = func(batch []graph.Change) (sourcewriter.WriteResult, bool) {
			return sourcewriter.Failure(errors.New("plc-b unreachable")), true
		}
		if err = tc.BindSource(position.ID, srcA); err != nil {
			return err
		}
		if err = tc.BindSource(setpoint.ID, srcB); err != nil {
			return err
		}
		err = runCommit(ctx, tc, transaction.BeginOptions{FailureMode: sourcewriter.BestEffort, LockMode: transaction.Exclusive}, func(write writeFn) error {
			if e := write(position, "docked"); e != nil {
				return e
			}
			return write(setpoint, 42)
		})

	case "rollback":
		srcB.Fault = func(batch []graph.Change) (sourcewriter.WriteResult, bool) {
			return sourcewriter.Failure(errors.New("plc-b unreachable")), true
		}
		if err = tc.BindSource(position.ID, srcA); err != nil {
			return err
		}
		if err = tc.BindSource(setpoint.ID, srcB); err != nil {
			return err
		}
		err = runCommit(ctx, tc, transaction.BeginOptions{FailureMode: sourcewriter.Rollback, LockMode: transaction.Exclusive}, func(write writeFn) error {
			if e := write(position, "docked"); e != nil {
				return e
			}
			return write(setpoint, 42)
		})

	case "single-write":
		if err = tc.BindSource(position.ID, srcA); err != nil {
			return err
		}
		if err = tc.BindSource(setpoint.ID, srcB); err != nil {
			return err
		}
		err = runCommit(ctx, tc, transaction.BeginOptions{LockMode: transaction.Exclusive, Requirement: sourcewriter.RequireSingleWrite}, func(write writeFn) error {
			if e := write(position, "docked"); e != nil {
				return e
			}
			if e := write(setpoint, 42); e != nil {
				return e
			}
			return write(label, "bay-3")
		})

	case "optimistic-conflict":
		if werr := tc.Write(ctx, label, "bay-1"); werr != nil {
			return werr
		}
		err = runCommit(ctx, tc, transaction.BeginOptions{LockMode: transaction.Optimistic, ConflictBehavior: transaction.FailOnConflict}, func(write writeFn) error {
			if e := write(label, "bay-2"); e != nil {
				return e
			}
			// Simulate an external write landing between capture and commit by
			// writing label directly through the context outside any transaction.
			return tc.Write(ctx, label, "bay-3")
		})

	default:
		return fmt.Errorf("unknown scenario %q", cmd.Scenario)
	}

	var txErr *transaction.TransactionError
	if errors.As(err, &txErr) {
		color.Red("scenario %s faulted: applied=%d failed=%d errors=%d", cmd.Scenario, len(txErr.Applied), len(txErr.Failed), len(txErr.Errors))
		for _, e := range txErr.Errors {
			fmt.Println(" -", e)
		}
		return nil
	}
	if err != nil {
		color.Red("scenario %s failed: %v", cmd.Scenario, err)
		return nil
	}
	color.Green("scenario %s committed", cmd.Scenario)
	return nil
}

type writeFn func(graph.Property, any) error

// runCommit begins a transaction, lets body issue its writes through a
// bound write function, then commits and disposes it regardless of outcome.
func runCommit(ctx context.Context, tc *transaction.Context, opts transaction.BeginOptions, body func(writeFn) error) error {
	tx, txCtx, err := transaction.Begin(ctx, tc, opts)
	if err != nil {
		return err
	}
	defer tx.Dispose()

	write := func(p graph.Property, v any) error {
		return tc.Write(txCtx, p, v)
	}
	if err := body(write); err != nil {
		return err
	}
	return tx.Commit(txCtx)
}
