// Command entityctl is a small operator CLI for driving entities
// hosted by an in-memory runtime.Harness: signal, call, and status
// against the entity classes this binary is built with.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-entities/client"
	"github.com/goliatone/go-entities/examples/counter"
	"github.com/goliatone/go-entities/scheduler"
	"github.com/goliatone/go-logger/glog"

	entities "github.com/goliatone/go-entities"
	"github.com/goliatone/go-entities/runtime"
)

var cli struct {
	LogLevel string `name:"log-level" default:"info" help:"trace|debug|info|warn|error"`
	Config   string `name:"config" optional:"" type:"existingfile" help:"YAML scheduler.Set document; overrides the built-in class list."`

	Signal signalCmd `cmd:"" help:"Send a fire-and-forget signal to an entity."`
	Call   callCmd   `cmd:"" help:"Send a request/response operation and print the result."`
	Status statusCmd `cmd:"" help:"Print an entity's bounded status snapshot."`
	Pause  pauseCmd  `cmd:"" help:"Pause an entity's worker ahead of its next iteration."`
	Resume resumeCmd `cmd:"" help:"Resume a paused entity's worker."`
}

type signalCmd struct {
	Class     string `arg:"" help:"Entity class name (e.g. Counter)."`
	Key       string `arg:"" help:"Entity key."`
	Operation string `arg:"" help:"Operation/signal name."`
	Input     string `arg:"" optional:"" help:"JSON-encoded operation input."`
}

func (c *signalCmd) Run(app *appContext) error {
	id := entities.NewEntityId(c.Class, c.Key)
	return app.client.SignalEntity(app.ctx, id, c.Operation, c.Input)
}

type callCmd struct {
	Class     string `arg:"" help:"Entity class name (e.g. Counter)."`
	Key       string `arg:"" help:"Entity key."`
	Operation string `arg:"" help:"Operation name."`
	Input     string `arg:"" optional:"" help:"JSON-encoded operation input."`
}

func (c *callCmd) Run(app *appContext) error {
	id := entities.NewEntityId(c.Class, c.Key)
	result, err := app.client.CallEntity(app.ctx, id, c.Operation, c.Input)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

type statusCmd struct {
	Class string `arg:"" help:"Entity class name (e.g. Counter)."`
	Key   string `arg:"" help:"Entity key."`
}

func (c *statusCmd) Run(app *appContext) error {
	id := entities.NewEntityId(c.Class, c.Key)
	status, err := app.client.ReadEntityStatus(app.ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("entityExists=%v queueSize=%d lockedBy=%q\n",
		status.EntityExists, status.QueueSize, status.LockedBy)
	if status.LockedSince != nil {
		fmt.Printf("lockedSince=%s\n", status.LockedSince.Format(time.RFC3339))
	}
	if status.CurrentOperation != nil {
		fmt.Printf("currentOperation=%s id=%s\n", status.CurrentOperation.Operation, status.CurrentOperation.ID)
	}
	return nil
}

type pauseCmd struct {
	Class string `arg:"" help:"Entity class name (e.g. Counter)."`
	Key   string `arg:"" help:"Entity key."`
}

func (c *pauseCmd) Run(app *appContext) error {
	return app.harness.Pause(entities.NewEntityId(c.Class, c.Key))
}

type resumeCmd struct {
	Class string `arg:"" help:"Entity class name (e.g. Counter)."`
	Key   string `arg:"" help:"Entity key."`
}

func (c *resumeCmd) Run(app *appContext) error {
	return app.harness.Resume(entities.NewEntityId(c.Class, c.Key))
}

// appContext is kong's bound vars struct: every *Cmd.Run(app *appContext)
// method receives the harness/client this process built at startup.
type appContext struct {
	ctx     context.Context
	client  *client.Client
	harness *runtime.Harness
}

func main() {
	parser := kong.Must(&cli,
		kong.Name("entityctl"),
		kong.Description("Operator CLI for entity scheduler instances."),
	)
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	logger := scheduler.NewGlogLogger(glog.NewLogger(
		glog.WithWriter(os.Stderr),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(cli.LogLevel),
	))

	classes := scheduler.Set{Classes: []scheduler.Config{counter.Config()}}
	if cli.Config != "" {
		f, err := os.Open(cli.Config)
		parser.FatalIfErrorf(err)
		defer f.Close()
		classes, err = scheduler.LoadSet(f)
		parser.FatalIfErrorf(err)
	}

	factory := func(cfg scheduler.Config) (scheduler.Invoker, error) {
		if cfg.InvocationMode == scheduler.InvocationOutOfProcess {
			if cfg.OutOfProcess == nil || cfg.OutOfProcess.Command == "" {
				return nil, fmt.Errorf("entityctl: class %q is out_of_process but names no command", cfg.ClassName)
			}
			invoker := scheduler.NewProcessInvoker(cfg.OutOfProcess.Command, cfg.OutOfProcess.Args...)
			invoker.Timeout = cfg.OutOfProcess.Timeout
			return invoker, nil
		}
		switch cfg.ClassName {
		case counter.ClassName:
			return scheduler.NewInProcessInvoker(counter.Registry()), nil
		default:
			return nil, fmt.Errorf("entityctl: no invoker wired for class %q", cfg.ClassName)
		}
	}

	harness := runtime.NewHarness(classes, factory, nil, logger)
	app := &appContext{ctx: context.Background(), client: client.New(harness), harness: harness}

	kctx.FatalIfErrorf(kctx.Run(app))
}
