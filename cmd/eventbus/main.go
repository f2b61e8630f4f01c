// Command eventbus sends, publishes and listens for messages on an event bus.
//
//	eventbus [-config path] listen  [-echo] [-local] <address>
//	eventbus [-config path] send    [-timeout d] <address> <json>
//	eventbus [-config path] publish <address> <json>
//	eventbus [-config path] ping    [-n count] [-timeout d] <address>
//
// Without -config the first of StandardPaths that exists is used.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vinayprograms/eventbus/bus"
	"github.com/vinayprograms/eventbus/codec"
	"github.com/vinayprograms/eventbus/config"
	"github.com/vinayprograms/eventbus/errors"
	"github.com/vinayprograms/eventbus/eventbus"
	"github.com/vinayprograms/eventbus/logging"
	"github.com/vinayprograms/eventbus/shutdown"
	"github.com/vinayprograms/eventbus/telemetry"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "eventbus:", err)
		os.Exit(1)
	}
}

// app is a running bus plus everything needed to stop it.
type app struct {
	bus    *eventbus.EventBus
	logger *logging.Logger
	coord  *shutdown.Coordinator
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("eventbus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to TOML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.InvalidInput("missing command (listen, send, publish or ping)")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	a, err := start(ctx, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.coord.ShutdownWithTimeout(0)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "listen":
		return a.listen(ctx, rest)
	case "send":
		return a.send(ctx, rest)
	case "publish":
		return a.publish(ctx, rest)
	case "ping":
		return a.ping(ctx, rest)
	default:
		return errors.InvalidInput("unknown command " + cmd)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// start builds the transport, telemetry and bus described by cfg and
// registers their shutdown steps.
func start(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	logCfg := cfg.LoggerConfig()
	logCfg.Output = stderr
	logger := logging.NewWithConfig(logCfg)

	coord := shutdown.NewCoordinator(shutdown.Config{
		ContinueOnError: true,
		OnStep: func(r shutdown.StepResult) {
			if r.Err != nil {
				logger.Warn("shutdown step failed", map[string]interface{}{"step": r.Name, "error": r.Err.Error()})
				return
			}
			logger.Debug("shutdown step done", map[string]interface{}{"step": r.Name, "duration": r.Duration.String()})
		},
	})

	opts := []eventbus.Option{eventbus.WithLogger(logger)}

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitProvider(ctx, cfg.ProviderConfig(version))
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		coord.Register("tracing", shutdown.PhaseTracing, provider.Shutdown)
		opts = append(opts, eventbus.WithTracer(provider.Tracer()))
	}

	events, err := telemetry.NewExporter(cfg.Telemetry.Events, cfg.Telemetry.EventsEndpoint)
	if err != nil {
		coord.ShutdownWithTimeout(0)
		return nil, fmt.Errorf("init events: %w", err)
	}
	coord.Register("events", shutdown.PhaseEvents, func(context.Context) error { return events.Close() })
	opts = append(opts, eventbus.WithExporter(events))

	transport, err := newTransport(cfg, logger)
	if err != nil {
		coord.ShutdownWithTimeout(0)
		return nil, err
	}

	eb := eventbus.New(transport, opts...)
	coord.Register("eventbus", shutdown.PhaseBus, func(context.Context) error { return eb.Close() })

	logger.Info("bus started", map[string]interface{}{"transport": cfg.Bus.Transport})
	return &app{bus: eb, logger: logger, coord: coord, out: stdout}, nil
}

func newTransport(cfg config.Config, logger *logging.Logger) (bus.Transport, error) {
	switch cfg.Bus.Transport {
	case config.TransportNATS:
		return bus.NewNATSBus(cfg.NATSBusConfig(logger))
	default:
		return bus.NewMemoryBus(cfg.TransportConfig(logger)), nil
	}
}

// --- Commands ---

func (a *app) listen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	echo := fs.Bool("echo", false, "reply to each message with its body")
	local := fs.Bool("local", false, "register a process-local handler")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.InvalidInput("usage: listen [-echo] [-local] <address>")
	}
	address := fs.Arg(0)

	handler := func(env *eventbus.Envelope) {
		a.print(env)
		if *echo && env.CanReply() {
			if err := env.Reply(env.Message(), nil); err != nil {
				a.logger.ReplyFailed(address, err)
			}
		}
	}

	register := a.bus.RegisterHandler
	if *local {
		register = a.bus.RegisterLocalHandler
	}
	if _, err := register(address, handler); err != nil {
		return err
	}

	ctx, stop := a.coord.NotifyContext(ctx)
	defer stop()
	<-ctx.Done()
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for a reply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.InvalidInput("usage: send [-timeout d] <address> <json>")
	}
	body, err := codec.FromJSON([]byte(fs.Arg(1)))
	if err != nil {
		return err
	}

	replies := make(chan *eventbus.Envelope, 1)
	if err := a.bus.SendContext(ctx, fs.Arg(0), body, func(env *eventbus.Envelope) {
		replies <- env
	}); err != nil {
		return err
	}

	env, err := await(ctx, replies, *timeout, fs.Arg(0))
	if err != nil {
		return err
	}
	if env.Err != nil {
		return env.Err
	}
	a.print(env)
	return nil
}

func (a *app) publish(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.InvalidInput("usage: publish <address> <json>")
	}
	body, err := codec.FromJSON([]byte(args[1]))
	if err != nil {
		return err
	}
	return a.bus.PublishContext(ctx, args[0], body)
}

// ping registers an echo handler and measures round trips through it.
func (a *app) ping(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	count := fs.Int("n", 3, "number of round trips")
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for each reply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *count <= 0 || *timeout <= 0 {
		return errors.InvalidInput("usage: ping [-n count] [-timeout d] <address>")
	}
	address := fs.Arg(0)

	id, err := a.bus.RegisterHandler(address, func(env *eventbus.Envelope) {
		if err := env.Reply(env.Message(), nil); err != nil {
			a.logger.ReplyFailed(address, err)
		}
	})
	if err != nil {
		return err
	}
	defer a.bus.UnregisterHandler(address, id)

	for i := 0; i < *count; i++ {
		begin := time.Now()
		done := make(chan error, 1)
		err := a.bus.SendContext(ctx, address, map[string]any{"seq": i}, func(env *eventbus.Envelope) {
			done <- env.Err
		})
		if err != nil {
			return err
		}
		replyErr, err := await(ctx, done, *timeout, address)
		if err != nil {
			return err
		}
		if replyErr != nil {
			return replyErr
		}
		fmt.Fprintf(a.out, "seq=%d rtt=%s\n", i, time.Since(begin))
	}
	return nil
}

// await waits for one value on ch, giving up with TIMEOUT after timeout or
// with the context error once ctx ends.
func await[T any](ctx context.Context, ch <-chan T, timeout time.Duration, address string) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, errors.FromCode(errors.ErrCodeTimeout, errors.WithAddress(address))
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (a *app) print(env *eventbus.Envelope) {
	data, err := env.Message().MarshalJSON()
	if err != nil {
		a.logger.Warn("cannot render body", map[string]interface{}{"address": env.Address, "error": err.Error()})
		return
	}
	fmt.Fprintf(a.out, "%s %s\n", env.Address, data)
}
