// Command zecflowd is the zecflow/core process entrypoint: serve (HTTP
// API + worker pool + trigger supervisors), worker (worker pool only,
// for running a dedicated execution fleet behind the same Redis queue)
// and dumpconfig. The package-level app/command-var layout and the
// config-flag/help-text conventions mirror the teacher's own cmd/geth
// (package main, a package-level *cli.App, one *cli.Command var per
// subcommand).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/urfave/cli/v2"

	"github.com/zecflow/core/api"
	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/config"
	"github.com/zecflow/core/engine"
	"github.com/zecflow/core/handlers"
	"github.com/zecflow/core/ledger"
	"github.com/zecflow/core/metrics"
	"github.com/zecflow/core/queue"
	"github.com/zecflow/core/secret"
	"github.com/zecflow/core/store"
	"github.com/zecflow/core/trigger"
	"github.com/zecflow/core/zecflog"
)

// drainGrace is how long StartWorker/the HTTP server are given to finish
// in-flight work once shutdown is requested, spec.md §6 "Shutdown".
const drainGrace = 30 * time.Second

var configFlags = []cli.Flag{
	&cli.StringFlag{Name: config.FlagConfigFile, Usage: "path to a TOML config file"},
	&cli.StringFlag{Name: config.FlagMongoURI, Usage: "MongoDB connection URI"},
	&cli.StringFlag{Name: config.FlagRedisURL, Usage: "Redis connection URL backing the queue"},
	&cli.IntFlag{Name: config.FlagConcurrency, Usage: "number of concurrent run workers"},
	&cli.StringFlag{Name: config.FlagPublicURL, Usage: "externally reachable base URL of this process"},
	&cli.StringSliceFlag{Name: config.FlagCORSOrigins, Usage: "allowed CORS origin (repeatable)"},
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "run the HTTP API, the run worker pool and every trigger supervisor",
	Flags:  configFlags,
	Action: runServe,
}

var workerCommand = &cli.Command{
	Name:   "worker",
	Usage:  "run only the run worker pool against a shared queue",
	Flags:  configFlags,
	Action: runWorker,
}

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "print the merged, secret-masked configuration and exit",
	Flags:  configFlags,
	Action: runDumpConfig,
}

var app = &cli.App{
	Name:  "zecflowd",
	Usage: "durable workflow orchestration engine for zecflow",
	Commands: []*cli.Command{
		serveCommand,
		workerCommand,
		dumpConfigCommand,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "zecflowd:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.LoadFile(c.String(config.FlagConfigFile))
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv()
	cfg.ApplyFlags(c)
	return cfg, nil
}

func runDumpConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	out, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// deployment bundles every process-wide component runServe/runWorker
// wire up from a validated Config, so the two subcommands share one
// construction path and only differ in which of its goroutines they
// start.
type deployment struct {
	cfg     config.Config
	mongo   *store.Mongo
	rdb     *redis.Client
	queue   *queue.Queue
	engine  *engine.Engine
	metrics *metrics.Metrics
	hub     *api.Hub
	log     *zecflog.Logger

	workflows  *store.WorkflowStore
	runs       *store.RunStore
	triggers   *store.TriggerStore
	connectors *store.ConnectorStore
}

func build(ctx context.Context, c *cli.Context) (*deployment, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zecflog.Root()

	mongo, err := store.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	opt, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping().Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	q := queue.New(rdb)
	m := metrics.New(q)
	q.Metrics = m

	box := secret.NewBox(cfg.Auth.EncryptionKey)
	engine.SetSecretBox(box)

	workflows := store.NewWorkflowStore(mongo)
	runs := store.NewRunStore(mongo)
	triggers := store.NewTriggerStore(mongo)
	connectors := store.NewConnectorStore(mongo)
	ledgerStore := store.NewLedgerStore(mongo)
	l := ledger.New(ledgerStore)
	l.Metrics = m

	httpClient := clients.NewDefaultHTTP(30 * time.Second)
	handlerDeps := &handlers.Deps{
		Chain:   clients.NewZcashRPC(cfg.Zcash.RPCURL, cfg.Zcash.RPCUser, cfg.Zcash.RPCPassword, cfg.Zcash.RPCTimeout),
		Storage: clients.NewNilDBVault(cfg.NilDB.BaseURL, cfg.NilDB.APIKey, httpClient),
		Compute: clients.NewNilCCCompute(cfg.NilCC.BaseURL, cfg.NilCC.APIKey, httpClient),
		LLM:     clients.NewNilAILLM(cfg.NilAI.BaseURL, cfg.NilAI.APIKey, httpClient),
		HTTP:    httpClient,
		Social:  clients.NewBearerSocial(cfg.Social.BaseURL, cfg.Social.APIKey, httpClient),
	}

	hub := api.NewHub()
	eng := &engine.Engine{
		Runs:       runs,
		Workflows:  workflows,
		Connectors: connectors,
		Ledger:     l,
		Deps:       handlerDeps,
		Publish:    hub,
		Metrics:    m,
		Log:        log,
	}

	return &deployment{
		cfg: cfg, mongo: mongo, rdb: rdb, queue: q, engine: eng, metrics: m, hub: hub, log: log,
		workflows: workflows, runs: runs, triggers: triggers, connectors: connectors,
	}, nil
}

func (d *deployment) triggerDeps() *trigger.Deps {
	return &trigger.Deps{
		Workflows:  d.workflows,
		Triggers:   d.triggers,
		Connectors: d.connectors,
		Runs:       d.runs,
		Queue:      d.queue,
		Social:     clients.NewBearerSocial(d.cfg.Social.BaseURL, d.cfg.Social.APIKey, clients.NewDefaultHTTP(30*time.Second)),
		HTTP:       clients.NewDefaultHTTP(30 * time.Second),
		Chain:      clients.NewZcashRPC(d.cfg.Zcash.RPCURL, d.cfg.Zcash.RPCUser, d.cfg.Zcash.RPCPassword, d.cfg.Zcash.RPCTimeout),
		SecretBox:  secret.NewBox(d.cfg.Auth.EncryptionKey),
		Log:        d.log,
	}
}

// executeHandler adapts engine.Engine.Execute's (result, error) signature
// to queue.Handler's plain error return the worker pool dispatches on.
func (d *deployment) executeHandler(ctx context.Context, runID string) error {
	_, err := d.engine.Execute(ctx, runID)
	return err
}

func runWorker(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := build(ctx, c)
	if err != nil {
		return err
	}
	d.log.Info("zecflowd worker starting", "concurrency", d.cfg.Queue.Concurrency)
	d.queue.StartWorker(ctx, d.cfg.Queue.Concurrency, d.executeHandler)
	return nil
}

func runServe(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := build(ctx, c)
	if err != nil {
		return err
	}
	td := d.triggerDeps()

	srv := &api.Server{
		Workflows:   d.workflows,
		Runs:        d.runs,
		Triggers:    d.triggers,
		Queue:       d.queue,
		Auth:        api.NewAuthenticator(d.cfg.Auth.JWTSecret),
		Hub:         d.hub,
		TriggerDeps: td,
		Metrics:     d.metrics,
		Log:         d.log,
	}
	handler := api.NewServer(srv, d.cfg.CORS)
	httpSrv := &http.Server{Addr: ":8080", Handler: handler}

	go func() {
		d.log.Info("zecflowd serve starting", "addr", httpSrv.Addr, "publicUrl", d.cfg.PublicURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("http server stopped unexpectedly", "err", err)
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		d.queue.StartWorker(ctx, d.cfg.Queue.Concurrency, d.executeHandler)
		close(workersDone)
	}()

	scheduleSup := trigger.NewScheduleSupervisor(td)
	chainSup := trigger.NewChainWatchSupervisor(td)
	httpPollSup := trigger.NewHTTPPollSupervisor(td)
	socialSup := trigger.NewSocialPollSupervisor(td)
	go scheduleSup.Start(ctx, time.Minute)
	go chainSup.Start(ctx)
	go httpPollSup.Start(ctx)
	go socialSup.Start(ctx)

	<-ctx.Done()
	d.log.Info("shutdown requested, draining")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainGrace)
	defer drainCancel()
	err = httpSrv.Shutdown(drainCtx)
	select {
	case <-workersDone:
	case <-drainCtx.Done():
	}
	return err
}
