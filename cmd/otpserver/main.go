package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/otpgo/internal/clientagent"
	"github.com/udisondev/otpgo/internal/config"
	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dbserver"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/eventlog"
	"github.com/udisondev/otpgo/internal/md"
	"github.com/udisondev/otpgo/internal/protocol"
	"github.com/udisondev/otpgo/internal/stateserver"
)

const ConfigPath = "config/otpserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
	log := slog.Default()

	slog.Info("otpgo server starting")

	cfgPath := ConfigPath
	if p := os.Getenv("OTPGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"client_agent", cfg.ClientAgent.Addr(),
		"message_director", cfg.MessageDirector.Addr(),
		"backend", cfg.Database.Backend)

	schema := dc.GameSchema()

	backend, err := openBackend(ctx, cfg.Database, schema)
	if err != nil {
		return fmt.Errorf("opening database backend: %w", err)
	}
	manager := database.NewManager(schema, backend, log)
	defer manager.Close()
	slog.Info("database backend ready", "backend", cfg.Database.Backend)

	director := md.NewDirector(log)
	state := stateserver.NewServer(schema, log)

	events, err := eventlog.NewServer(cfg.EventLog.Directory, cfg.EventLog.Addr(), log)
	if err != nil {
		return fmt.Errorf("creating event logger: %w", err)
	}
	central, err := eventlog.NewCentralLogger(schema, events, log)
	if err != nil {
		return fmt.Errorf("creating central logger: %w", err)
	}

	dbss := dbserver.NewServer(schema, manager, state, director, cfg.Database.Directory, log)

	agent, err := clientagent.NewAgent(cfg.ClientAgent, schema, state, manager, director,
		cfg.NameMasterFile(), log)
	if err != nil {
		return fmt.Errorf("creating client agent: %w", err)
	}
	state.SetAnnouncer(agent)

	// The state server consumes generates before the agent sees the
	// puppet traffic they may trigger.
	director.RegisterLocal(state)
	director.RegisterLocal(agent)
	director.RegisterLocal(dbss)
	director.RegisterLocal(central)

	generateCentralLogger(schema, director)

	mdServer := md.NewServer(director, cfg.MessageDirector.Addr(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := mdServer.Run(gctx); err != nil {
			return fmt.Errorf("message director: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := events.Run(gctx); err != nil {
			return fmt.Errorf("event logger: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := agent.Run(gctx); err != nil {
			return fmt.Errorf("client agent: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// openBackend builds the object store selected by the configuration.
func openBackend(ctx context.Context, cfg config.DatabaseConfig, schema *dc.Schema) (database.Backend, error) {
	switch cfg.Backend {
	case "raw":
		return database.NewRawBackend(schema, cfg.Directory, cfg.Extension, cfg.Storage)
	case "packed":
		return database.NewPackedBackend(schema, cfg.Directory, cfg.Extension, cfg.Storage)
	case "sql":
		if err := database.RunMigrations(ctx, cfg.Postgres.DSN()); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return database.NewSQLBackend(ctx, schema, cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

// generateCentralLogger places the fixed game-event sink object into
// the world so client reports have a live target.
func generateCentralLogger(schema *dc.Schema, director *md.Director) {
	class := schema.ClassByName("CentralLogger")
	w := protocol.NewWriter(32)
	w.WriteUint32(0)
	w.WriteUint32(0)
	w.WriteUint16(class.Number)
	w.WriteUint32(protocol.CentralLoggerDoId)
	director.Send([]uint64{protocol.ChannelStateServer}, 0,
		protocol.StateServerObjectGenerateWithRequiredOther, w.Bytes())
}
