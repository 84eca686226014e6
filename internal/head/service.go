package head

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/danmuck/spectre/internal/auth"
	"github.com/danmuck/spectre/internal/broker"
	"github.com/danmuck/spectre/internal/classes"
	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/observability"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service owns the head's broker context, its TCP group and the optional
// admin surface.
type Service struct {
	cfg    config.HeadConfig
	broker *broker.Context
	opLog  *dispatch.Log
	group  *Group
	runner *Runner
}

// NewService registers the builtin classes and binds the head context to a
// fresh group. opts are passed to broker.New.
func NewService(cfg config.HeadConfig, opts ...broker.Option) (*Service, error) {
	reg := factory.NewRegistry()
	if err := classes.RegisterBuiltins(reg, classes.Env{Rank: 0, Size: cfg.Size}); err != nil {
		return nil, err
	}
	opLog := dispatch.NewLog(cfg.LogLimit)
	mux := dispatch.NewMux(0, opLog)
	b := broker.New(0, reg, opts...)
	if err := b.Bind(mux); err != nil {
		return nil, err
	}
	group := NewGroup(GroupConfig{
		Size:               cfg.Size,
		Classes:            reg.Names(),
		RequireClassParity: cfg.RequireClassParity,
		Session:            cfg.Session,
		Auth:               auth.ForToken(cfg.JoinToken),
	}, mux)
	b.Attach(observability.InstrumentChannel(group))
	return &Service{cfg: cfg, broker: b, opLog: opLog, group: group, runner: NewRunner(b)}, nil
}

func (s *Service) Broker() *broker.Context { return s.broker }

func (s *Service) Group() *Group { return s.group }

func (s *Service) Runner() *Runner { return s.runner }

// Run listens on the configured address, loads the configured script and
// serves until done.
func (s *Service) Run(ctx context.Context) error {
	var script *config.Script
	if path := strings.TrimSpace(s.cfg.ScriptPath); path != "" {
		loaded, err := config.LoadScript(path)
		if err != nil {
			return err
		}
		script = &loaded
	}
	ln, err := session.Listen(s.cfg.Session, s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("head listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln, script)
}

// Serve forms the group on ln, runs script once everyone joined and then
// closes the group. With an admin address it keeps serving until ctx ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener, script *config.Script) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error { return s.group.Serve(egCtx, ln) })
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		router := observability.NewAdminRouter(observability.AdminInfo{
			Node:        "head",
			Role:        "head",
			GroupID:     s.group.ID,
			CORSOrigins: s.cfg.CORSOrigins,
		}, s.broker, s.opLog)
		eg.Go(func() error { return observability.ServeAdmin(egCtx, addr, router) })
	}

	eg.Go(func() error {
		defer cancel()
		defer s.group.Close()
		if err := s.group.Wait(egCtx, s.cfg.JoinTimeout); err != nil {
			return err
		}
		log.Info().Str("group", s.group.ID()).Int("size", s.group.Size()).Msg("head.service group complete")
		if script != nil {
			results, err := s.runner.Run(egCtx, *script)
			if err != nil {
				return err
			}
			log.Info().Int("steps", len(results)).Msg("head.service script finished")
		}
		if s.cfg.AdminAddr != "" {
			<-egCtx.Done()
		}
		return nil
	})

	err := eg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
