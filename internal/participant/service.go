package participant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/spectre/internal/broker"
	"github.com/danmuck/spectre/internal/classes"
	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/observability"
	"github.com/danmuck/spectre/internal/protocol/frame"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service is one non-head rank.
type Service struct {
	cfg    config.ParticipantConfig
	broker *broker.Context
	mux    *dispatch.Mux
	opLog  *dispatch.Log
	client *Client

	mu      sync.Mutex
	groupID string
}

func NewService(cfg config.ParticipantConfig) (*Service, error) {
	reg := factory.NewRegistry()
	if err := classes.RegisterBuiltins(reg, classes.Env{Rank: cfg.Rank, Size: cfg.Size}); err != nil {
		return nil, err
	}
	opLog := dispatch.NewLog(cfg.LogLimit)
	mux := dispatch.NewMux(cfg.Rank, opLog)
	b := broker.New(cfg.Rank, reg)
	if err := b.Bind(mux); err != nil {
		return nil, err
	}
	client := NewClient(ClientConfig{
		Address:            cfg.HeadAddr,
		ParticipantID:      cfg.ID,
		Rank:               cfg.Rank,
		Token:              cfg.JoinToken,
		Classes:            reg.Names(),
		Session:            cfg.Session,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
	})
	return &Service{cfg: cfg, broker: b, mux: mux, opLog: opLog, client: client}, nil
}

func (s *Service) Broker() *broker.Context { return s.broker }

func (s *Service) Log() *dispatch.Log { return s.opLog }

// GroupID is the group this rank joined, empty before registration.
func (s *Service) GroupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupID
}

// Run joins the group and serves calls. It returns nil on shutdown,
// ErrAborted when the head declares the group diverged and ErrSequenceGap
// when a call was missed.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		router := observability.NewAdminRouter(observability.AdminInfo{
			Node:        s.cfg.ID,
			Role:        "participant",
			GroupID:     s.GroupID,
			CORSOrigins: s.cfg.CORSOrigins,
		}, s.broker, s.opLog)
		eg.Go(func() error { return observability.ServeAdmin(egCtx, addr, router) })
	}
	eg.Go(func() error {
		defer cancel()
		conn, err := s.client.ConnectAndRegister(egCtx, "")
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.groupID = conn.GroupID
		s.mu.Unlock()
		return s.Serve(egCtx, conn)
	})
	return eg.Wait()
}

// Serve answers call frames on conn until shutdown, abort or ctx ends.
// Calls are served one at a time in arrival order.
func (s *Service) Serve(ctx context.Context, conn *Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	expectSeq := uint64(1)
	for {
		fr, err := session.ReadFrame(conn.Reader, frame.DefaultLimits())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return ErrHeadLost
			}
			return fmt.Errorf("%w: %v", ErrHeadLost, err)
		}
		if string(fr.Group) != conn.GroupID {
			return fmt.Errorf("%w: %q", ErrWrongGroup, string(fr.Group))
		}

		switch fr.Header.Type {
		case schema.MsgShutdown:
			reason, _ := session.DecodeControlFrame(fr)
			log.Info().Int("rank", s.cfg.Rank).Str("reason", reason).Msg("participant.shutdown")
			return nil
		case schema.MsgAbort:
			reason, _ := session.DecodeControlFrame(fr)
			log.Error().Int("rank", s.cfg.Rank).Str("reason", reason).Msg("participant.abort")
			return fmt.Errorf("%w: %s", ErrAborted, reason)
		}

		// A skipped or repeated call leaves this rank out of step with the
		// group; nothing after it can be trusted.
		if fr.Header.Seq != expectSeq {
			log.Error().Int("rank", s.cfg.Rank).Uint64("seq", fr.Header.Seq).Uint64("want", expectSeq).Msg("participant.serve sequence gap")
			return fmt.Errorf("%w: got seq %d, want %d", ErrSequenceGap, fr.Header.Seq, expectSeq)
		}
		expectSeq++

		call := dispatch.Call{Seq: fr.Header.Seq, Tag: dispatch.Tag(fr.Header.Type), Payload: fr.Payload}
		serveErr := s.mux.Serve(ctx, call)
		ack := session.Ack{Rank: uint32(s.cfg.Rank)}
		if serveErr != nil {
			out := dispatch.OutcomeOf(s.cfg.Rank, serveErr)
			ack.Code, ack.Message = out.Code, out.Message
		}
		raw, err := session.EncodeAckFrame(call.Seq, ack)
		if err != nil {
			return err
		}
		if d := s.cfg.Session.WriteTimeout; d > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(d))
		}
		if _, err := conn.Write(raw); err != nil {
			return fmt.Errorf("%w: write ack: %v", ErrHeadLost, err)
		}
	}
}
