package head

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/spectre/internal/auth"
	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/observability"
	"github.com/danmuck/spectre/internal/protocol/frame"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrGroupIncomplete = errors.New("head: group not complete")
	ErrJoinTimeout     = errors.New("head: timed out waiting for participants")
)

// GroupConfig shapes one TCP group.
type GroupConfig struct {
	Size               int
	Classes            []string
	RequireClassParity bool
	Session            session.Config
	// Auth checks join tokens; nil admits everyone.
	Auth               auth.Validator
}

type member struct {
	rank   int
	id     string
	peer   string
	conn   net.Conn
	reader *bufio.Reader
}

// Group is the TCP dispatch channel. The head mux is served inline; every
// remote rank gets each call frame and answers with one ack frame.
type Group struct {
	cfg     GroupConfig
	id      string
	headMux *dispatch.Mux

	// mu guards membership and serializes dispatch. A rank sits in pending
	// from admission until its ack is written; only members see calls.
	mu      sync.Mutex
	seq     uint64
	members map[int]*member
	pending map[int]*member
	ready   chan struct{}
	closed  bool
}

func NewGroup(cfg GroupConfig, headMux *dispatch.Mux) *Group {
	g := &Group{
		cfg:     cfg,
		id:      uuid.NewString(),
		headMux: headMux,
		members: make(map[int]*member),
		pending: make(map[int]*member),
		ready:   make(chan struct{}),
	}
	if cfg.Size <= 1 {
		close(g.ready)
	}
	return g
}

func (g *Group) ID() string { return g.id }

func (g *Group) Size() int { return g.cfg.Size }

// Joined is the number of registered remote participants.
func (g *Group) Joined() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Ready is closed once every rank has registered.
func (g *Group) Ready() <-chan struct{} { return g.ready }

// Wait blocks until the group is complete, ctx ends or timeout passes.
// A zero timeout waits on ctx alone.
func (g *Group) Wait(ctx context.Context, timeout time.Duration) error {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expire:
		return fmt.Errorf("%w: %d of %d joined", ErrJoinTimeout, g.Joined()+1, g.cfg.Size)
	}
}

// Serve accepts participant sessions on ln until ctx ends. Sessions stay
// open after registration; only Dispatch reads from them.
func (g *Group) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	log.Info().Str("group", g.id).Str("addr", ln.Addr().String()).Int("size", g.cfg.Size).Msg("head.group listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go g.register(conn)
	}
}

func (g *Group) register(conn net.Conn) {
	reader := bufio.NewReader(conn)
	if d := g.cfg.Session.HandshakeTimeout; d > 0 {
		_ = conn.SetDeadline(time.Now().Add(d))
	}
	remote := conn.RemoteAddr().String()

	reg, err := session.ReadRegistration(reader)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("head.register read failed")
		g.reject(conn, session.RejectMalformed, "invalid registration payload")
		return
	}
	code, msg := g.admit(reg, conn, reader)
	if code != 0 {
		log.Warn().
			Str("participant", reg.ParticipantID).
			Uint32("rank", reg.Rank).
			Uint32("code", code).
			Str("reason", msg).
			Msg("head.register rejected")
		g.reject(conn, code, msg)
		return
	}
	ack := session.RegistrationAck{
		Status:      session.AckStatusAccepted,
		GroupID:     g.id,
		Size:        uint32(g.cfg.Size),
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if err := session.WriteRegistrationAck(conn, ack); err != nil {
		log.Error().Err(err).Uint32("rank", reg.Rank).Msg("head.register write ack failed")
		g.drop(int(reg.Rank), conn)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	g.mu.Lock()
	m, ok := g.pending[int(reg.Rank)]
	if !ok || m.conn != conn {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	delete(g.pending, m.rank)
	g.members[m.rank] = m
	joined := len(g.members)
	if joined == g.cfg.Size-1 {
		select {
		case <-g.ready:
		default:
			close(g.ready)
		}
	}
	g.mu.Unlock()
	observability.SetGroupSessions(joined)
	log.Info().
		Str("participant", reg.ParticipantID).
		Uint32("rank", reg.Rank).
		Str("peer", session.PeerIdentity(conn)).
		Int("joined", joined+1).
		Int("size", g.cfg.Size).
		Msg("head.register accepted")
}

// admit checks and records reg. A non-zero code rejects it.
func (g *Group) admit(reg session.Registration, conn net.Conn, reader *bufio.Reader) (uint32, string) {
	if err := reg.Validate(); err != nil {
		return session.RejectMalformed, err.Error()
	}
	if g.cfg.Auth != nil {
		if err := g.cfg.Auth.Validate(reg.Token); err != nil {
			return session.RejectUnauthorized, "join token rejected"
		}
	}
	if reg.GroupID != "" && reg.GroupID != g.id {
		return session.RejectGroupMismatch, "registration names another group"
	}
	rank := int(reg.Rank)
	if rank >= g.cfg.Size {
		return session.RejectRankRange, fmt.Sprintf("rank %d outside group size %d", rank, g.cfg.Size)
	}
	if g.cfg.RequireClassParity && !factory.SameClasses(reg.Classes, g.cfg.Classes) {
		return session.RejectClassMismatch, "class set differs from head"
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return session.RejectGroupMismatch, "group closed"
	}
	_, joined := g.members[rank]
	_, joining := g.pending[rank]
	if joined || joining {
		return session.RejectRankTaken, fmt.Sprintf("rank %d already registered", rank)
	}
	g.pending[rank] = &member{
		rank:   rank,
		id:     reg.ParticipantID,
		peer:   session.PeerIdentity(conn),
		conn:   conn,
		reader: reader,
	}
	return 0, ""
}

func (g *Group) reject(conn net.Conn, code uint32, msg string) {
	_ = session.WriteRegistrationAck(conn, session.RegistrationAck{
		Status:      session.AckStatusRejected,
		Code:        code,
		Message:     msg,
		GroupID:     g.id,
		Size:        uint32(g.cfg.Size),
		TimestampMS: uint64(time.Now().UnixMilli()),
	})
	_ = conn.Close()
}

func (g *Group) drop(rank int, conn net.Conn) {
	g.mu.Lock()
	if m, ok := g.pending[rank]; ok && m.conn == conn {
		delete(g.pending, rank)
	}
	g.mu.Unlock()
	_ = conn.Close()
}

// Dispatch runs one collective call. It refuses to start until every rank
// has joined; once frames are written it waits for every ack.
func (g *Group) Dispatch(ctx context.Context, tag dispatch.Tag, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return dispatch.ErrClosed
	}
	if len(g.members) != g.cfg.Size-1 {
		return fmt.Errorf("%w: %d of %d joined", ErrGroupIncomplete, len(g.members)+1, g.cfg.Size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.seq++
	call := dispatch.Call{Seq: g.seq, Tag: tag, Payload: payload}
	raw, err := session.EncodeCallFrame(call.Seq, uint32(tag), g.id, payload)
	if err != nil {
		return err
	}

	outcomes := make([]dispatch.Outcome, g.cfg.Size)
	var eg errgroup.Group
	for rank, m := range g.members {
		rank, m := rank, m
		eg.Go(func() error {
			outcomes[rank] = g.exchange(m, call.Seq, raw)
			return nil
		})
	}
	outcomes[0] = dispatch.OutcomeOf(g.headMux.Rank(), g.headMux.Serve(ctx, call))
	_ = eg.Wait()

	err = dispatch.Reconcile(call.Seq, tag, outcomes)
	if dispatch.IsFatal(err) {
		g.broadcast(schema.MsgAbort, err.Error())
	}
	return err
}

// exchange writes one call frame and reads its ack. Transport failures
// become participant_failed outcomes.
func (g *Group) exchange(m *member, seq uint64, raw []byte) dispatch.Outcome {
	failed := func(err error) dispatch.Outcome {
		log.Error().Err(err).Int("rank", m.rank).Uint64("seq", seq).Msg("head.dispatch participant failed")
		return dispatch.Outcome{Rank: m.rank, Code: faults.CodeParticipantFailed, Message: err.Error()}
	}
	if d := g.cfg.Session.WriteTimeout; d > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(d))
	} else {
		_ = m.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := m.conn.Write(raw); err != nil {
		return failed(fmt.Errorf("write call: %w", err))
	}
	if d := g.cfg.Session.AckTimeout; d > 0 {
		_ = m.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = m.conn.SetReadDeadline(time.Time{})
	}
	fr, err := session.ReadFrame(m.reader, frame.DefaultLimits())
	if err != nil {
		return failed(fmt.Errorf("read ack: %w", err))
	}
	if fr.Header.Seq != seq {
		return failed(fmt.Errorf("ack for seq %d, want %d", fr.Header.Seq, seq))
	}
	ack, err := session.DecodeAckFrame(fr)
	if err != nil {
		return failed(err)
	}
	if int(ack.Rank) != m.rank {
		return failed(fmt.Errorf("ack from rank %d on rank %d session", ack.Rank, m.rank))
	}
	return dispatch.Outcome{Rank: m.rank, Code: ack.Code, Message: ack.Message}
}

// broadcast sends a control frame to every member. Callers hold g.mu.
func (g *Group) broadcast(messageType uint32, reason string) {
	raw, err := session.EncodeControlFrame(g.seq, messageType, g.id, reason)
	if err != nil {
		log.Error().Err(err).Msg("head.group encode control frame")
		return
	}
	for _, m := range g.members {
		_ = m.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := m.conn.Write(raw); err != nil {
			log.Warn().Err(err).Int("rank", m.rank).Uint32("type", messageType).Msg("head.group control frame not delivered")
		}
	}
}

// Close sends shutdown to every participant and closes their sessions.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.broadcast(schema.MsgShutdown, "head closing")
	for rank, m := range g.members {
		_ = m.conn.Close()
		delete(g.members, rank)
	}
	for rank, m := range g.pending {
		_ = m.conn.Close()
		delete(g.pending, rank)
	}
	observability.SetGroupSessions(0)
	log.Info().Str("group", g.id).Msg("head.group closed")
	return nil
}
