package participant

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/frame"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/danmuck/spectre/internal/testutil/testlog"
	"github.com/danmuck/spectre/internal/variant"
)

const testGroup = "group-under-test"

func newPipeService(t *testing.T) (*Service, *Conn, net.Conn, *bufio.Reader) {
	t.Helper()
	cfg := config.DefaultParticipantConfig()
	cfg.Rank = 1
	cfg.Size = 2
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	conn := &Conn{Conn: local, Reader: bufio.NewReader(local), GroupID: testGroup, Size: 2}
	return svc, conn, remote, bufio.NewReader(remote)
}

func serveAsync(ctx context.Context, svc *Service, conn *Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, conn) }()
	return done
}

func sendCall(t *testing.T, w net.Conn, seq uint64, messageType uint32, groupID string, payload []byte) {
	t.Helper()
	raw, err := session.EncodeCallFrame(seq, messageType, groupID, payload)
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("write call: %v", err)
	}
}

func readAck(t *testing.T, r *bufio.Reader) (uint64, session.Ack) {
	t.Helper()
	fr, err := session.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ack, err := session.DecodeAckFrame(fr)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return fr.Header.Seq, ack
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return")
		return nil
	}
}

func TestServeAppliesCallsAndAcks(t *testing.T) {
	testlog.Start(t)
	svc, conn, remote, reader := newPipeService(t)
	done := serveAsync(context.Background(), svc, conn)

	payload, err := session.EncodeMakeHandle(session.MakeHandle{ID: 1, Class: "Wall"})
	if err != nil {
		t.Fatalf("encode make: %v", err)
	}
	sendCall(t, remote, 1, schema.MsgMakeHandle, testGroup, payload)
	seq, ack := readAck(t, reader)
	if seq != 1 || !ack.OK() || ack.Rank != 1 {
		t.Fatalf("unexpected ack seq=%d %+v", seq, ack)
	}

	payload, err = session.EncodeCallMethod(session.CallMethod{ID: 1, Name: "missing"})
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	sendCall(t, remote, 2, schema.MsgCallMethod, testGroup, payload)
	seq, ack = readAck(t, reader)
	if seq != 2 || ack.Code != faults.CodeUnknownMethod {
		t.Fatalf("expected unknown_method ack, got seq=%d %+v", seq, ack)
	}

	if got := svc.Broker().Table().IDs(); len(got) != 1 || got[0] != variant.ObjectID(1) {
		t.Fatalf("unexpected table ids: %v", got)
	}
	if svc.Log().Total() != 2 {
		t.Fatalf("expected 2 logged calls, got %d", svc.Log().Total())
	}

	shutdown, err := session.EncodeControlFrame(2, schema.MsgShutdown, testGroup, "done")
	if err != nil {
		t.Fatalf("encode shutdown: %v", err)
	}
	if _, err := remote.Write(shutdown); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("shutdown should return nil, got %v", err)
	}
}

func TestServeAbortReturnsErrAborted(t *testing.T) {
	testlog.Start(t)
	svc, conn, remote, _ := newPipeService(t)
	done := serveAsync(context.Background(), svc, conn)

	raw, err := session.EncodeControlFrame(0, schema.MsgAbort, testGroup, "outcomes differ")
	if err != nil {
		t.Fatalf("encode abort: %v", err)
	}
	if _, err := remote.Write(raw); err != nil {
		t.Fatalf("write abort: %v", err)
	}
	if err := waitDone(t, done); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestServeStopsOnSequenceGap(t *testing.T) {
	testlog.Start(t)
	svc, conn, remote, reader := newPipeService(t)
	done := serveAsync(context.Background(), svc, conn)

	payload, err := session.EncodeMakeHandle(session.MakeHandle{ID: 1, Class: "Wall"})
	if err != nil {
		t.Fatalf("encode make: %v", err)
	}
	sendCall(t, remote, 1, schema.MsgMakeHandle, testGroup, payload)
	if seq, ack := readAck(t, reader); seq != 1 || !ack.OK() {
		t.Fatalf("unexpected ack seq=%d %+v", seq, ack)
	}

	payload, err = session.EncodeDeleteHandle(session.DeleteHandle{ID: 1})
	if err != nil {
		t.Fatalf("encode delete: %v", err)
	}
	sendCall(t, remote, 3, schema.MsgDeleteHandle, testGroup, payload)
	if err := waitDone(t, done); !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if svc.Log().Total() != 1 {
		t.Fatalf("call after a gap must not be served, log has %d", svc.Log().Total())
	}
	if !svc.Broker().Table().Contains(1) {
		t.Fatalf("object 1 deleted by an out-of-step call")
	}
}

func TestServeRejectsForeignGroup(t *testing.T) {
	testlog.Start(t)
	svc, conn, remote, _ := newPipeService(t)
	done := serveAsync(context.Background(), svc, conn)

	payload, err := session.EncodeDeleteHandle(session.DeleteHandle{ID: 1})
	if err != nil {
		t.Fatalf("encode delete: %v", err)
	}
	sendCall(t, remote, 1, schema.MsgDeleteHandle, "other-group", payload)
	if err := waitDone(t, done); !errors.Is(err, ErrWrongGroup) {
		t.Fatalf("expected ErrWrongGroup, got %v", err)
	}
	if svc.Log().Total() != 0 {
		t.Fatalf("foreign frame must not be served")
	}
}

func TestServeHeadLossAndCancel(t *testing.T) {
	testlog.Start(t)
	svc, conn, remote, _ := newPipeService(t)
	done := serveAsync(context.Background(), svc, conn)
	_ = remote.Close()
	if err := waitDone(t, done); !errors.Is(err, ErrHeadLost) {
		t.Fatalf("expected ErrHeadLost, got %v", err)
	}

	svc, conn, _, _ = newPipeService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done = serveAsync(ctx, svc, conn)
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("cancel should return nil, got %v", err)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := session.DefaultConfig()
	cfg.Backoff.InitialDelay = time.Millisecond
	cfg.Backoff.MaxDelay = 2 * time.Millisecond
	client := NewClient(ClientConfig{
		Address:            addr,
		ParticipantID:      "p1",
		Rank:               1,
		Classes:            []string{},
		Session:            cfg,
		MaxConnectAttempts: 3,
	})
	if _, err := client.ConnectAndRegister(context.Background(), ""); err == nil {
		t.Fatalf("expected dial failure")
	}
}
