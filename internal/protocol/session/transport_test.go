package session

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/danmuck/spectre/internal/protocol/frame"
	"github.com/danmuck/spectre/internal/testutil/testlog"
	"github.com/danmuck/spectre/internal/testutil/tlstest"
)

func decodeOne(raw []byte) (frame.Frame, error) {
	return ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
}

func TestListenDialMutualTLS(t *testing.T) {
	testlog.Start(t)
	pki := tlstest.NewPKI(t)
	server := pki.Server(t, "head")
	client := pki.Client(t, "participant-1")

	serverCfg := DefaultConfig()
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: pki.CAFile()}
	ln, err := Listen(serverCfg, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	identity := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			identity <- ""
			return
		}
		defer conn.Close()
		reg, err := ReadRegistration(bufio.NewReader(conn))
		if err != nil {
			identity <- ""
			return
		}
		identity <- PeerIdentity(conn) + "/" + reg.ParticipantID
	}()

	clientCfg := DefaultConfig()
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: client.CertFile, KeyFile: client.KeyFile, CAFile: pki.CAFile()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, clientCfg, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := WriteRegistration(conn, Registration{ParticipantID: "p-1", Rank: 1, Classes: []string{}}); err != nil {
		t.Fatalf("write registration: %v", err)
	}

	select {
	case got := <-identity:
		if got != "participant-1/p-1" {
			t.Fatalf("unexpected peer identity: %q", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for registration")
	}
}

func TestDialPlainTCP(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen(DefaultConfig(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()
	conn, err := Dial(context.Background(), DefaultConfig(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if PeerIdentity(conn) != "" {
		t.Fatalf("expected empty identity for plain tcp")
	}
}
