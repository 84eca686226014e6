package participant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrRegistrationRejected = errors.New("participant: registration rejected")
	ErrWrongGroup           = errors.New("participant: frame from another group")
	ErrAborted              = errors.New("participant: group aborted")
	ErrHeadLost             = errors.New("participant: head session lost")
	ErrSequenceGap          = errors.New("participant: missed collective call")
)

type ClientConfig struct {
	Address            string
	ParticipantID      string
	Rank               int
	Token              string
	Classes            []string
	Session            session.Config
	MaxConnectAttempts int
}

// Client dials the head and registers this rank.
type Client struct {
	cfg ClientConfig
	rng *rand.Rand
}

// Conn is a registered session.
type Conn struct {
	net.Conn
	Reader  *bufio.Reader
	GroupID string
	Size    int
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// ConnectAndRegister dials with backoff until the head accepts this rank.
// A rejection is final; transport errors are retried up to
// MaxConnectAttempts (zero retries forever).
func (c *Client) ConnectAndRegister(ctx context.Context, groupID string) (*Conn, error) {
	var attempt int
	for {
		attempt++
		conn, err := session.Dial(ctx, c.cfg.Session, c.cfg.Address)
		if err == nil {
			var sc *Conn
			sc, err = c.register(conn, groupID)
			if err == nil {
				return sc, nil
			}
			_ = conn.Close()
			if errors.Is(err, ErrRegistrationRejected) {
				return nil, err
			}
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.cfg.Address).Msg("participant.connect failed")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.cfg.Session.Backoff.Delay(attempt, c.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) register(conn net.Conn, groupID string) (*Conn, error) {
	if d := c.cfg.Session.HandshakeTimeout; d > 0 {
		_ = conn.SetDeadline(time.Now().Add(d))
	}
	reader := bufio.NewReader(conn)
	reg := session.Registration{
		ParticipantID: c.cfg.ParticipantID,
		Rank:          uint32(c.cfg.Rank),
		Classes:       append([]string{}, c.cfg.Classes...),
		GroupID:       groupID,
		Token:         c.cfg.Token,
	}
	if err := session.WriteRegistration(conn, reg); err != nil {
		return nil, err
	}
	ack, err := session.ReadRegistrationAck(reader)
	if err != nil {
		return nil, err
	}
	if !ack.Accepted() {
		return nil, fmt.Errorf("%w: code=%d %s", ErrRegistrationRejected, ack.Code, ack.Message)
	}
	if groupID != "" && ack.GroupID != groupID {
		return nil, fmt.Errorf("%w: joined %s, want %s", ErrRegistrationRejected, ack.GroupID, groupID)
	}
	_ = conn.SetDeadline(time.Time{})
	log.Info().
		Str("group", ack.GroupID).
		Int("rank", c.cfg.Rank).
		Uint32("size", ack.Size).
		Msg("participant.register accepted")
	return &Conn{Conn: conn, Reader: reader, GroupID: ack.GroupID, Size: int(ack.Size)}, nil
}
