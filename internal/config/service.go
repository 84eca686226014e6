package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/spectre/internal/protocol/session"
)

// HeadConfig configures the head process.
type HeadConfig struct {
	ListenAddr         string
	Size               int
	AdminAddr          string
	CORSOrigins        []string
	RequireClassParity bool
	ScriptPath         string
	JoinToken          string
	JoinTimeout        time.Duration
	LogLimit           int
	Session            session.Config
}

// ParticipantConfig configures one non-head participant.
type ParticipantConfig struct {
	ID                 string
	Rank               int
	Size               int
	HeadAddr           string
	JoinToken          string
	MaxConnectAttempts int
	AdminAddr          string
	CORSOrigins        []string
	LogLimit           int
	Session            session.Config
}

func DefaultHeadConfig() HeadConfig {
	return HeadConfig{
		ListenAddr:         "127.0.0.1:7400",
		Size:               2,
		RequireClassParity: true,
		JoinTimeout:        30 * time.Second,
		LogLimit:           1024,
		Session:            session.DefaultConfig(),
	}
}

func DefaultParticipantConfig() ParticipantConfig {
	return ParticipantConfig{
		ID:       "participant",
		Rank:     1,
		Size:     2,
		HeadAddr: "127.0.0.1:7400",
		LogLimit: 1024,
		Session:  session.DefaultConfig(),
	}
}

func (c HeadConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("head config missing listen_addr")
	}
	if c.Size < 1 {
		return fmt.Errorf("head config size must be >= 1, got %d", c.Size)
	}
	return c.Session.ValidateServerTransport()
}

func (c ParticipantConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("participant config missing id")
	}
	if c.Rank < 1 {
		return fmt.Errorf("participant rank must be >= 1, got %d", c.Rank)
	}
	if c.Size <= c.Rank {
		return fmt.Errorf("participant rank %d outside group size %d", c.Rank, c.Size)
	}
	if strings.TrimSpace(c.HeadAddr) == "" {
		return fmt.Errorf("participant config missing head_addr")
	}
	return c.Session.ValidateClientTransport()
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type sessionFile struct {
	SecurityMode     string      `toml:"security_mode"`
	ConnectTimeout   string      `toml:"connect_timeout"`
	HandshakeTimeout string      `toml:"handshake_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	AckTimeout       string      `toml:"ack_timeout"`
	TLS              tlsFile     `toml:"tls"`
	Backoff          backoffFile `toml:"backoff"`
}

type headFile struct {
	ListenAddr         string      `toml:"listen_addr"`
	Size               int         `toml:"size"`
	AdminAddr          string      `toml:"admin_addr"`
	CORSOrigins        []string    `toml:"cors_origins"`
	RequireClassParity bool        `toml:"require_class_parity"`
	Script             string      `toml:"script"`
	JoinToken          string      `toml:"join_token"`
	JoinTimeout        string      `toml:"join_timeout"`
	LogLimit           int         `toml:"log_limit"`
	Session            sessionFile `toml:"session"`
}

type participantFile struct {
	ID                 string      `toml:"id"`
	Rank               int         `toml:"rank"`
	Size               int         `toml:"size"`
	HeadAddr           string      `toml:"head_addr"`
	JoinToken          string      `toml:"join_token"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	AdminAddr          string      `toml:"admin_addr"`
	CORSOrigins        []string    `toml:"cors_origins"`
	LogLimit           int         `toml:"log_limit"`
	Session            sessionFile `toml:"session"`
}

func LoadHeadConfig(path string) (HeadConfig, error) {
	cfg := DefaultHeadConfig()

	var raw headFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return HeadConfig{}, fmt.Errorf("load head config: %w", err)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("size") {
		cfg.Size = raw.Size
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("require_class_parity") {
		cfg.RequireClassParity = raw.RequireClassParity
	}
	if meta.IsDefined("script") {
		cfg.ScriptPath = strings.TrimSpace(raw.Script)
	}
	if meta.IsDefined("join_token") {
		cfg.JoinToken = strings.TrimSpace(raw.JoinToken)
	}
	if meta.IsDefined("join_timeout") {
		if cfg.JoinTimeout, err = parseDuration("join_timeout", raw.JoinTimeout); err != nil {
			return HeadConfig{}, err
		}
	}
	if meta.IsDefined("log_limit") {
		cfg.LogLimit = raw.LogLimit
	}
	if err := applySession(meta, &cfg.Session, raw.Session); err != nil {
		return HeadConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return HeadConfig{}, err
	}
	return cfg, nil
}

func LoadParticipantConfig(path string) (ParticipantConfig, error) {
	cfg := DefaultParticipantConfig()

	var raw participantFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ParticipantConfig{}, fmt.Errorf("load participant config: %w", err)
	}
	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("rank") {
		cfg.Rank = raw.Rank
	}
	if meta.IsDefined("size") {
		cfg.Size = raw.Size
	}
	if meta.IsDefined("head_addr") {
		cfg.HeadAddr = strings.TrimSpace(raw.HeadAddr)
	}
	if meta.IsDefined("join_token") {
		cfg.JoinToken = strings.TrimSpace(raw.JoinToken)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("log_limit") {
		cfg.LogLimit = raw.LogLimit
	}
	if err := applySession(meta, &cfg.Session, raw.Session); err != nil {
		return ParticipantConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ParticipantConfig{}, err
	}
	return cfg, nil
}

func applySession(meta toml.MetaData, cfg *session.Config, raw sessionFile) error {
	var err error
	if meta.IsDefined("session", "security_mode") {
		cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"ack_timeout", raw.AckTimeout, &cfg.AckTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		if *d.dst, err = parseDuration("session."+d.key, d.val); err != nil {
			return err
		}
	}

	if meta.IsDefined("session", "tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("session", "tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("session", "tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("session", "tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("session", "tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("session", "tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("session", "tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if meta.IsDefined("session", "backoff", "initial_delay") {
		if cfg.Backoff.InitialDelay, err = parseDuration("session.backoff.initial_delay", raw.Backoff.InitialDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("session", "backoff", "max_delay") {
		if cfg.Backoff.MaxDelay, err = parseDuration("session.backoff.max_delay", raw.Backoff.MaxDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
