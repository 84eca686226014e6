package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func (c Config) validateMode() (SecurityMode, error) {
	mode := NormalizeSecurityMode(c.SecurityMode)
	if mode != SecurityModeDevelopment && mode != SecurityModeProduction {
		return mode, fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	switch {
	case mode == SecurityModeProduction && !c.TLS.Enabled:
		return mode, ErrTLSRequired
	case mode == SecurityModeProduction && !c.TLS.Mutual:
		return mode, ErrMTLSRequired
	case c.TLS.Mutual && !c.TLS.Enabled:
		return mode, ErrTLSRequired
	}
	return mode, nil
}

// fileReq pairs a configured path with the error returned when it is blank.
type fileReq struct {
	path    string
	missing error
}

func requireFiles(reqs ...fileReq) error {
	for _, r := range reqs {
		if strings.TrimSpace(r.path) == "" {
			return r.missing
		}
	}
	return nil
}

func (t TLSConfig) keyPair() []fileReq {
	return []fileReq{{t.CertFile, ErrTLSCertFileRequired}, {t.KeyFile, ErrTLSKeyFileRequired}}
}

// ValidateClientTransport checks the participant side of the policy.
func (c Config) ValidateClientTransport() error {
	mode, err := c.validateMode()
	if err != nil {
		return err
	}
	if !c.TLS.Enabled {
		return nil
	}
	if c.TLS.InsecureSkipVerify {
		if mode == SecurityModeProduction {
			return ErrTLSInsecureSkipNotAllow
		}
	} else if err := requireFiles(fileReq{c.TLS.CAFile, ErrTLSCAFileRequired}); err != nil {
		return err
	}
	if c.TLS.Mutual {
		return requireFiles(c.TLS.keyPair()...)
	}
	return nil
}

// ValidateServerTransport checks the head side of the policy.
func (c Config) ValidateServerTransport() error {
	if _, err := c.validateMode(); err != nil {
		return err
	}
	if !c.TLS.Enabled {
		return nil
	}
	reqs := c.TLS.keyPair()
	if c.TLS.Mutual {
		reqs = append(reqs, fileReq{c.TLS.CAFile, ErrTLSCAFileRequired})
	}
	return requireFiles(reqs...)
}

// Listen opens the head listener, plain TCP or TLS per policy.
func Listen(c Config, addr string) (net.Listener, error) {
	if err := c.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !c.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := c.serverTLS()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

func (c Config) serverTLS() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if !c.TLS.Mutual {
		return out, nil
	}
	if out.ClientCAs, err = loadPool(c.TLS.CAFile); err != nil {
		return nil, err
	}
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

func (c Config) clientTLS(addr string) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(c.TLS.ServerName),
	}
	if out.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		out.ServerName = host
	}
	if ca := strings.TrimSpace(c.TLS.CAFile); ca != "" {
		pool, err := loadPool(ca)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	if c.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// Dial connects a participant to the head and completes the TLS handshake
// before returning.
func Dial(ctx context.Context, c Config, addr string) (net.Conn, error) {
	if err := c.ValidateClientTransport(); err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if c.TLS.Enabled {
		var err error
		if tlsCfg, err = c.clientTLS(addr); err != nil {
			return nil, err
		}
	}
	dialer := net.Dialer{Timeout: c.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil || tlsCfg == nil {
		return raw, err
	}

	conn := tls.Client(raw, tlsCfg)
	hctx := ctx
	if c.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// PeerIdentity returns the verified client certificate name of a TLS
// session, or "" for plain TCP.
func PeerIdentity(conn net.Conn) string {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	cert := state.PeerCertificates[0]
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.DNSNames) > 0 {
		return strings.TrimSpace(cert.DNSNames[0])
	}
	return ""
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("session: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
