// Package mcpquic carries the phrasemark MCP tools over QUIC. A client
// opens one bidirectional stream per session, writes a four byte preamble,
// then speaks newline-delimited JSON-RPC.
package mcpquic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPN is negotiated during the TLS handshake.
	ALPN = "phrasemark-mcp/1"
	// Preamble opens every session stream.
	Preamble = "PMK1"

	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Application error codes sent when a connection or stream is refused.
const (
	CodeNoError         quic.ApplicationErrorCode = 0x0
	CodeUnsupportedALPN quic.ApplicationErrorCode = 0x1
	CodeProtocol        quic.ApplicationErrorCode = 0x2

	StreamCodeProtocol quic.StreamErrorCode = 0x1
)

var (
	ErrBadPreamble     = errors.New("mcpquic: bad preamble")
	ErrUnsupportedALPN = errors.New("mcpquic: unsupported ALPN")
)

// QUICConfig is shared by listener and client. 0-RTT stays off: tool calls
// mutate pages and must not be replayable.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
		Allow0RTT:       false,
	}
}

// WritePreamble writes the session preamble to w.
func WritePreamble(w io.Writer) error {
	if _, err := io.WriteString(w, Preamble); err != nil {
		return fmt.Errorf("mcpquic: write preamble: %w", err)
	}
	return nil
}

// ReadPreamble consumes and checks the session preamble.
func ReadPreamble(r io.Reader) error {
	buf := make([]byte, len(Preamble))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPreamble, err)
	}
	if string(buf) != Preamble {
		return fmt.Errorf("%w: got %q", ErrBadPreamble, buf)
	}
	return nil
}

// ServerTLS loads a certificate pair. Both empty generates a self-signed
// certificate for localhost.
func ServerTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return SelfSignedTLS()
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: load key pair: %w", err)
	}
	return serverTLS(cert), nil
}

// SelfSignedTLS returns a server config with a fresh ECDSA certificate
// valid for localhost for one year.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("mcpquic: serial: %w", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "phrasemark"},
		DNSNames:     []string{"localhost"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: create certificate: %w", err)
	}
	return serverTLS(tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}), nil
}

func serverTLS(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLS returns a client config. insecure skips certificate
// verification, for self-signed listeners.
func ClientTLS(insecure bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: insecure,
	}
}
