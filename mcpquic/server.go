package mcpquic

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/phrasemark/idgen"
	"github.com/hazyhaar/phrasemark/kit"
)

var sessionID = idgen.Prefixed("qs_", idgen.Default)

// Listener accepts QUIC connections and serves each one as a session of
// the shared MCP server.
type Listener struct {
	ln     *quic.Listener
	srv    *mcp.Server
	logger *slog.Logger
}

// Listen binds addr. tlsCfg must offer ALPN.
func Listen(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := quic.ListenAddr(addr, tlsCfg, QUICConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("mcpquic: listening", "addr", ln.Addr().String())
	return &Listener{ln: ln, srv: srv, logger: logger}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			l.logger.Warn("mcpquic: accept failed", "error", err)
			continue
		}
		if p := conn.ConnectionState().TLS.NegotiatedProtocol; p != ALPN {
			_ = conn.CloseWithError(CodeUnsupportedALPN, "unsupported ALPN: "+p)
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

// Close stops accepting connections.
func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("mcpquic: accept stream failed", "remote", remote, "error", err)
		_ = conn.CloseWithError(CodeProtocol, "no stream")
		return
	}
	if err := ReadPreamble(stream); err != nil {
		l.logger.Warn("mcpquic: rejected session", "remote", remote, "error", err)
		stream.CancelRead(StreamCodeProtocol)
		stream.CancelWrite(StreamCodeProtocol)
		_ = conn.CloseWithError(CodeProtocol, "bad preamble")
		return
	}

	id := sessionID()
	ctx = kit.WithTransport(ctx, "mcp_quic")
	ss, err := l.srv.Connect(ctx, &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		l.logger.Error("mcpquic: connect failed", "session", id, "error", err)
		_ = stream.Close()
		return
	}
	l.logger.Info("mcpquic: session started", "session", id, "remote", remote)
	if err := ss.Wait(); err != nil {
		l.logger.Debug("mcpquic: session error", "session", id, "error", err)
	}
	_ = conn.CloseWithError(CodeNoError, "")
	l.logger.Info("mcpquic: session ended", "session", id)
}

// streamTransport serves one MCP session over a QUIC stream.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := (&mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriter{t.stream},
	}).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &namedConn{Connection: conn, id: t.id}, nil
}

type namedConn struct {
	mcp.Connection
	id string
}

func (c *namedConn) SessionID() string { return c.id }

type streamWriter struct{ s *quic.Stream }

func (w streamWriter) Write(p []byte) (int, error) { return w.s.Write(p) }
func (w streamWriter) Close() error                { return w.s.Close() }
