package mcpquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

var errNotConnected = errors.New("mcpquic: not connected")

// Client is an MCP client session over QUIC.
type Client struct {
	addr    string
	tlsCfg  *tls.Config
	conn    *quic.Conn
	session *mcp.ClientSession
}

// NewClient returns a client for addr. A nil tlsCfg verifies the server
// certificate.
func NewClient(addr string, tlsCfg *tls.Config) *Client {
	if tlsCfg == nil {
		tlsCfg = ClientTLS(false)
	}
	return &Client{addr: addr, tlsCfg: tlsCfg}
}

// Connect dials, sends the preamble and runs the MCP handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := quic.DialAddr(ctx, c.addr, c.tlsCfg, QUICConfig())
	if err != nil {
		return fmt.Errorf("mcpquic: dial %s: %w", c.addr, err)
	}
	if p := conn.ConnectionState().TLS.NegotiatedProtocol; p != ALPN {
		_ = conn.CloseWithError(CodeUnsupportedALPN, "bad ALPN")
		return fmt.Errorf("%w: %q", ErrUnsupportedALPN, p)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(CodeProtocol, "open stream")
		return fmt.Errorf("mcpquic: open stream: %w", err)
	}
	if err := WritePreamble(stream); err != nil {
		_ = conn.CloseWithError(CodeProtocol, "preamble")
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "phrasemark-quic", Version: "1.0.0"}, nil)
	session, err := client.Connect(hctx, &mcp.IOTransport{
		Reader: io.NopCloser(stream),
		Writer: streamWriter{stream},
	}, nil)
	if err != nil {
		_ = conn.CloseWithError(CodeProtocol, "handshake")
		return fmt.Errorf("mcpquic: handshake: %w", err)
	}
	c.conn, c.session = conn, session
	return nil
}

// ListTools lists the server's tools.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	if c.session == nil {
		return nil, errNotConnected
	}
	return c.session.ListTools(ctx, nil)
}

// CallTool calls a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.session == nil {
		return nil, errNotConnected
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

// Close ends the session and the connection.
func (c *Client) Close() error {
	if c.session != nil {
		_ = c.session.Close()
	}
	if c.conn != nil {
		return c.conn.CloseWithError(CodeNoError, "")
	}
	return nil
}
