// Package mailbox implements the IMAP side of the forwarding pipeline:
// a narrow connect/list/retrieve/mark/disconnect surface over a single
// mailbox session.
package mailbox

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Client holds IMAP connection settings and, between Connect and
// Disconnect, the live session. A session is never reused across
// polling cycles.
type Client struct {
	host     string
	port     int
	username string
	password string
	folder   string
	logger   *slog.Logger

	conn *imapclient.Client
}

// NewClient creates an IMAP client configuration. No connection is
// made until Connect.
func NewClient(
	host string, port int,
	username, password, folder string,
	logger *slog.Logger,
) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		folder:   folder,
		logger:   logger,
	}
}

// Connect dials the server, authenticates, and selects the configured
// folder. Port 993 uses implicit TLS; any other port uses STARTTLS.
func (c *Client) Connect() error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var (
		conn *imapclient.Client
		err  error
	)
	if c.port == 993 {
		conn, err = imapclient.DialTLS(addr, nil)
	} else {
		conn, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := conn.Login(c.username, c.password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("authenticating %s: %w", c.username, err)
	}

	if _, err := conn.Select(c.folder, nil).Wait(); err != nil {
		_ = conn.Logout().Wait()
		_ = conn.Close()
		return fmt.Errorf("selecting %s: %w", c.folder, err)
	}

	c.conn = conn
	c.logger.Info("connected to IMAP server",
		"host", c.host, "port", c.port, "folder", c.folder)
	return nil
}

// ListMessages returns the sequence numbers of every message in the
// selected folder, in mailbox order. Sequence numbers are only valid
// for the current session.
func (c *Client) ListMessages() ([]uint32, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	data, err := c.conn.Select(c.folder, &imap.SelectOptions{ReadOnly: false}).Wait()
	if err != nil {
		return nil, fmt.Errorf("re-selecting %s: %w", c.folder, err)
	}

	seqs := make([]uint32, 0, data.NumMessages)
	for i := uint32(1); i <= data.NumMessages; i++ {
		seqs = append(seqs, i)
	}
	return seqs, nil
}

// Retrieve fetches the full RFC 5322 bytes of one message without
// setting the \Seen flag.
func (c *Client) Retrieve(seqNum uint32) ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := c.conn.Fetch(imap.SeqSetNum(seqNum), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", seqNum)
	}

	var raw []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if bs, ok := item.(imapclient.FetchItemDataBodySection); ok {
			data, err := io.ReadAll(bs.Literal)
			if err != nil {
				return nil, fmt.Errorf("reading message %d body: %w", seqNum, err)
			}
			raw = data
			break
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching message %d: %w", seqNum, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d returned no body section", seqNum)
	}
	return raw, nil
}

// MarkForDeletion sets the \Deleted flag on a message. The deletion is
// advisory until Disconnect expunges the folder.
func (c *Client) MarkForDeletion(seqNum uint32) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	storeCmd := c.conn.Store(imap.SeqSetNum(seqNum), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking message %d deleted: %w", seqNum, err)
	}

	c.logger.Debug("marked message for deletion", "seq", seqNum)
	return nil
}

// Disconnect expunges flagged messages, logs out, and drops the
// session. It is best-effort cleanup: failures are logged, never
// returned.
func (c *Client) Disconnect() {
	if c.conn == nil {
		return
	}

	if err := c.conn.Expunge().Close(); err != nil {
		c.logger.Warn("expunge failed", "error", err)
	}
	if err := c.conn.Logout().Wait(); err != nil {
		c.logger.Warn("IMAP logout failed", "error", err)
	}
	_ = c.conn.Close()
	c.conn = nil

	c.logger.Info("disconnected from IMAP server", "host", c.host)
}
