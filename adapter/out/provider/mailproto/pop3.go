package mailproto

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
)

// POP3Config holds POP3 connection settings.
type POP3Config struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
}

// POP3Client implements the subset of POP3 the pop3 provider variant
// needs. Every operation opens a fresh authenticated session; POP3
// sessions hold a maildrop lock, so they are kept short.
type POP3Client struct {
	config POP3Config
}

// NewPOP3Client creates a POP3 client.
func NewPOP3Client(config POP3Config) *POP3Client {
	return &POP3Client{config: config}
}

// FetchHeaders fetches headers for the newest limit messages, newest
// first. Uses TOP, falling back to RETR where TOP is unsupported.
func (c *POP3Client) FetchHeaders(limit int) ([]*Message, int, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, 0, err
	}
	defer conn.quit()

	count, _, err := conn.stat()
	if err != nil {
		return nil, 0, fmt.Errorf("POP3 STAT failed: %w", err)
	}
	if count == 0 {
		return []*Message{}, 0, nil
	}

	if limit <= 0 {
		limit = 20
	}
	start := 1
	if count > limit {
		start = count - limit + 1
	}

	messages := make([]*Message, 0, count-start+1)
	for id := start; id <= count; id++ {
		entity, err := conn.top(id, 0)
		if err != nil {
			entity, err = conn.retr(id)
			if err != nil {
				continue
			}
		}
		messages = append(messages, EntityToMessage(entity, uint32(id)))
	}

	// Newest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, count, nil
}

// FetchMessage retrieves a full message by its 1-based sequence
// number. POP3 has no stable UIDs across sessions; the number is only
// valid within the current maildrop state.
func (c *POP3Client) FetchMessage(msgID uint32) (*Message, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.quit()

	entity, err := conn.retr(int(msgID))
	if err != nil {
		return nil, fmt.Errorf("POP3 RETR %d failed: %w", msgID, err)
	}

	msg := EntityToMessage(entity, msgID)
	ParseEntityBody(msg, entity)
	return msg, nil
}

// DeleteMessage deletes a message. POP3 deletions are only committed
// by a successful QUIT.
func (c *POP3Client) DeleteMessage(msgID uint32) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}

	if err := conn.dele(int(msgID)); err != nil {
		// Close without QUIT so partial state is not committed
		conn.conn.Close()
		return fmt.Errorf("POP3 DELE %d failed: %w", msgID, err)
	}

	return conn.quit()
}

// Verify opens and closes an authenticated session.
func (c *POP3Client) Verify() error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	return conn.quit()
}

func (c *POP3Client) connect() (*pop3Conn, error) {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	var netConn net.Conn
	var err error

	dialer := &net.Dialer{Timeout: 10 * time.Second}

	if c.config.SSL {
		netConn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName: c.config.Host,
		})
	} else {
		netConn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("POP3 connection to %s failed: %w", addr, err)
	}

	conn := &pop3Conn{
		conn: netConn,
		r:    bufio.NewReader(netConn),
		w:    bufio.NewWriter(netConn),
	}

	if _, err := conn.readOne(); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("POP3 greeting failed: %w", err)
	}

	if err := conn.auth(c.config.Username, c.config.Password); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("POP3 authentication failed: %w", err)
	}

	return conn, nil
}

// ---------- low-level POP3 protocol ----------

var (
	pop3LineBreak   = []byte("\r\n")
	pop3RespOK      = []byte("+OK")
	pop3RespOKInfo  = []byte("+OK ")
	pop3RespErr     = []byte("-ERR")
	pop3RespErrInfo = []byte("-ERR ")
)

type pop3Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func (c *pop3Conn) send(s string) error {
	if _, err := c.w.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// cmd sends a command and reads the response. If isMulti is true, it
// reads until the "." terminator.
func (c *pop3Conn) cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error) {
	cmdLine := cmd
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		cmdLine = cmd + " " + strings.Join(parts, " ")
	}

	if err := c.send(cmdLine); err != nil {
		return nil, err
	}

	b, err := c.readOne()
	if err != nil {
		return nil, err
	}

	if !isMulti {
		return bytes.NewBuffer(b), nil
	}
	return c.readAll()
}

func (c *pop3Conn) readOne() ([]byte, error) {
	b, _, err := c.r.ReadLine()
	if err != nil {
		return nil, err
	}
	return parsePOP3Resp(b)
}

func (c *pop3Conn) readAll() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for {
		b, _, err := c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(b, []byte(".")) {
			break
		}
		// Byte-stuffing: strip the extra leading dot
		if bytes.HasPrefix(b, []byte("..")) {
			b = b[1:]
		}
		buf.Write(b)
		buf.Write(pop3LineBreak)
	}
	return buf, nil
}

func (c *pop3Conn) auth(user, password string) error {
	if _, err := c.cmd("USER", false, user); err != nil {
		return err
	}
	if _, err := c.cmd("PASS", false, password); err != nil {
		return err
	}
	_, err := c.cmd("NOOP", false)
	return err
}

func (c *pop3Conn) stat() (count, size int, err error) {
	b, err := c.cmd("STAT", false)
	if err != nil {
		return 0, 0, err
	}
	f := bytes.Fields(b.Bytes())
	if len(f) < 2 {
		return 0, 0, nil
	}
	count, _ = strconv.Atoi(string(f[0]))
	size, _ = strconv.Atoi(string(f[1]))
	return count, size, nil
}

func (c *pop3Conn) retr(msgID int) (*gomessage.Entity, error) {
	b, err := c.cmd("RETR", true, msgID)
	if err != nil {
		return nil, err
	}
	m, err := gomessage.Read(b)
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, err
	}
	return m, nil
}

func (c *pop3Conn) top(msgID, numLines int) (*gomessage.Entity, error) {
	b, err := c.cmd("TOP", true, msgID, numLines)
	if err != nil {
		return nil, err
	}
	m, err := gomessage.Read(b)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *pop3Conn) dele(msgID int) error {
	_, err := c.cmd("DELE", false, msgID)
	return err
}

func (c *pop3Conn) quit() error {
	c.cmd("QUIT", false)
	return c.conn.Close()
}

func parsePOP3Resp(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if bytes.Equal(b, pop3RespOK) {
		return nil, nil
	}
	if bytes.HasPrefix(b, pop3RespOKInfo) {
		return bytes.TrimPrefix(b, pop3RespOKInfo), nil
	}
	if bytes.Equal(b, pop3RespErr) {
		return nil, errors.New("POP3: unknown error")
	}
	if bytes.HasPrefix(b, pop3RespErrInfo) {
		return nil, fmt.Errorf("POP3: %s", bytes.TrimPrefix(b, pop3RespErrInfo))
	}
	return nil, fmt.Errorf("POP3: unexpected response: %s", string(b))
}
