package mailproto

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type pop3MockMsg struct {
	ID   int
	Data string
}

type pop3MockOpts struct {
	Messages   []pop3MockMsg
	RejectAuth bool
}

type pop3MockState struct {
	mu        sync.Mutex
	committed []int
}

func (s *pop3MockState) committedDeletes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.committed...)
}

// newTestPOP3Server runs a scripted POP3 server on a loopback port.
func newTestPOP3Server(t *testing.T, opts pop3MockOpts) (string, *pop3MockState) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	state := &pop3MockState{}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handlePOP3MockConn(conn, opts, state)
		}
	}()

	return ln.Addr().String(), state
}

func handlePOP3MockConn(conn net.Conn, opts pop3MockOpts, state *pop3MockState) {
	defer conn.Close()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	writeLine := func(s string) {
		w.WriteString(s + "\r\n")
		w.Flush()
	}

	findMsg := func(id int) *pop3MockMsg {
		for i := range opts.Messages {
			if opts.Messages[i].ID == id {
				return &opts.Messages[i]
			}
		}
		return nil
	}

	writeLine("+OK mock POP3 server ready")

	var pendingDeletes []int

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToUpper(fields[0])

		switch cmd {
		case "USER":
			writeLine("+OK")
		case "PASS":
			if opts.RejectAuth {
				writeLine("-ERR invalid credentials")
				return
			}
			writeLine("+OK logged in")
		case "NOOP":
			writeLine("+OK")
		case "STAT":
			size := 0
			for _, m := range opts.Messages {
				size += len(m.Data)
			}
			writeLine(fmt.Sprintf("+OK %d %d", len(opts.Messages), size))
		case "TOP":
			if len(fields) < 3 {
				writeLine("-ERR syntax")
				continue
			}
			id, _ := strconv.Atoi(fields[1])
			msg := findMsg(id)
			if msg == nil {
				writeLine("-ERR no such message")
				continue
			}
			headers := msg.Data
			if idx := strings.Index(msg.Data, "\r\n\r\n"); idx >= 0 {
				headers = msg.Data[:idx+2]
			}
			writeLine("+OK")
			w.WriteString(headers)
			writeLine("")
			writeLine(".")
		case "RETR":
			if len(fields) < 2 {
				writeLine("-ERR syntax")
				continue
			}
			id, _ := strconv.Atoi(fields[1])
			msg := findMsg(id)
			if msg == nil {
				writeLine("-ERR no such message")
				continue
			}
			writeLine(fmt.Sprintf("+OK %d octets", len(msg.Data)))
			w.WriteString(msg.Data)
			writeLine("")
			writeLine(".")
		case "DELE":
			if len(fields) < 2 {
				writeLine("-ERR syntax")
				continue
			}
			id, _ := strconv.Atoi(fields[1])
			if findMsg(id) == nil {
				writeLine("-ERR no such message")
				continue
			}
			pendingDeletes = append(pendingDeletes, id)
			writeLine("+OK marked for deletion")
		case "QUIT":
			state.mu.Lock()
			state.committed = append(state.committed, pendingDeletes...)
			state.mu.Unlock()
			writeLine("+OK bye")
			return
		default:
			writeLine("-ERR unknown command")
		}
	}
}

func popTestMail(n int) string {
	return fmt.Sprintf("From: sender@example.com\r\n"+
		"To: rcpt@example.com\r\n"+
		"Subject: msg %d\r\n"+
		"Message-Id: <m%d@example.com>\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"body %d", n, n, n)
}

func newTestPOP3Client(t *testing.T, addr string) *POP3Client {
	t.Helper()
	host, port := splitHostPort(t, addr)
	return NewPOP3Client(POP3Config{
		Host:     host,
		Port:     port,
		Username: "testuser",
		Password: "testpass",
	})
}

func TestPOP3FetchHeaders(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages: []pop3MockMsg{
			{ID: 1, Data: popTestMail(1)},
			{ID: 2, Data: popTestMail(2)},
			{ID: 3, Data: popTestMail(3)},
		},
	})
	client := newTestPOP3Client(t, addr)

	msgs, count, err := client.FetchHeaders(2)
	if err != nil {
		t.Fatalf("FetchHeaders: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	// Newest first: message 3 then message 2.
	if msgs[0].Subject != "msg 3" || msgs[0].UID != 3 {
		t.Errorf("msgs[0] = %q uid %d, want msg 3", msgs[0].Subject, msgs[0].UID)
	}
	if msgs[1].Subject != "msg 2" || msgs[1].UID != 2 {
		t.Errorf("msgs[1] = %q uid %d, want msg 2", msgs[1].Subject, msgs[1].UID)
	}
}

func TestPOP3FetchHeadersEmpty(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{})
	client := newTestPOP3Client(t, addr)

	msgs, count, err := client.FetchHeaders(10)
	if err != nil {
		t.Fatalf("FetchHeaders: %v", err)
	}
	if count != 0 || len(msgs) != 0 {
		t.Errorf("count = %d, messages = %d, want empty maildrop", count, len(msgs))
	}
}

func TestPOP3FetchMessage(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages: []pop3MockMsg{{ID: 1, Data: popTestMail(1)}},
	})
	client := newTestPOP3Client(t, addr)

	msg, err := client.FetchMessage(1)
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if msg.Subject != "msg 1" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if got := strings.TrimSpace(msg.Body()); got != "body 1" {
		t.Errorf("body = %q, want %q", got, "body 1")
	}
	if len(msg.From) != 1 || msg.From[0].Email != "sender@example.com" {
		t.Errorf("from = %v", msg.From)
	}
}

func TestPOP3DeleteCommitsOnQuit(t *testing.T) {
	addr, state := newTestPOP3Server(t, pop3MockOpts{
		Messages: []pop3MockMsg{
			{ID: 1, Data: popTestMail(1)},
			{ID: 2, Data: popTestMail(2)},
		},
	})
	client := newTestPOP3Client(t, addr)

	if err := client.DeleteMessage(2); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	committed := state.committedDeletes()
	if len(committed) != 1 || committed[0] != 2 {
		t.Errorf("committed deletes = %v, want [2]", committed)
	}
}

func TestPOP3DeleteUnknownMessage(t *testing.T) {
	addr, state := newTestPOP3Server(t, pop3MockOpts{
		Messages: []pop3MockMsg{{ID: 1, Data: popTestMail(1)}},
	})
	client := newTestPOP3Client(t, addr)

	if err := client.DeleteMessage(99); err == nil {
		t.Fatal("expected error deleting unknown message")
	}
	if committed := state.committedDeletes(); len(committed) != 0 {
		t.Errorf("committed deletes = %v, want none", committed)
	}
}

func TestPOP3AuthFailure(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{RejectAuth: true})
	client := newTestPOP3Client(t, addr)

	if err := client.Verify(); err == nil {
		t.Fatal("expected authentication error")
	}
}

func TestPOP3Verify(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{})
	client := newTestPOP3Client(t, addr)

	if err := client.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
