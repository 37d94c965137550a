package mailproto

import (
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	StartTLS bool
}

// IMAPClient wraps an IMAP connection with the operations the imap
// provider variant needs. Connections are opened lazily per call and
// closed afterwards.
type IMAPClient struct {
	config IMAPConfig
	client *imapclient.Client
}

// NewIMAPClient creates an IMAP client. No connection is opened yet.
func NewIMAPClient(config IMAPConfig) *IMAPClient {
	return &IMAPClient{config: config}
}

// Connect dials and authenticates.
func (c *IMAPClient) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	var client *imapclient.Client
	var err error

	if c.config.SSL {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{})
	} else if c.config.StartTLS {
		client, err = imapclient.DialStartTLS(addr, &imapclient.Options{})
	} else {
		client, err = imapclient.DialInsecure(addr, &imapclient.Options{})
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}

	if err := client.Login(c.config.Username, c.config.Password).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("IMAP authentication failed: %w", err)
	}

	c.client = client
	return nil
}

// Close closes the IMAP connection.
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

func (c *IMAPClient) ensureConnected() (func(), error) {
	if c.client != nil {
		return func() {}, nil
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return func() { c.Close() }, nil
}

// ListFolders lists all mailboxes.
func (c *IMAPClient) ListFolders() ([]string, error) {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mailboxes, err := c.client.List("", "*", &imap.ListOptions{}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		folders = append(folders, mb.Mailbox)
	}
	return folders, nil
}

// FetchEnvelopes fetches the newest limit envelopes from a folder,
// newest first.
func (c *IMAPClient) FetchEnvelopes(folder string, limit int) ([]*Message, int, error) {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	if folder == "" {
		folder = "INBOX"
	}

	selectData, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	numMessages := selectData.NumMessages
	if numMessages == 0 {
		return []*Message{}, 0, nil
	}

	if limit <= 0 {
		limit = 20
	}
	start := uint32(1)
	if numMessages > uint32(limit) {
		start = numMessages - uint32(limit) + 1
	}

	seqSet := imap.SeqSet{}
	seqSet.AddRange(start, numMessages)

	fetchOptions := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}

	msgs, err := c.client.Fetch(seqSet, fetchOptions).Collect()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := make([]*Message, 0, len(msgs))
	for _, buf := range msgs {
		messages = append(messages, convertFetchBuffer(buf))
	}

	// Newest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, int(numMessages), nil
}

// FetchMessage fetches a single message by UID, including its body.
// The body section is peeked so the fetch does not set \Seen.
func (c *IMAPClient) FetchMessage(folder string, uid uint32) (*Message, error) {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if folder == "" {
		folder = "INBOX"
	}

	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	msgs, err := c.client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message UID %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message UID %d not found in %s", uid, folder)
	}

	buf := msgs[0]
	msg := convertFetchBuffer(buf)

	if raw := buf.FindBodySection(bodySection); raw != nil {
		if parsed, err := ParseMessage(raw); err == nil {
			msg.TextBody = parsed.TextBody
			msg.HTMLBody = parsed.HTMLBody
		} else {
			msg.TextBody = string(raw)
		}
	}

	return msg, nil
}

// DeleteMessage flags a message \Deleted and optionally expunges.
func (c *IMAPClient) DeleteMessage(folder string, uid uint32, expunge bool) error {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return err
	}
	defer cleanup()

	if folder == "" {
		folder = "INBOX"
	}

	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	_, err = c.client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil).Collect()
	if err != nil {
		return fmt.Errorf("failed to mark message as deleted: %w", err)
	}

	if expunge {
		if _, err := c.client.Expunge().Collect(); err != nil {
			return fmt.Errorf("failed to expunge messages: %w", err)
		}
	}

	return nil
}

// SetSeen adds or removes the \Seen flag on a message.
func (c *IMAPClient) SetSeen(folder string, uid uint32, seen bool) error {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return err
	}
	defer cleanup()

	if folder == "" {
		folder = "INBOX"
	}

	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	op := imap.StoreFlagsAdd
	if !seen {
		op = imap.StoreFlagsDel
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	_, err = c.client.Store(uidSet, &imap.StoreFlags{
		Op:    op,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil).Collect()
	if err != nil {
		return fmt.Errorf("failed to update seen flag: %w", err)
	}

	return nil
}

// SearchSubjectOrFrom runs a SEARCH for the text in subject, from, or
// body, then fetches the matching envelopes, newest first.
func (c *IMAPClient) SearchSubjectOrFrom(folder, text string, limit int) ([]*Message, error) {
	cleanup, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if folder == "" {
		folder = "INBOX"
	}

	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	criteria := &imap.SearchCriteria{Text: []string{text}}
	searchData, err := c.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("IMAP search failed: %w", err)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		return []*Message{}, nil
	}

	if limit > 0 && len(seqNums) > limit {
		seqNums = seqNums[len(seqNums)-limit:]
	}

	seqSet := imap.SeqSet{}
	seqSet.AddNum(seqNums...)

	msgs, err := c.client.Fetch(seqSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search results: %w", err)
	}

	messages := make([]*Message, 0, len(msgs))
	for _, buf := range msgs {
		messages = append(messages, convertFetchBuffer(buf))
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Noop keeps the connection alive.
func (c *IMAPClient) Noop() error {
	if c.client == nil {
		return nil
	}
	return c.client.Noop().Wait()
}

func convertFetchBuffer(buf *imapclient.FetchMessageBuffer) *Message {
	msg := &Message{
		UID:    uint32(buf.UID),
		SeqNum: buf.SeqNum,
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		msg.MessageID = env.MessageID
		msg.From = convertIMAPAddresses(env.From)
		msg.To = convertIMAPAddresses(env.To)
		msg.Cc = convertIMAPAddresses(env.Cc)
	}

	for _, f := range buf.Flags {
		switch f {
		case imap.FlagSeen:
			msg.Flags.Seen = true
		case imap.FlagFlagged:
			msg.Flags.Flagged = true
		case imap.FlagAnswered:
			msg.Flags.Answered = true
		case imap.FlagDraft:
			msg.Flags.Draft = true
		case imap.FlagDeleted:
			msg.Flags.Deleted = true
		}
	}

	return msg
}

func convertIMAPAddresses(addrs []imap.Address) []Address {
	result := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, Address{
			Name:  a.Name,
			Email: a.Addr(),
		})
	}
	return result
}
