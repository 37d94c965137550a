package mailproto

import (
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	StartTLS bool
}

// SMTPClient sends messages over SMTP.
type SMTPClient struct {
	config SMTPConfig
	client *smtp.Client
}

// NewSMTPClient creates an SMTP client. No connection is opened yet.
func NewSMTPClient(config SMTPConfig) *SMTPClient {
	return &SMTPClient{config: config}
}

// Connect dials and authenticates.
func (c *SMTPClient) Connect() error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	tlsCfg := &tls.Config{ServerName: c.config.Host}

	var client *smtp.Client
	var err error

	if c.config.SSL {
		client, err = smtp.DialTLS(addr, tlsCfg)
	} else if c.config.StartTLS {
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if c.config.Password != "" {
		auth := sasl.NewPlainClient("", c.config.Username, c.config.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	c.client = client
	return nil
}

// Send builds and transmits a message. When not yet connected, the
// connection is opened for this call and closed afterwards.
func (c *SMTPClient) Send(opts SendOptions) (string, error) {
	if c.client == nil {
		if err := c.Connect(); err != nil {
			return "", err
		}
		defer c.Close()
	}

	messageID := opts.MessageID
	if messageID == "" {
		messageID = GenerateMessageID(opts.From.Email)
		opts.MessageID = messageID
	}

	msg, err := BuildMessage(opts)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	if err := c.client.SendMail(opts.From.Email, opts.Recipients(), msg); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	return messageID, nil
}

// Close closes the SMTP connection.
func (c *SMTPClient) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}
