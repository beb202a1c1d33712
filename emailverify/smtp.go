package emailverify

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// CalloutOptions tune the raw SMTP conversation.
type CalloutOptions struct {
	HeloHost       string
	MailFrom       string
	Port           int           // default 25
	ConnectTimeout time.Duration // default 10s
	CommandTimeout time.Duration // per command, default 15s
	TryStartTLS    bool          // upgrade when the server advertises it
}

func (o *CalloutOptions) defaults() {
	if o.Port <= 0 {
		o.Port = 25
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 15 * time.Second
	}

	if o.HeloHost == "" {
		o.HeloHost = "localhost"
	}

	if o.MailFrom == "" {
		o.MailFrom = "verify@" + o.HeloHost
	}
}

// Reply is one (possibly multi-line) SMTP server response.
type Reply struct {
	Code    int
	Message string
}

// Callout runs the EHLO/MAIL/RCPT probe against one MX host. It never
// sends DATA; the conversation stops after the RCPT verdict.
type Callout struct {
	opts CalloutOptions
}

func NewCallout(opts CalloutOptions) *Callout {
	opts.defaults()

	return &Callout{opts: opts}
}

// Rcpt returns the server's RCPT TO reply for one address. A transport
// error anywhere before the verdict is returned as err; the caller maps
// it to the risky bucket.
func (c *Callout) Rcpt(ctx context.Context, mxHost, rcpt string) (Reply, error) {
	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, strconv.Itoa(c.opts.Port)))
	if err != nil {
		return Reply{}, fmt.Errorf("dial %s: %w", mxHost, err)
	}
	defer conn.Close()

	s := &session{conn: conn, r: bufio.NewReader(conn), timeout: c.opts.CommandTimeout}

	greet, err := s.read()
	if err != nil {
		return Reply{}, err
	}

	if greet.Code != 220 {
		return Reply{}, fmt.Errorf("greeting from %s: %d %s", mxHost, greet.Code, greet.Message)
	}

	ehlo, err := s.cmd("EHLO " + c.opts.HeloHost)
	if err != nil {
		return Reply{}, err
	}

	if ehlo.Code != 250 {
		// Older servers only speak HELO.
		helo, err := s.cmd("HELO " + c.opts.HeloHost)
		if err != nil {
			return Reply{}, err
		}

		if helo.Code != 250 {
			return Reply{}, fmt.Errorf("helo rejected by %s: %d", mxHost, helo.Code)
		}
	} else if c.opts.TryStartTLS && advertisesStartTLS(ehlo.Message) {
		if err := s.upgradeTLS(mxHost); err == nil {
			// The session restarts after the handshake.
			if re, err := s.cmd("EHLO " + c.opts.HeloHost); err != nil || re.Code != 250 {
				return Reply{}, fmt.Errorf("ehlo after starttls on %s failed", mxHost)
			}
		}
	}

	mail, err := s.cmd(fmt.Sprintf("MAIL FROM:<%s>", c.opts.MailFrom))
	if err != nil {
		return Reply{}, err
	}

	if mail.Code != 250 {
		return Reply{}, fmt.Errorf("mail from rejected by %s: %d %s", mxHost, mail.Code, mail.Message)
	}

	verdict, err := s.cmd(fmt.Sprintf("RCPT TO:<%s>", rcpt))
	if err != nil {
		return Reply{}, err
	}

	_, _ = s.cmd("QUIT")

	return verdict, nil
}

type session struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func (s *session) cmd(line string) (Reply, error) {
	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))

	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return Reply{}, err
	}

	return s.read()
}

// read consumes one reply, accumulating "ddd-" continuation lines until
// the "ddd " terminator.
func (s *session) read() (Reply, error) {
	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))

	var (
		code  int
		lines []string
	)

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return Reply{}, err
		}

		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return Reply{}, fmt.Errorf("malformed smtp reply %q", line)
		}

		c, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, fmt.Errorf("malformed smtp reply %q", line)
		}

		code = c

		rest := ""
		if len(line) > 4 {
			rest = line[4:]
		}

		lines = append(lines, rest)

		if len(line) == 3 || line[3] == ' ' {
			break
		}

		if line[3] != '-' {
			return Reply{}, fmt.Errorf("malformed smtp reply %q", line)
		}
	}

	return Reply{Code: code, Message: strings.Join(lines, "\n")}, nil
}

func (s *session) upgradeTLS(mxHost string) error {
	rep, err := s.cmd("STARTTLS")
	if err != nil {
		return err
	}

	if rep.Code != 220 {
		return fmt.Errorf("starttls refused: %d", rep.Code)
	}

	// Verification probes only; certificate identity does not matter.
	tlsConn := tls.Client(s.conn, &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         mxHost,
	})

	_ = tlsConn.SetDeadline(time.Now().Add(s.timeout))

	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	s.conn = tlsConn
	s.r = bufio.NewReader(tlsConn)

	return nil
}

func advertisesStartTLS(ehloMessage string) bool {
	for _, line := range strings.Split(ehloMessage, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "STARTTLS") {
			return true
		}
	}

	return false
}
