// Package emailverify validates harvested addresses: normalization,
// syntax, MX resolution and a live SMTP RCPT probe with catch-all
// detection.
package emailverify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sort"
	"strings"
	"sync"

	emailverifier "github.com/AfterShip/email-verifier"
	"golang.org/x/net/idna"
)

// Status buckets for one address.
const (
	StatusDeliverable   = "deliverable"
	StatusRisky         = "risky"
	StatusUndeliverable = "undeliverable"
	StatusUnknown       = "unknown"
)

// Reasons attached to non-deliverable outcomes.
const (
	ReasonBadSyntax     = "bad-syntax"
	ReasonNoMailServer  = "no-mail-server"
	ReasonCatchAll      = "catch-all-domain"
	ReasonMailboxDenied = "mailbox-denied"
	ReasonTempFailure   = "temporary-failure"
	ReasonUnreachable   = "smtp-unreachable"
)

// ErrSMTPUnreachable marks a probe where no MX host accepted a
// connection at all; the runner counts these to detect blocked port 25.
var ErrSMTPUnreachable = errors.New("smtp unreachable")

var roleLocals = map[string]bool{
	"admin": true, "administrator": true, "postmaster": true,
	"webmaster": true, "hostmaster": true, "abuse": true,
	"noreply": true, "no-reply": true, "support": true,
	"help": true, "sales": true, "info": true, "billing": true,
}

// Outcome is the verdict for one address.
type Outcome struct {
	Email      string `json:"email"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Disposable bool   `json:"disposable,omitempty"`
	Role       bool   `json:"role,omitempty"`
	CatchAll   bool   `json:"catchAll,omitempty"`
}

// Normalize canonicalizes an address: trimmed, domain IDNA-encoded and
// lowercased. The local part keeps its case. Normalize is idempotent.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", fmt.Errorf("address %q: missing local part or domain", addr)
	}

	local, domain := addr[:at], addr[at+1:]

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(domain))
	if err != nil {
		return "", fmt.Errorf("address domain %q: %w", domain, err)
	}

	return local + "@" + ascii, nil
}

// CheckSyntax validates the normalized form against the address shape
// rules: 254 total, local 1..64, labels 1..63, dot-atom or quoted local.
func CheckSyntax(addr string) error {
	if len(addr) > 254 {
		return errors.New("address exceeds 254 octets")
	}

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return errors.New("missing local part or domain")
	}

	local, domain := addr[:at], addr[at+1:]

	if len(local) > 64 {
		return errors.New("local part exceeds 64 octets")
	}

	if !validLocal(local) {
		return errors.New("invalid local part")
	}

	if !validDomain(domain) {
		return errors.New("invalid domain")
	}

	return nil
}

func validLocal(local string) bool {
	if strings.HasPrefix(local, "\"") && strings.HasSuffix(local, "\"") && len(local) >= 2 {
		return true
	}

	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}

	const atext = "!#$%&'*+-/=?^_`{|}~."

	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(atext, r):
		default:
			return false
		}
	}

	return true
}

func validDomain(domain string) bool {
	if domain == "" || len(domain) > 253 || !strings.Contains(domain, ".") {
		return false
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}

		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}

		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}

	return true
}

// IsRoleAddress reports whether the local part is a functional mailbox
// rather than a person.
func IsRoleAddress(addr string) bool {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return false
	}

	return roleLocals[strings.ToLower(addr[:at])]
}

// VerifierOptions tune the verifier.
type VerifierOptions struct {
	Callout       CalloutOptions
	MaxMXHosts    int  // parallel probes, default 2
	CatchAllProbe bool // detect accept-all domains
}

// Verifier runs the full pipeline for single addresses. It is safe for
// concurrent use; catch-all verdicts are cached per domain.
type Verifier struct {
	opts    VerifierOptions
	callout *Callout
	meta    *emailverifier.Verifier

	lookupMX   func(ctx context.Context, domain string) ([]*net.MX, error)
	lookupHost func(ctx context.Context, host string) ([]string, error)
	rcpt       func(ctx context.Context, host, addr string) (Reply, error)

	mu       sync.Mutex
	catchAll map[string]bool
}

func NewVerifier(opts VerifierOptions) *Verifier {
	if opts.MaxMXHosts <= 0 {
		opts.MaxMXHosts = 2
	}

	v := &Verifier{
		opts:       opts,
		callout:    NewCallout(opts.Callout),
		meta:       emailverifier.NewVerifier(),
		lookupMX:   net.DefaultResolver.LookupMX,
		lookupHost: net.DefaultResolver.LookupHost,
		catchAll:   make(map[string]bool),
	}

	v.rcpt = v.callout.Rcpt

	return v
}

// Verify runs normalization, syntax, MX resolution and the SMTP probe
// for one address. It always returns an Outcome; err is only non-nil
// for the unreachable case the caller may want to count.
func (v *Verifier) Verify(ctx context.Context, addr string) (Outcome, error) {
	norm, err := Normalize(addr)
	if err != nil {
		return Outcome{Email: addr, Status: StatusUndeliverable, Reason: ReasonBadSyntax}, nil
	}

	out := Outcome{Email: norm}

	if err := CheckSyntax(norm); err != nil {
		out.Status = StatusUndeliverable
		out.Reason = ReasonBadSyntax

		return out, nil
	}

	domain := norm[strings.LastIndex(norm, "@")+1:]

	out.Role = IsRoleAddress(norm)
	out.Disposable = v.meta.IsDisposable(domain)

	hosts, err := v.mailHosts(ctx, domain)
	if err != nil || len(hosts) == 0 {
		out.Status = StatusUndeliverable
		out.Reason = ReasonNoMailServer

		return out, nil
	}

	status, reason, probeErr := v.probe(ctx, hosts, norm)
	out.Status = status
	out.Reason = reason

	if status == StatusDeliverable && v.opts.CatchAllProbe {
		if v.domainCatchAll(ctx, hosts, domain) {
			out.Status = StatusRisky
			out.Reason = ReasonCatchAll
			out.CatchAll = true
		}
	}

	return out, probeErr
}

// VerifyFallback runs only the offline stages. Used when outbound SMTP
// is blocked: the verdict never claims deliverability.
func (v *Verifier) VerifyFallback(ctx context.Context, addr string) Outcome {
	norm, err := Normalize(addr)
	if err != nil {
		return Outcome{Email: addr, Status: StatusUndeliverable, Reason: ReasonBadSyntax}
	}

	out := Outcome{Email: norm}

	if err := CheckSyntax(norm); err != nil {
		out.Status = StatusUndeliverable
		out.Reason = ReasonBadSyntax

		return out
	}

	domain := norm[strings.LastIndex(norm, "@")+1:]

	out.Role = IsRoleAddress(norm)
	out.Disposable = v.meta.IsDisposable(domain)

	if hosts, err := v.mailHosts(ctx, domain); err != nil || len(hosts) == 0 {
		out.Status = StatusUndeliverable
		out.Reason = ReasonNoMailServer

		return out
	}

	out.Status = StatusUnknown

	return out
}

// mailHosts resolves the MX set sorted by preference, shuffling hosts
// of equal preference. When no MX exists, an A/AAAA record on the bare
// domain serves as an implicit mail host.
func (v *Verifier) mailHosts(ctx context.Context, domain string) ([]string, error) {
	mxs, err := v.lookupMX(ctx, domain)
	if err != nil || len(mxs) == 0 {
		if _, hostErr := v.lookupHost(ctx, domain); hostErr != nil {
			return nil, fmt.Errorf("no mail host for %s", domain)
		}

		return []string{domain}, nil
	}

	shuffleEqualPref(mxs)

	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })

	hosts := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
	}

	return hosts, nil
}

func shuffleEqualPref(mxs []*net.MX) {
	for i := len(mxs) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return
		}

		j := int(n.Int64())
		if mxs[i].Pref == mxs[j].Pref {
			mxs[i], mxs[j] = mxs[j], mxs[i]
		}
	}
}

// probe races the RCPT callout across the first MaxMXHosts hosts. An
// acceptance from any host wins immediately; otherwise every host gets
// to answer and the mildest terminal reply decides.
func (v *Verifier) probe(ctx context.Context, hosts []string, addr string) (status, reason string, err error) {
	if len(hosts) > v.opts.MaxMXHosts {
		hosts = hosts[:v.opts.MaxMXHosts]
	}

	type verdict struct {
		reply Reply
		err   error
	}

	ch := make(chan verdict, len(hosts))

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, host := range hosts {
		go func() {
			reply, err := v.rcpt(pctx, host, addr)
			ch <- verdict{reply: reply, err: err}
		}()
	}

	var (
		lastErr  error
		best     int
		haveBest bool
	)

	for range hosts {
		select {
		case <-ctx.Done():
			return StatusRisky, ReasonTempFailure, ctx.Err()
		case out := <-ch:
			if out.err != nil {
				lastErr = out.err

				continue
			}

			if out.reply.Code == 250 {
				return StatusDeliverable, "", nil
			}

			if !haveBest || milderReply(out.reply.Code, best) {
				best = out.reply.Code
				haveBest = true
			}
		}
	}

	if haveBest {
		s, r := mapReply(best)

		return s, r, nil
	}

	// Every host failed at the transport level.
	return StatusRisky, ReasonUnreachable, fmt.Errorf("%w: %v", ErrSMTPUnreachable, lastErr)
}

// milderReply prefers a transient denial over a permanent one.
func milderReply(a, b int) bool {
	return transientReply(a) && !transientReply(b)
}

func transientReply(code int) bool {
	switch code {
	case 421, 450, 451, 452:
		return true
	}

	return false
}

// mapReply buckets an RCPT reply code. 250 accepts; 4xx transient
// codes are risky; everything else denies the mailbox.
func mapReply(code int) (status, reason string) {
	switch code {
	case 250:
		return StatusDeliverable, ""
	case 421, 450, 451, 452:
		return StatusRisky, ReasonTempFailure
	default:
		return StatusUndeliverable, ReasonMailboxDenied
	}
}

// domainCatchAll probes a random mailbox; acceptance means the domain
// accepts anything and individual verdicts prove nothing.
func (v *Verifier) domainCatchAll(ctx context.Context, hosts []string, domain string) bool {
	v.mu.Lock()
	if cached, ok := v.catchAll[domain]; ok {
		v.mu.Unlock()

		return cached
	}
	v.mu.Unlock()

	status, _, _ := v.probe(ctx, hosts, randomLocal()+"@"+domain)
	isCatchAll := status == StatusDeliverable

	v.mu.Lock()
	v.catchAll[domain] = isCatchAll
	v.mu.Unlock()

	return isCatchAll
}

func randomLocal() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "probe4f21a9c3"
	}

	return hex.EncodeToString(buf)
}
