package mailbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/snapshot"
)

// defaultCodeMaxAge bounds how far back the code search looks when the
// caller gives no age limit. One-time codes expire in minutes; stale
// matches are worse than none.
const defaultCodeMaxAge = 15 * time.Minute

// ErrNoCode reports that the mailbox was reachable but no recent unseen
// message contained a code. Callers can treat this as "not yet" and
// retry, unlike a connection error.
var ErrNoCode = errors.New("no verification code found")

// CodeQuery narrows the verification code search.
type CodeQuery struct {
	// Sender filters by From header substring.
	Sender string
	// SubjectContains filters by Subject substring.
	SubjectContains string
	// MaxAge ignores messages older than this. Zero means the default.
	MaxAge time.Duration
}

// VerificationCode is an extracted one-time code with the message it
// came from.
type VerificationCode struct {
	Code    string
	From    string
	Subject string
	Date    time.Time
	UID     uint32
}

// Code patterns, tried in order: digits following a code keyword,
// digits preceding one, then any standalone 4-8 digit run. The keyword
// forms keep order numbers and years from shadowing the actual code.
var (
	codeAfterKeyword  = regexp.MustCompile(`(?i)\b(?:code|otp|pin|passcode|password|verification)\b\D{0,24}?(\d{4,8})(?:\D|$)`)
	codeBeforeKeyword = regexp.MustCompile(`(?i)(?:^|\D)(\d{4,8})\D{0,24}?\b(?:code|otp|pin|passcode|verification)\b`)
	codeBare          = regexp.MustCompile(`(?:^|\D)(\d{4,8})(?:\D|$)`)
)

// ExtractCode pulls a 4-8 digit verification code out of free text.
func ExtractCode(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, re := range []*regexp.Regexp{codeAfterKeyword, codeBeforeKeyword, codeBare} {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// FetchVerificationCode searches recent unseen mail for a one-time
// code. The subject is scanned first; only when it yields nothing is
// the body fetched (HTML bodies are condensed to text before
// scanning). Candidates are tried newest-first.
func (m *Manager) FetchVerificationCode(ctx context.Context, q CodeQuery) (*VerificationCode, error) {
	maxAge := q.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCodeMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	envelopes, err := m.searchUnseen(searchQuery{
		Sender:  q.Sender,
		Subject: q.SubjectContains,
		Since:   cutoff,
	})
	if err != nil {
		return nil, err
	}

	for _, env := range envelopes {
		// IMAP SINCE is day-granular; enforce the real cutoff here.
		if env.Date.Before(cutoff) {
			continue
		}

		if code, ok := ExtractCode(env.Subject); ok {
			m.logger.Debug("verification code found in subject", "uid", env.UID, "from", env.From)
			return &VerificationCode{
				Code: code, From: env.From, Subject: env.Subject,
				Date: env.Date, UID: env.UID,
			}, nil
		}

		msg, err := m.readMessage(env.UID)
		if err != nil {
			m.logger.Debug("skipping unreadable message", "uid", env.UID, "error", err)
			continue
		}
		body := msg.TextBody
		if body == "" && msg.HTMLBody != "" {
			body = snapshot.Text(msg.HTMLBody)
		}
		if code, ok := ExtractCode(body); ok {
			m.logger.Debug("verification code found in body", "uid", env.UID, "from", env.From)
			return &VerificationCode{
				Code: code, From: env.From, Subject: env.Subject,
				Date: env.Date, UID: env.UID,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w in unseen mail from the last %s", ErrNoCode, formatAge(maxAge))
}

func formatAge(d time.Duration) string {
	return strings.TrimSuffix(d.Round(time.Minute).String(), "0s")
}
