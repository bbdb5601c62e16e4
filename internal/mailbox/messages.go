package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds the body text kept per message; larger bodies are
// truncated with a note.
const maxBodySize = 32 * 1024

// maxRawMessageSize bounds the raw RFC822 literal buffered per fetch.
// Anything beyond it (huge attachments) is drained unread to keep the
// IMAP stream in sync.
const maxRawMessageSize = 5 * 1024 * 1024

// Envelope is per-message summary metadata.
type Envelope struct {
	UID     uint32
	Date    time.Time
	From    string
	Subject string
}

// Message is a fully fetched email with body content extracted from
// the MIME structure.
type Message struct {
	Envelope

	// TextBody is the plain-text body, preferred for code extraction.
	TextBody string

	// HTMLBody is the raw HTML body for messages without a plain part.
	HTMLBody string
}

// searchQuery narrows a candidate search.
type searchQuery struct {
	// Sender matches the From header (IMAP substring semantics).
	Sender string
	// Subject matches the Subject header.
	Subject string
	// Since restricts to messages received on or after this time. IMAP
	// SINCE has day granularity; callers re-filter by envelope date.
	Since time.Time
	// Limit caps the number of envelopes returned, newest kept.
	Limit int
}

// searchUnseen returns unseen envelopes matching the query,
// newest-first. Caller must hold m.mu with a live connection.
func (m *Manager) searchUnseen(q searchQuery) ([]Envelope, error) {
	if _, err := m.selectInbox(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if q.Sender != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key: "From", Value: q.Sender,
		})
	}
	if q.Subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key: "Subject", Value: q.Subject,
		})
	}

	searchData, err := m.imap.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search INBOX: %w", err)
	}

	allUIDs := searchData.AllUIDs()
	if len(allUIDs) == 0 {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(allUIDs) > limit {
		allUIDs = allUIDs[len(allUIDs)-limit:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range allUIDs {
		uidSet.AddNum(uid)
	}
	return m.fetchEnvelopes(uidSet)
}

// fetchEnvelopes fetches envelope data for the given UIDs, returned
// newest-first. Caller must hold m.mu with a selected mailbox.
func (m *Manager) fetchEnvelopes(uidSet imap.UIDSet) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}
	fetchCmd := m.imap.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseEnvelopeData(msg)
		if err != nil {
			m.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	// Highest UIDs are newest; reverse into newest-first order.
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}
	return envelopes, nil
}

// parseEnvelopeData extracts an Envelope from one fetch response.
func parseEnvelopeData(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			drainLiteral(data.Literal)
		}
	}
	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

// readMessage fetches one message's body by UID. The fetch marks the
// message \Seen, which keeps an already-consumed code from matching
// the next unseen search. Caller must hold m.mu with a selected
// mailbox.
func (m *Manager) readMessage(uid uint32) (*Message, error) {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: false},
		},
	}
	fetchCmd := m.imap.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	result := &Message{}
	var rawBody []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			result.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				result.Date = data.Envelope.Date
				result.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					result.From = formatAddress(data.Envelope.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			// The literal streams from the connection and msg.Next()
			// skips past unread literals, so it must be consumed here.
			if data.Literal == nil {
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			drainLiteral(data.Literal)
			if readErr != nil {
				m.logger.Debug("error reading body literal", "uid", uid, "error", readErr)
				rawBody = nil
			}
		}
	}

	if rawBody != nil {
		if err := m.parseBody(result, bytes.NewReader(rawBody)); err != nil {
			m.logger.Debug("body parse error", "uid", uid, "error", err)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch message UID %d: %w", uid, err)
	}
	return result, nil
}

// parseBody walks the MIME structure for text/plain and text/html
// parts.
//
// go-message may return both a usable reader/part AND an error when a
// message uses an unknown charset or transfer encoding. Those are
// non-fatal here: slightly garbled text still carries a digit code.
func (m *Manager) parseBody(msg *Message, r io.Reader) error {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		if err != nil {
			return fmt.Errorf("create mail reader returned nil: %w", err)
		}
		return fmt.Errorf("create mail reader returned nil")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		default:
			// Attachments carry no code worth scanning.
			continue
		}

		switch {
		case contentType == "text/plain" && msg.TextBody == "":
			msg.TextBody = readPart(part.Body)
		case contentType == "text/html" && msg.HTMLBody == "":
			msg.HTMLBody = readPart(part.Body)
		}
	}
	return nil
}

// readPart reads a body part up to maxBodySize, marking truncation.
func readPart(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return ""
	}
	text := string(body)
	if len(body) > maxBodySize {
		text = text[:maxBodySize] + "\n\n[truncated]"
	}
	return strings.TrimSpace(text)
}

// drainLiteral discards an IMAP literal so the stream stays in sync.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// formatAddress renders an IMAP address as "Name <user@host>" or the
// bare address.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
