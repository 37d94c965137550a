package domain

import "strings"

const (
	replyPrefix      = "Re: "
	forwardPrefix    = "Fwd: "
	forwardSeparator = "---------- Forwarded message ---------"
)

// ReplySubject prefixes "Re: " unless the subject already starts with
// it. The match is case-sensitive on the literal prefix.
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, replyPrefix) {
		return subject
	}
	return replyPrefix + subject
}

// ForwardSubject prefixes "Fwd: " under the same rule as ReplySubject.
func ForwardSubject(subject string) string {
	if strings.HasPrefix(subject, forwardPrefix) {
		return subject
	}
	return forwardPrefix + subject
}

// BuildForwardBody composes the body of a forwarded message: optional
// comment, separator line, original headers, blank line, original body.
func BuildForwardBody(comment string, original *EmailMessage) string {
	var b strings.Builder
	if comment != "" {
		b.WriteString(comment)
		b.WriteString("\n\n")
	}
	b.WriteString(forwardSeparator)
	b.WriteString("\n")
	b.WriteString("From: " + original.From + "\n")
	b.WriteString("Date: " + original.Date + "\n")
	b.WriteString("Subject: " + original.Subject + "\n")
	b.WriteString("To: " + strings.Join(original.To, ", ") + "\n")
	b.WriteString("\n")
	b.WriteString(original.Body)
	return b.String()
}
