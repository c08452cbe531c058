package bot

import (
	"errors"
	"html"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"gopkg.in/telebot.v4"
)

var errInvalidClientID = errors.New("client id must be a positive number")

func parseClientID(text string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidClientID
	}
	return id, nil
}

func statusLabel(localizer *i18n.Localizer, lang string, status models.Status) string {
	return localizer.Get(lang, "status."+status.String())
}

// errorText turns a review error into the message shown to the actor.
func errorText(localizer *i18n.Localizer, lang string, err error) string {
	status := "-"
	if current, ok := workflow.CurrentStatus(err); ok {
		status = statusLabel(localizer, lang, current)
	}
	data := map[string]any{"status": status}

	switch {
	case errors.Is(err, directory.ErrClientNotFound):
		return localizer.Get(lang, "error.client_not_found")
	case errors.Is(err, workflow.ErrLimitReached):
		return localizer.Get(lang, "error.limit_reached")
	case errors.Is(err, session.ErrNoSession):
		return localizer.Get(lang, "error.no_session")
	case errors.Is(err, workflow.ErrNotFound):
		return localizer.Get(lang, "error.ticket_not_found")
	case errors.Is(err, workflow.ErrAlreadyClaimed):
		return localizer.GetWithData(lang, "error.already_claimed", data)
	case errors.Is(err, workflow.ErrInvalidTransition):
		return localizer.GetWithData(lang, "error.invalid_transition", data)
	case errors.Is(err, workflow.ErrUnauthorized):
		return localizer.Get(lang, "error.unauthorized")
	case errors.Is(err, workflow.ErrDisabled):
		return localizer.Get(lang, "error.disabled")
	default:
		return localizer.Get(lang, "error.internal")
	}
}

// isExpected reports whether err is an outcome the actor caused rather than a failure of ours.
func isExpected(err error) bool {
	return workflow.IsBusinessOutcome(err) || errors.Is(err, directory.ErrClientNotFound)
}

// replyError logs err at the level it deserves and tells the actor.
func (b *Bot) replyError(tCtx telebot.Context, op string, err error) error {
	if isExpected(err) {
		b.log.Info("Request rejected", "op", op, "user", tCtx.Sender().ID, "reason", err)
	} else {
		b.log.Error("Request failed", "op", op, "user", tCtx.Sender().ID, "error", err)
	}
	b.metrics.SentMessages.WithLabelValues("error").Inc()

	text := errorText(b.localizer, b.lang(tCtx), err)
	if tCtx.Callback() != nil {
		return tCtx.Respond(&telebot.CallbackResponse{Text: text, ShowAlert: true})
	}
	return tCtx.Send(text, telebot.ModeHTML)
}

// clientLine renders the CRM link of a client, or nothing when links are off.
func (b *Bot) clientLine(clientID int64) string {
	link := b.opts.ClientLink(clientID)
	if link == "" {
		return ""
	}
	return html.EscapeString(link)
}

// chunkText splits text into pieces of at most limit bytes, breaking between lines where it can.
// A cut inside a line never splits a rune or an escaped HTML entity.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if current.Len()+len(line) <= limit {
			current.WriteString(line)
			continue
		}
		flush()
		for len(line) > limit {
			cut := entityBoundary(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}

// maxEntityLength is one past the longest entity html.EscapeString produces ("&#39;", "&#34;").
const maxEntityLength = 6

// entityBoundary returns the largest cut <= limit that lands on a rune start and outside an
// HTML entity such as "&lt;".
func entityBoundary(line string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}

	amp := strings.LastIndexByte(line[:cut], '&')
	if amp > 0 && cut-amp < maxEntityLength && !strings.Contains(line[amp:cut], ";") {
		cut = amp
	}
	return cut
}

// truncateText shortens text to at most limit UTF-16 code units, the unit Telegram measures
// message length in. It reports whether anything was cut.
func truncateText(text string, limit int) (string, bool) {
	units := 0
	for i, r := range text {
		units += utf16.RuneLen(r)
		if units > limit {
			return text[:i], true
		}
	}
	return text, false
}
