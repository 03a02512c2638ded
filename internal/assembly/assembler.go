// Package assembly builds the bounded context document injected into the
// coach's system prompt before each model call.
//
// The document is assembled from four layers in strict priority order under
// one character budget: front matter (always), the user's arc (whole or not
// at all), session notebooks newest-first (stopping at the first that does
// not fit), and raw transcripts of completed sessions. Sections are never
// truncated; a section either fits whole or is left out.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	lerrors "github.com/lumenhq/lumen/internal/errors"
	"github.com/lumenhq/lumen/internal/logging"
	"github.com/lumenhq/lumen/internal/store"
	"github.com/lumenhq/lumen/internal/transcript"
)

// DefaultRecentCount is how many of the most recent completed sessions are
// always attempted first, in recency order.
const DefaultRecentCount = 3

// summaryLimit is how many summaries feed the front matter and the summary
// fallback.
const summaryLimit = 3

// Source is the read side of the record store the assembler needs.
type Source interface {
	ListTranscripts(ctx context.Context, userID string) ([]store.Transcript, error)
	ListSummaries(ctx context.Context, userID string, limit int) ([]store.Summary, error)
	GetArc(ctx context.Context, userID string) (*store.Arc, error)
	ListNotebooks(ctx context.Context, userID string) ([]store.Notebook, error)
	ReadTranscriptMessages(ctx context.Context, sessionID string) ([]transcript.Message, error)
}

// Options configures an Assembler.
type Options struct {
	// RecentCount overrides DefaultRecentCount when positive.
	RecentCount int
	// Budget is the default budget; non-zero request fields override it.
	Budget Budget
	Logger logging.Logger
}

// Request describes one context build.
type Request struct {
	UserID string
	Budget Budget
	// Now defaults to time.Now.
	Now time.Time
	// Location is used for current_date; defaults to time.Local.
	Location *time.Location
	// RecentCount overrides the assembler's setting when positive.
	RecentCount int
	// Rand drives the shuffle of older sessions. Nil uses a per-call source.
	Rand *rand.Rand
}

// Result is an assembled context and an account of what went into it.
type Result struct {
	Text                 string
	Chars                int
	Budget               int
	SessionNumber        int
	DaysSinceLastSession *int
	ArcIncluded          bool
	Notebooks            []string
	Transcripts          []string
	Summaries            []string
	// Unreadable lists sessions left out because a chunk failed integrity
	// or authentication.
	Unreadable []string
}

// Assembler builds session contexts from a Source.
type Assembler struct {
	src         Source
	log         logging.Logger
	recentCount int
	budget      Budget
}

// New creates an Assembler.
func New(src Source, opts Options) *Assembler {
	rc := opts.RecentCount
	if rc <= 0 {
		rc = DefaultRecentCount
	}
	return &Assembler{src: src, log: opts.Logger, recentCount: rc, budget: opts.Budget}
}

// Build assembles the context for req.UserID.
func (a *Assembler) Build(ctx context.Context, req Request) (*Result, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	budget := a.budget.Merge(req.Budget)
	recent := a.recentCount
	if req.RecentCount > 0 {
		recent = req.RecentCount
	}

	transcripts, err := a.src.ListTranscripts(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("assembly: list transcripts: %w", err)
	}
	completed := make([]store.Transcript, 0, len(transcripts))
	for _, t := range transcripts {
		if t.Ended() {
			completed = append(completed, t)
		}
	}

	summaries, err := a.src.ListSummaries(ctx, req.UserID, summaryLimit)
	if err != nil {
		return nil, fmt.Errorf("assembly: list summaries: %w", err)
	}

	fm := FrontMatter{
		SessionNumber:        len(completed) + 1,
		CurrentDate:          now.In(loc).Format("2006-01-02"),
		DaysSinceLastSession: daysSince(now, completed),
	}
	if len(summaries) > 0 {
		fm.ActionSteps = summaries[0].ActionSteps
		fm.OpenThreads = summaries[0].OpenThreads
	}
	head, err := fm.Render()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Budget:               budget.Chars(),
		SessionNumber:        fm.SessionNumber,
		DaysSinceLastSession: fm.DaysSinceLastSession,
	}
	doc := newDocument(head, res.Budget)

	if err := a.addArc(ctx, doc, req.UserID, res); err != nil {
		return nil, err
	}
	if err := a.addNotebooks(ctx, doc, req.UserID, res); err != nil {
		return nil, err
	}
	candidates := Shuffle(req.Rand, completed, recent)
	if err := a.addTranscripts(ctx, doc, candidates, res); err != nil {
		return nil, err
	}
	if len(res.Transcripts) == 0 {
		a.addSummaries(doc, summaries, res)
	}

	res.Text = doc.String()
	res.Chars = doc.used
	a.log.Debugf("assembled context for %s: %d/%d chars, %d transcripts, %d notebooks, arc=%t",
		req.UserID, res.Chars, res.Budget, len(res.Transcripts), len(res.Notebooks), res.ArcIncluded)
	if len(res.Unreadable) > 0 {
		a.log.Warnf("context for %s omits %d unreadable sessions", req.UserID, len(res.Unreadable))
	}
	return res, nil
}

// Shuffle orders completed sessions for inclusion: the first recent entries
// of completed (already newest first) keep their order, the rest follow in
// random order drawn from r. A nil r uses a per-call source.
func Shuffle(r *rand.Rand, completed []store.Transcript, recent int) []store.Transcript {
	out := make([]store.Transcript, len(completed))
	copy(out, completed)
	if recent >= len(out) {
		return out
	}
	older := out[max(recent, 0):]
	swap := func(i, j int) { older[i], older[j] = older[j], older[i] }
	if r != nil {
		r.Shuffle(len(older), swap)
	} else {
		rand.Shuffle(len(older), swap)
	}
	return out
}

// daysSince returns whole days since the latest end among completed
// sessions, never negative, or nil when there is none.
func daysSince(now time.Time, completed []store.Transcript) *int {
	var last *time.Time
	for _, t := range completed {
		if last == nil || t.EndedAt.After(*last) {
			last = t.EndedAt
		}
	}
	if last == nil {
		return nil
	}
	days := max(0, int(now.Sub(*last)/(24*time.Hour)))
	return &days
}

// ─── Layers ──────────────────────────────────────────────────────────────────

func (a *Assembler) addArc(ctx context.Context, doc *document, userID string, res *Result) error {
	arc, err := a.src.GetArc(ctx, userID)
	switch {
	case errors.Is(err, lerrors.ErrNotFound):
		return nil
	case isRecordFailure(err):
		a.log.Warnf("arc of %s is unreadable, leaving it out: %v", userID, err)
		return nil
	case err != nil:
		return fmt.Errorf("assembly: arc: %w", err)
	}
	if strings.TrimSpace(arc.Markdown) == "" {
		return nil
	}
	res.ArcIncluded = doc.add("## Arc", arc.Markdown)
	return nil
}

func (a *Assembler) addNotebooks(ctx context.Context, doc *document, userID string, res *Result) error {
	notebooks, err := a.src.ListNotebooks(ctx, userID)
	if err != nil {
		return fmt.Errorf("assembly: notebooks: %w", err)
	}
	for _, n := range notebooks {
		section := fmt.Sprintf("### Notebook %s (%s)\n%s", n.SessionID, n.CreatedAt.Format("2006-01-02"), n.Markdown)
		if !doc.add("## Session Notebooks", section) {
			break
		}
		res.Notebooks = append(res.Notebooks, n.SessionID)
	}
	return nil
}

func (a *Assembler) addTranscripts(ctx context.Context, doc *document, candidates []store.Transcript, res *Result) error {
	const heading = "## Recent Transcripts"
	for _, t := range candidates {
		header := transcriptHeader(t)
		if doc.remaining() < minTranscriptCost() {
			break
		}
		if !doc.fits(heading, header) {
			continue
		}
		msgs, err := a.src.ReadTranscriptMessages(ctx, t.SessionID)
		if isRecordFailure(err) {
			a.log.Warnf("session %s is unreadable, leaving it out: %v", t.SessionID, err)
			res.Unreadable = append(res.Unreadable, t.SessionID)
			continue
		}
		if err != nil {
			return fmt.Errorf("assembly: session %s: %w", t.SessionID, err)
		}
		if doc.add(heading, transcriptSection(header, msgs)) {
			res.Transcripts = append(res.Transcripts, t.SessionID)
		}
	}
	return nil
}

func (a *Assembler) addSummaries(doc *document, summaries []store.Summary, res *Result) {
	for _, s := range summaries {
		if doc.add("## Recent Summaries", summarySection(s)) {
			res.Summaries = append(res.Summaries, s.SessionID)
		}
	}
}

func isRecordFailure(err error) bool {
	return errors.Is(err, lerrors.ErrIntegrity) || errors.Is(err, lerrors.ErrAuthentication)
}

// ─── Formatting ──────────────────────────────────────────────────────────────

func transcriptHeader(t store.Transcript) string {
	return fmt.Sprintf("### Session %s (%s)", t.SessionID, t.StartedAt.UTC().Format(time.RFC3339))
}

// minTranscriptCost is the size of the smallest possible transcript
// section: a header with an empty session id and no messages.
func minTranscriptCost() int {
	return runeLen(sectionSep) + runeLen(transcriptHeader(store.Transcript{}))
}

func transcriptSection(header string, msgs []transcript.Message) string {
	var b strings.Builder
	b.WriteString(header)
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n**%s:** %s", m.Role, m.Content)
	}
	return b.String()
}

func summarySection(s store.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Session %s (%s)\n%s", s.SessionID, s.CreatedAt.UTC().Format(time.RFC3339), s.SummaryText)
	writeList(&b, "Action steps", s.ActionSteps)
	writeList(&b, "Open threads", s.OpenThreads)
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "\n%s: None", label)
		return
	}
	fmt.Fprintf(b, "\n%s:", label)
	for _, it := range items {
		fmt.Fprintf(b, "\n- %s", it)
	}
}

// ─── Document ────────────────────────────────────────────────────────────────

const sectionSep = "\n\n"

// document accumulates whole sections under a character limit. Lengths are
// counted in runes.
type document struct {
	b        strings.Builder
	used     int
	limit    int
	headings map[string]bool
}

func newDocument(head string, limit int) *document {
	d := &document{limit: limit, headings: make(map[string]bool)}
	d.b.WriteString(head)
	d.used = runeLen(head)
	return d
}

func (d *document) remaining() int {
	return d.limit - d.used
}

// cost is the size of adding section, plus its group heading when the group
// has not started yet.
func (d *document) cost(heading, section string) int {
	n := runeLen(sectionSep) + runeLen(section)
	if heading != "" && !d.headings[heading] {
		n += runeLen(sectionSep) + runeLen(heading)
	}
	return n
}

func (d *document) fits(heading, section string) bool {
	return d.cost(heading, section) <= d.remaining()
}

// add appends section under heading if it fits, and reports whether it did.
func (d *document) add(heading, section string) bool {
	if !d.fits(heading, section) {
		return false
	}
	d.used += d.cost(heading, section)
	if heading != "" && !d.headings[heading] {
		d.headings[heading] = true
		d.b.WriteString(sectionSep)
		d.b.WriteString(heading)
	}
	d.b.WriteString(sectionSep)
	d.b.WriteString(section)
	return true
}

func (d *document) String() string {
	return d.b.String()
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
