package normalizer

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// minCleanLength is the threshold below which cleaning is considered
	// to have destroyed the message; the raw fallback kicks in.
	minCleanLength = 10
	// rawFallbackLength caps the raw text returned by the fallback.
	rawFallbackLength = 3000
	// footerMaxLineLength guards real body content: longer lines are never
	// dropped by the boilerplate heuristic.
	footerMaxLineLength = 60
)

// Normalizer reduces raw message HTML/MIME bodies to clean plain text
// safe to hand to the classifier.
type Normalizer struct {
	htmlTagRegex     *regexp.Regexp
	newlineRegex     *regexp.Regexp
	replyHeaderRegex *regexp.Regexp
	footerRegex      *regexp.Regexp
	injectionCleaner *strings.Replacer
}

// New creates a Normalizer with its patterns compiled once.
func New() *Normalizer {
	return &Normalizer{
		htmlTagRegex: regexp.MustCompile(`(?i)<(!doctype|html|head|body|div|p|br|table|span|img|a[\s>]|h[1-6])`),
		newlineRegex: regexp.MustCompile(`\n{3,}`),
		replyHeaderRegex: regexp.MustCompile(
			`(?i)^(on .{0,200}wrote:\s*$|-{2,}\s*(original|forwarded) message\s*-{0,}$|from:\s+.*@.*$|sent:\s+\w+,.*\d{4}.*$)`),
		footerRegex: regexp.MustCompile(
			`(?i)(unsubscribe|privacy policy|terms of service|view (this email )?in( your)? browser|all rights reserved|©\s*\d{4}|\(c\)\s*\d{4}|copyright\s+\d{4})`),
		injectionCleaner: strings.NewReplacer(
			"<|", "< |",
			"|>", "| >",
			"[INST]", "[ INST ]",
			"[/INST]", "[ /INST ]",
			"<<SYS>>", "<< SYS >>",
			"<</SYS>>", "<< /SYS >>",
			"### System", "#&#35;# System",
			"### Instruction", "#&#35;# Instruction",
		),
	}
}

// Clean runs the full pipeline: structural HTML folding, quoted-reply and
// footer filtering, the non-empty fallback, whitespace normalization and
// control-token neutralization. Never returns empty output for non-empty
// input, and is idempotent on already-clean text.
func (n *Normalizer) Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := raw
	if n.htmlTagRegex.MatchString(raw) {
		text = n.htmlToText(raw)
	} else {
		text = html.UnescapeString(text)
	}

	text = n.filterLines(text)

	// A cleaning bug must never produce an empty document for a non-empty
	// input: fall back to the raw head of the message.
	if len(strings.TrimSpace(text)) < minCleanLength {
		runes := []rune(raw)
		if len(runes) > rawFallbackLength {
			runes = runes[:rawFallbackLength]
		}
		text = string(runes)
	}

	text = n.newlineRegex.ReplaceAllString(text, "\n\n")
	text = n.injectionCleaner.Replace(text)
	return strings.TrimSpace(text)
}

// htmlToText folds HTML structure into plain text: block breaks become
// newlines, headers become "# text", list items "- text", anchors
// "[text](href)" and images "![alt](src)". Script and style contents are
// dropped entirely; entities are decoded by the parser.
func (n *Normalizer) htmlToText(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return html.UnescapeString(rawHTML)
	}

	doc.Find("script, style, head, meta, link").Remove()

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		label := strings.TrimSpace(s.Text())
		if href != "" && label != "" {
			s.SetText(fmt.Sprintf("[%s](%s)", label, href))
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		if src != "" {
			s.ReplaceWithHtml(fmt.Sprintf("![%s](%s)", alt, src))
		} else {
			s.Remove()
		}
	})

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n# ")
		s.AppendHtml("\n")
	})
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n- ")
	})
	doc.Find("p, div, br, tr, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return doc.Text()
}

// filterLines drops quoted-reply lines, truncates at the first reply
// header, and strips short boilerplate footer lines.
func (n *Normalizer) filterLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		// Everything after a reply header is quoted history.
		if n.replyHeaderRegex.MatchString(trimmed) {
			break
		}
		if len(trimmed) > 0 && len(trimmed) < footerMaxLineLength && n.footerRegex.MatchString(trimmed) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	return strings.Join(kept, "\n")
}
