package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// extractURL fetches a web page and extracts its main content as plain text
// using the Readability algorithm. When Readability finds no article body,
// the whole page is converted to markdown as a fallback so that sparse pages
// still contribute something.
func (i *Ingestor) extractURL(ctx context.Context, rawURL string) (string, []string, error) {
	body, finalURL, err := i.fetch(ctx, rawURL,
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", nil, err
	}

	var warnings []string

	pageURL, err := url.Parse(finalURL)
	if err != nil {
		pageURL, _ = url.Parse(rawURL)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		var textBuf bytes.Buffer
		if rerr := article.RenderText(&textBuf); rerr == nil {
			text := strings.TrimSpace(textBuf.String())
			if text != "" {
				if title := strings.TrimSpace(article.Title()); title != "" {
					text = title + "\n\n" + text
				}
				return text, warnings, nil
			}
		}
		warnings = append(warnings, fmt.Sprintf("readability found no article body in %s", rawURL))
	} else {
		warnings = append(warnings, fmt.Sprintf("readability failed for %s: %v", rawURL, err))
	}

	// Fallback: render the whole page as markdown.
	md, err := htmltomarkdown.ConvertString(string(body), converter.WithDomain(finalURL))
	if err != nil {
		return "", warnings, fmt.Errorf("ingest: convert %q to markdown: %w", rawURL, err)
	}
	return collapseBlankLines(md), warnings, nil
}

// collapseBlankLines trims trailing whitespace and squeezes runs of blank
// lines down to one so markdown fallbacks stay compact.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
