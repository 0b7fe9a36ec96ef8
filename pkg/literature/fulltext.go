package literature

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/evigraph/backend/internal/storage"
	"github.com/evigraph/backend/internal/util"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	"codeberg.org/readeck/go-readability/v2"
)

// A strategy is accepted only when it yields more than this many characters;
// shorter responses are usually error pages or abstracts echoed back.
const fullTextMinChars = 1000

type fullTextStrategy struct {
	name string
	fn   func(ctx context.Context, paper *common.Paper) (string, error)
}

// FetchFullText resolves the full text of a paper by trying an ordered list
// of retrieval strategies and stopping at the first usable result. The
// outcome, text or exhaustion, is cached per paper id so repeated runs do
// not re-walk the strategy list.
func (c *Client) FetchFullText(ctx context.Context, paper *common.Paper) (string, bool) {
	if outcome, ok := c.cache.GetFullText(paper.ID); ok {
		if outcome.Exhausted {
			return "", false
		}
		return outcome.Text, true
	}

	strategies := []fullTextStrategy{
		{name: "document-xml", fn: c.fullTextDocumentXML},
		{name: "archive-xml", fn: c.fullTextArchiveXML},
		{name: "bioc-json", fn: c.fullTextBioC},
		{name: "s3-archive", fn: c.fullTextS3},
		{name: "publisher-html", fn: c.fullTextPublisherHTML},
	}

	for _, strategy := range strategies {
		text, err := strategy.fn(ctx, paper)
		if err != nil {
			logger.Debug("[Literature] Full-text strategy failed", "id", paper.ID, "strategy", strategy.name, "error", err)
			continue
		}
		if len(text) <= fullTextMinChars {
			logger.Debug("[Literature] Full-text strategy too short", "id", paper.ID, "strategy", strategy.name, "chars", len(text))
			continue
		}

		c.cache.SetFullText(paper.ID, &fullTextOutcome{Text: text})
		logger.Info("[Literature] Full text resolved", "id", paper.ID, "strategy", strategy.name, "chars", len(text))
		return text, true
	}

	c.cache.SetFullText(paper.ID, &fullTextOutcome{Exhausted: true})
	logger.Debug("[Literature] Full-text strategies exhausted", "id", paper.ID)
	return "", false
}

func (c *Client) fullTextDocumentXML(ctx context.Context, paper *common.Paper) (string, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(paper.ID) + "/fullTextXML"
	body, err := util.RetryWithBackoff(ctx, 2, fetchBaseDelay, func(ctx context.Context) ([]byte, error) {
		return c.getBody(ctx, endpoint)
	})
	if err != nil {
		return "", err
	}
	return xmlToText(body)
}

func (c *Client) fullTextArchiveXML(ctx context.Context, paper *common.Paper) (string, error) {
	if c.archiveURL == "" {
		return "", fmt.Errorf("no archive endpoint configured")
	}
	endpoint := c.archiveURL + "/" + url.PathEscape(paper.ID) + "/unicode"
	body, err := util.RetryWithBackoff(ctx, 2, fetchBaseDelay, func(ctx context.Context) ([]byte, error) {
		return c.getBody(ctx, endpoint)
	})
	if err != nil {
		return "", err
	}
	return xmlToText(body)
}

type biocResponse struct {
	Documents []struct {
		Passages []struct {
			Text string `json:"text"`
		} `json:"passages"`
	} `json:"documents"`
}

func (c *Client) fullTextBioC(ctx context.Context, paper *common.Paper) (string, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(paper.ID) + "/bioc?format=json"
	body, err := util.RetryWithBackoff(ctx, 2, fetchBaseDelay, func(ctx context.Context) ([]byte, error) {
		return c.getBody(ctx, endpoint)
	})
	if err != nil {
		return "", err
	}

	var parsed biocResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse bioc response: %w", err)
	}

	var builder strings.Builder
	for _, doc := range parsed.Documents {
		for _, passage := range doc.Passages {
			if passage.Text == "" {
				continue
			}
			builder.WriteString(passage.Text)
			builder.WriteString("\n")
		}
	}
	return builder.String(), nil
}

func (c *Client) fullTextS3(ctx context.Context, paper *common.Paper) (string, error) {
	if c.s3Client == nil {
		return "", fmt.Errorf("no archival bucket configured")
	}
	data, err := storage.GetFile(ctx, c.s3Client, "fulltext/"+paper.ID+".xml")
	if err != nil {
		return "", err
	}
	return xmlToText(data)
}

func (c *Client) fullTextPublisherHTML(ctx context.Context, paper *common.Paper) (string, error) {
	if c.landingURL == "" {
		return "", fmt.Errorf("no landing page endpoint configured")
	}
	endpoint := c.landingURL + "/" + url.PathEscape(paper.ID)
	body, err := c.getBody(ctx, endpoint)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse landing url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return "", fmt.Errorf("failed to render article text: %w", err)
	}
	return builder.String(), nil
}

// xmlToText extracts the character data of an XML document, dropping tags
// and collapsing runs of whitespace.
func xmlToText(data []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	decoder.Strict = false

	var builder strings.Builder
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if chars, ok := token.(xml.CharData); ok {
			text := strings.TrimSpace(string(chars))
			if text == "" {
				continue
			}
			builder.WriteString(text)
			builder.WriteString(" ")
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("no text content in xml document")
	}
	return text, nil
}
