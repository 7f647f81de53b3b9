package recognition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/docuconvert/internal/models"
)

var (
	centerWrapper = regexp.MustCompile(`(?i)<div style="text-align: center;">|</div>`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// NormalizePage strips the centering wrapper the service emits around figures
// and collapses runs of blank lines to a single blank line.
func NormalizePage(text string) string {
	text = centerWrapper.ReplaceAllString(text, "")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

type envelope struct {
	Result *struct {
		LayoutParsingResults *[]json.RawMessage `json:"layoutParsingResults"`
	} `json:"result"`
}

type layoutPage struct {
	Markdown *struct {
		Text   *string           `json:"text"`
		Images map[string]string `json:"images"`
	} `json:"markdown"`
}

// parseResponse converts a successful response body into ordered page
// fragments and the merged asset map. Missing fields are malformed responses.
func parseResponse(body []byte) (models.RecognitionResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.RecognitionResult{}, malformed("response is not valid JSON", err)
	}
	if env.Result == nil {
		return models.RecognitionResult{}, malformed("response has no result", nil)
	}
	if env.Result.LayoutParsingResults == nil {
		return models.RecognitionResult{}, malformed("result has no layoutParsingResults", nil)
	}

	pages := *env.Result.LayoutParsingResults
	result := models.RecognitionResult{
		Fragments: make([]models.PageFragment, 0, len(pages)),
		Assets:    make(map[string]string),
	}
	for i, raw := range pages {
		var page layoutPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return models.RecognitionResult{}, malformed(fmt.Sprintf("page %d is not an object", i), err)
		}
		if page.Markdown == nil {
			return models.RecognitionResult{}, malformed(fmt.Sprintf("page %d has no markdown", i), nil)
		}
		if page.Markdown.Text == nil {
			return models.RecognitionResult{}, malformed(fmt.Sprintf("page %d has no markdown.text", i), nil)
		}
		result.Fragments = append(result.Fragments, models.PageFragment{
			Index:        i,
			MarkdownText: NormalizePage(*page.Markdown.Text),
		})
		for rel, url := range page.Markdown.Images {
			rel = strings.TrimSpace(rel)
			if rel == "" {
				continue
			}
			if _, seen := result.Assets[rel]; !seen {
				result.Assets[rel] = url
			}
		}
	}
	return result, nil
}

func malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Message: "malformed recognition response: " + msg, Err: err}
}
