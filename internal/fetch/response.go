// Package fetch retrieves the monitored account's recent posts through a
// FlareSolverr anti-bot challenge solver.
//
// The solver returns whatever the upstream served: sometimes raw JSON,
// sometimes JSON wrapped in an HTML document. The Response abstraction hides
// that difference from callers.
package fetch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Response exposes a fetched body as parsed JSON or raw text.
type Response interface {
	// DecodeJSON unmarshals the response body into v.
	DecodeJSON(v any) error

	// RawText returns the body as served, without any extraction.
	RawText() string
}

// directResponse wraps a body that is already plain JSON.
type directResponse struct {
	body []byte
}

// NewDirectResponse wraps a raw JSON body.
func NewDirectResponse(body []byte) Response {
	return directResponse{body: body}
}

func (r directResponse) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

func (r directResponse) RawText() string {
	return string(r.body)
}

// solverResponse wraps a solver-proxied body. The upstream JSON may arrive
// wrapped in an HTML page; in that case it is extracted from the first
// literal <pre> block.
type solverResponse struct {
	content string
}

// NewSolverResponse wraps a body returned by the challenge solver.
func NewSolverResponse(content string) Response {
	return solverResponse{content: content}
}

func (r solverResponse) DecodeJSON(v any) error {
	if err := json.Unmarshal([]byte(r.content), v); err == nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.content))
	if err != nil {
		return fmt.Errorf("solver response is neither JSON nor parseable HTML: %w", err)
	}
	pre := doc.Find("pre").First()
	if pre.Length() == 0 {
		return fmt.Errorf("no <pre> block found in solver HTML response")
	}
	if err := json.Unmarshal([]byte(pre.Text()), v); err != nil {
		return fmt.Errorf("failed to decode JSON from <pre> block: %w", err)
	}
	return nil
}

func (r solverResponse) RawText() string {
	return r.content
}
