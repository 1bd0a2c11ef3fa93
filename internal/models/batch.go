package models

import "encoding/json"

// Counts are the per type rollups of a navigation batch's children.
type Counts struct {
	HTTPRequests            int `json:"httpRequestCount"`
	HTTPResponses           int `json:"httpResponseCount"`
	HTTPRedirects           int `json:"httpRedirectCount"`
	JavascriptOperations    int `json:"javascriptOperationCount"`
	JavascriptCookieRecords int `json:"javascriptCookieRecordCount"`
}

// CountEnvelopes derives rollup counts from envelope types.
func CountEnvelopes(envelopes []Envelope) Counts {
	var c Counts
	for _, env := range envelopes {
		c.add(env.Type)
	}
	return c
}

func (c *Counts) add(t Type) {
	switch t {
	case TypeHTTPRequest:
		c.HTTPRequests++
	case TypeHTTPResponse:
		c.HTTPResponses++
	case TypeHTTPRedirect:
		c.HTTPRedirects++
	case TypeJavascriptOperation:
		c.JavascriptOperations++
	case TypeJavascriptCookieRecord:
		c.JavascriptCookieRecords++
	case TypeNavigation, TypeLogEntry, TypeCapturedContent,
		TypeNavigationBatch, TypeTrimmedNavigationBatch:
		// not batch children
	}
}

// Total is the number of counted children.
func (c Counts) Total() int {
	return c.HTTPRequests + c.HTTPResponses + c.HTTPRedirects +
		c.JavascriptOperations + c.JavascriptCookieRecords
}

// NavigationBatch is one browsing episode: a navigation and the tab
// activity observed after it, in arrival order.
type NavigationBatch struct {
	NavigationEnvelope Envelope   `json:"navigationEnvelope"`
	ChildEnvelopes     []Envelope `json:"childEnvelopes"`
	Counts
}

func NewNavigationBatch(navigation Envelope, children ...Envelope) NavigationBatch {
	b := NavigationBatch{
		NavigationEnvelope: navigation,
		ChildEnvelopes:     make([]Envelope, 0, len(children)),
	}
	b.Append(children...)
	return b
}

// Append adds children and updates the rollups with them.
func (b *NavigationBatch) Append(children ...Envelope) {
	for _, child := range children {
		b.ChildEnvelopes = append(b.ChildEnvelopes, child)
		b.Counts.add(child.Type)
	}
}

// Trim returns the batch restricted to its first n children. The result
// keeps the original rollups and shares nothing with b.
func (b NavigationBatch) Trim(n int) TrimmedNavigationBatch {
	n = max(0, min(n, len(b.ChildEnvelopes)))
	prefix := make([]Envelope, n)
	for i := range prefix {
		prefix[i] = b.ChildEnvelopes[i].Clone()
	}
	return TrimmedNavigationBatch{
		NavigationBatch: NavigationBatch{
			NavigationEnvelope: b.NavigationEnvelope.Clone(),
			ChildEnvelopes:     prefix,
			Counts:             b.Counts,
		},
		TrimmedCounts: CountEnvelopes(prefix),
	}
}

// TrimmedNavigationBatch is a size reduced NavigationBatch. Counts
// describe the original batch, TrimmedCounts the retained children.
type TrimmedNavigationBatch struct {
	NavigationBatch
	TrimmedCounts Counts
}

type trimmedCounts struct {
	HTTPRequests            int `json:"trimmedHttpRequestCount"`
	HTTPResponses           int `json:"trimmedHttpResponseCount"`
	HTTPRedirects           int `json:"trimmedHttpRedirectCount"`
	JavascriptOperations    int `json:"trimmedJavascriptOperationCount"`
	JavascriptCookieRecords int `json:"trimmedJavascriptCookieRecordCount"`
}

func (b TrimmedNavigationBatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		NavigationBatch
		trimmedCounts
	}{b.NavigationBatch, trimmedCounts(b.TrimmedCounts)})
}
