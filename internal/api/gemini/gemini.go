// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gemini provides a very minimal client for interacting with Gemini
// API.
package gemini

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strings"

	"go.astrophena.name/unhook/internal/request"
	"go.astrophena.name/unhook/internal/version"
)

const (
	defaultService = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// ErrNoCandidates is returned by [Client.GenerateText] when the model returns
// no usable candidates.
var ErrNoCandidates = errors.New("gemini: no candidates in response")

// Client holds configuration for interacting with the Gemini API.
type Client struct {
	// APIKey is the API key used for authentication.
	APIKey string
	// Model is the model used for generation. Defaults to gemini-2.0-flash.
	Model string
	// Service is the API endpoint. Defaults to the public Gemini API. Used in
	// tests.
	Service string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// GenerateContentParams defines the structure for the request body sent to the
// GenerateContent API.
type GenerateContentParams struct {
	// Contents is a list of Content objects representing the input text for
	// generation.
	Contents []*Content `json:"contents"`
	// SystemInstruction is an optional Content object specifying system
	// instructions for generation.
	SystemInstruction *Content `json:"systemInstruction,omitempty"`
}

// Content represents a piece of text content with a list of Part objects.
type Content struct {
	// Parts is a list of Part objects representing the textual elements within
	// the content.
	Parts []*Part `json:"parts"`
	// Role is the producer of the content. Must be either 'user' or 'model'.
	Role string `json:"role,omitempty"`
}

// Part represents a textual element within a Content object.
type Part struct {
	// Text is the content of the textual element.
	Text string `json:"text,omitempty"`
}

// GenerateContentResponse defines the structure of the response received from
// the GenerateContent API.
type GenerateContentResponse struct {
	// Candidates is a list of Candidate objects representing the generated text
	// alternatives.
	Candidates []*Candidate `json:"candidates"`
}

// Candidate represents a generated text candidate with a corresponding Content
// object.
type Candidate struct {
	// Content is the generated text content for this candidate.
	Content *Content `json:"content"`
}

// GenerateContent sends a request to the Gemini API to generate text content.
func (c *Client) GenerateContent(ctx context.Context, params GenerateContentParams) (*GenerateContentResponse, error) {
	model := cmp.Or(c.Model, defaultModel)
	return request.Make[*GenerateContentResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    cmp.Or(c.Service, defaultService) + "/models/" + model + ":generateContent",
		Headers: map[string]string{
			"x-goog-api-key": c.APIKey,
			"User-Agent":     version.UserAgent(),
		},
		Body:       params,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
}

// GenerateText asks the model to respond to prompt, optionally guided by a
// system instruction, and returns the concatenated text of the first
// candidate.
func (c *Client) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	params := GenerateContentParams{
		Contents: []*Content{
			{
				Parts: []*Part{{Text: prompt}},
				Role:  "user",
			},
		},
	}
	if system != "" {
		params.SystemInstruction = &Content{Parts: []*Part{{Text: system}}}
	}

	resp, err := c.GenerateContent(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoCandidates
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
