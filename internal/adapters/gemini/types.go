package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// Text concatenates every part the way the Gemini SDKs do.
func (c content) Text() string {
	var builder strings.Builder
	for _, p := range c.Parts {
		builder.WriteString(p.Text)
	}
	return builder.String()
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type usageMetadata struct {
	PromptTokens     int32 `json:"promptTokenCount,omitempty"`
	CandidatesTokens int32 `json:"candidatesTokenCount,omitempty"`
	TotalTokens      int32 `json:"totalTokenCount,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

func (r generateResponse) firstCandidate() *candidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("gemini api error %d (%s): %s", apiErr.Error.Code, apiErr.Error.Status, apiErr.Error.Message)
	}
	return fmt.Errorf("gemini api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
