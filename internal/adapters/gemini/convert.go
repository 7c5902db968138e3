package gemini

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncecere/codegen_gateway/internal/models"
)

// buildGenerateRequest turns an ordered conversation into chat history. Gemini has no
// system role, so system turns are sent as user turns in place. The final empty user
// turn is the "send": the history already carries the prompt.
func buildGenerateRequest(messages []models.ChatMessage) (generateRequest, error) {
	if len(messages) == 0 {
		return generateRequest{}, errors.New("gemini: at least one message is required")
	}

	contents := make([]content, 0, len(messages)+1)
	for _, msg := range messages {
		contents = append(contents, content{
			Role:  mapRole(msg.Role),
			Parts: []part{{Text: msg.Content}},
		})
	}
	contents = append(contents, content{Role: roleUser, Parts: []part{{Text: ""}}})

	return generateRequest{Contents: contents}, nil
}

func mapRole(role string) string {
	switch strings.ToLower(role) {
	case models.RoleAssistant, roleModel:
		return roleModel
	default:
		return roleUser
	}
}

func convertResponse(resp generateResponse, model string) (models.Completion, error) {
	cand := resp.firstCandidate()
	if cand == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return models.Completion{}, fmt.Errorf("gemini: prompt blocked (%s)", resp.PromptFeedback.BlockReason)
		}
		return models.Completion{}, errors.New("gemini: response missing candidates")
	}

	text := cand.Content.Text()
	if text == "" && !finishedNormally(cand.FinishReason) {
		return models.Completion{}, fmt.Errorf("gemini: candidate blocked (%s)", cand.FinishReason)
	}

	completion := models.Completion{
		Message: models.ChatMessage{Role: models.RoleAssistant, Content: text},
		Model:   model,
	}
	if resp.ModelVersion != "" {
		completion.Model = resp.ModelVersion
	}
	if usage := resp.UsageMetadata; usage != nil {
		completion.Usage = models.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CandidatesTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return completion, nil
}

// finishedNormally reports whether an empty candidate is still a usable reply.
func finishedNormally(reason string) bool {
	switch reason {
	case "", "STOP", "MAX_TOKENS", "FINISH_REASON_UNSPECIFIED":
		return true
	default:
		return false
	}
}
