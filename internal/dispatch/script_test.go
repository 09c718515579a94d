package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestBuildCreateCall_SavedAssistant(t *testing.T) {
	t.Parallel()

	req := request(0)
	req.ServiceRequestID = "req-9"
	out := BuildCreateCall(req, AssistantConfig{PhoneNumberID: "pn-1", AssistantID: "asst-1"})

	assert.Equal(t, "pn-1", out.PhoneNumberID)
	assert.Equal(t, "asst-1", out.AssistantID)
	assert.Nil(t, out.Assistant)
	assert.Equal(t, "+15125550000", out.Customer.Number)
	assert.Equal(t, "req-9", out.Metadata[MetaServiceRequestID])
}

func TestBuildCreateCall_InlineAssistant(t *testing.T) {
	t.Parallel()

	req := model.CallRequest{
		ProviderName:  "Ace Plumbing",
		ProviderPhone: "+15125550100",
		ServiceNeeded: "water heater repair",
		UserCriteria:  "licensed, available this week",
		Location:      "Austin, TX",
		Urgency:       model.UrgencyImmediate,
	}
	out := BuildCreateCall(req, AssistantConfig{ServerURL: "https://example.test/webhook/voice"})

	require.NotNil(t, out.Assistant)
	assert.Empty(t, out.AssistantID)
	assert.Equal(t, "openai", out.Assistant.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", out.Assistant.Model.Model)
	assert.Equal(t, 180, out.Assistant.MaxDurationSeconds)
	assert.Equal(t, "https://example.test/webhook/voice", out.Assistant.ServerURL)
	require.Len(t, out.Assistant.Model.Messages, 1)

	prompt := out.Assistant.Model.Messages[0].Content
	assert.Contains(t, prompt, "Ace Plumbing")
	assert.Contains(t, prompt, "in Austin, TX")
	assert.Contains(t, prompt, "as soon as possible")
	assert.Contains(t, prompt, "licensed, available this week")
}

func TestBuildCreateCall_CustomPromptOverridesAssistantID(t *testing.T) {
	t.Parallel()

	req := request(0)
	req.CustomPrompt = "Ask only about weekend rates."
	out := BuildCreateCall(req, AssistantConfig{AssistantID: "asst-1", Model: "gpt-4o"})

	require.NotNil(t, out.Assistant)
	assert.Empty(t, out.AssistantID)
	assert.Equal(t, "gpt-4o", out.Assistant.Model.Model)
	assert.Equal(t, "Ask only about weekend rates.", out.Assistant.Model.Messages[0].Content)
}
