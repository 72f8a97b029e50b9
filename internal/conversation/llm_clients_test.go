package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

type fakeConverseAPI struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func converseText(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(300),
			OutputTokens: aws.Int32(40),
			TotalTokens:  aws.Int32(340),
		},
	}
}

func TestBedrockLLMClientComplete(t *testing.T) {
	api := &fakeConverseAPI{out: converseText("  Olá!  ")}
	client := NewBedrockLLMClient(api, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System: []string{"be brief", " "},
		Messages: []ChatMessage{
			{Role: ChatRoleSystem, Content: "extra system"},
			{Role: ChatRoleUser, Content: "oi"},
			{Role: ChatRoleAssistant, Content: "   "},
		},
		MaxTokens:   800,
		Temperature: 0.4,
	})

	require.NoError(t, err)
	assert.Equal(t, "Olá!", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(340), resp.Usage.Total())

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 2)
	require.Len(t, api.input.Messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, api.input.Messages[0].Role)
	assert.Equal(t, int32(800), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
	assert.Equal(t, "bedrock", client.Provider())
}

func TestBedrockLLMClientErrors(t *testing.T) {
	boom := errors.New("ThrottlingException")
	client := NewBedrockLLMClient(&fakeConverseAPI{err: boom}, "model")

	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "oi"}}})
	assert.ErrorIs(t, err, boom)

	_, err = client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "  "}}})
	assert.Error(t, err)

	_, err = NewBedrockLLMClient(&fakeConverseAPI{out: converseText("x")}, "").Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "oi"}}})
	assert.Error(t, err, "model id required")

	_, err = NewBedrockLLMClient(&fakeConverseAPI{out: converseText("   ")}, "m").Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "oi"}}})
	assert.Error(t, err, "empty text is an error")
}

type namedLLM struct {
	name  string
	text  string
	err   error
	calls int
}

func (n *namedLLM) Provider() string { return n.name }

func (n *namedLLM) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	n.calls++
	if n.err != nil {
		return LLMResponse{}, n.err
	}
	return LLMResponse{Text: n.text}, nil
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &namedLLM{name: "gemini", err: errors.New("503")}
	secondary := &namedLLM{name: "bedrock", text: "from fallback"}
	client := NewFallbackLLMClient(primary, secondary, logging.Discard())

	resp, err := client.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, "gemini+bedrock", client.Provider())

	primary.err = nil
	primary.text = "from primary"
	resp, err = client.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", resp.Text)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackLLMClientStopsWhenContextDone(t *testing.T) {
	primary := &namedLLM{name: "gemini", err: context.Canceled}
	secondary := &namedLLM{name: "bedrock", text: "late"}
	client := NewFallbackLLMClient(primary, secondary, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, LLMRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, secondary.calls)
}

func TestFallbackLLMClientWithoutSecondary(t *testing.T) {
	boom := errors.New("down")
	client := NewFallbackLLMClient(&namedLLM{name: "gemini", err: boom}, nil, nil)

	_, err := client.Complete(context.Background(), LLMRequest{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "gemini", client.Provider())
}
