package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(14)},
	}
}

func TestBedrockCompleteMapsRolesAndUsage(t *testing.T) {
	api := &fakeConverse{out: textOutput("  [] ")}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), Request{
		Model:  "anthropic.claude-3-haiku",
		System: []string{"extract entities"},
		Messages: []Message{
			{Role: RoleSystem, Content: "catalog: Grote friet"},
			{Role: RoleUser, Content: "twee grote friet"},
		},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "[]" || resp.Usage.TotalTokens != 14 || resp.StopReason != "end_turn" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(api.input.System) != 2 || len(api.input.Messages) != 1 {
		t.Fatalf("system=%d messages=%d", len(api.input.System), len(api.input.Messages))
	}
	if aws.ToFloat32(api.input.InferenceConfig.Temperature) != 0 {
		t.Fatal("expected explicit zero temperature")
	}
}

func TestBedrockRequiresModel(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{})
	if _, err := client.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error without model id")
	}
}

func TestBedrockRejectsUnknownRole(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{out: textOutput("x")})
	_, err := client.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "tool", Content: "x"}}})
	if err == nil {
		t.Fatal("expected unsupported role error")
	}
}

type stubClient struct {
	resp  Response
	err   error
	calls int
}

func (s *stubClient) Complete(context.Context, Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestFallbackClient(t *testing.T) {
	primary := &stubClient{err: errors.New("throttled")}
	fallback := &stubClient{resp: Response{Text: "ok"}}
	client := NewFallbackClient(primary, fallback, logging.Discard())

	resp, err := client.Complete(context.Background(), Request{})
	if err != nil || resp.Text != "ok" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestFallbackClientSkipsFallbackAfterDeadline(t *testing.T) {
	primary := &stubClient{err: context.DeadlineExceeded}
	fallback := &stubClient{resp: Response{Text: "late"}}
	client := NewFallbackClient(primary, fallback, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Complete(ctx, Request{}); err == nil {
		t.Fatal("expected primary error to surface")
	}
	if fallback.calls != 0 {
		t.Fatal("fallback must not run once the context is done")
	}
}
