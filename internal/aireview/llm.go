// Package aireview runs the LLM-driven analysis passes over a lease
// document set: encumbrance review, ownership review, deposit review,
// and the final per-section summary.
package aireview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "당신은 한국 부동산 임대차 계약 서류를 검토하는 전문가입니다. 계약서, 건축물대장, 등기부등본을 비교하여 임차인이 주의해야 할 위험 요소를 찾아냅니다. 반드시 유효한 JSON만으로 응답하십시오."

type llmFailureClass int

const (
	failureNone llmFailureClass = iota
	failureParse
	failureSchema
	failureEmpty
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

type LLMCaller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func NewAnthropicCaller(apiKey string) *AnthropicCaller {
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// PassMetrics records how much work one analysis pass took.
type PassMetrics struct {
	Attempts       int
	ContentRetries int
}

type PassExecutor struct {
	caller LLMCaller
}

func NewPassExecutor(caller LLMCaller) *PassExecutor {
	return &PassExecutor{caller: caller}
}

// Run prompts the model up to three times, re-prompting with feedback
// on empty, unparseable, or schema-invalid replies and backing off on
// transient transport failures.
func (e *PassExecutor) Run(ctx context.Context, passName, prompt string, out any, validate func() error) (PassMetrics, error) {
	metrics := PassMetrics{}
	feedback := ""
	for attempt := 1; attempt <= 3; attempt++ {
		metrics.Attempts = attempt
		fullPrompt := prompt + "\n\n반드시 스키마에 맞는 유효한 JSON만으로 응답하십시오."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.caller.GenerateJSON(ctx, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < 3 {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return metrics, fmt.Errorf("%s transport failure: %w", passName, err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "이전 응답이 비어 있었습니다. 유효한 JSON으로 응답하십시오."
				continue
			}
			return metrics, fmt.Errorf("%s failed: empty response", passName)
		}

		clean := stripCodeFences(raw)
		// json.Unmarshal merges into non-nil maps, so a rejected
		// attempt's keys would survive into the next decode. Every
		// attempt starts from the zero value.
		resetValue(out)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "이전 응답이 유효한 JSON이 아니었습니다. JSON만으로 다시 응답하십시오."
				continue
			}
			return metrics, fmt.Errorf("%s failed json parse: %w", passName, err)
		}
		if err := validate(); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = fmt.Sprintf("이전 응답이 검증에 실패했습니다: %s. 문제를 수정하여 다시 응답하십시오.", err)
				continue
			}
			return metrics, fmt.Errorf("%s failed validation: %w", passName, err)
		}
		return metrics, nil
	}
	return metrics, fmt.Errorf("%s failed after retries", passName)
}

func resetValue(out any) {
	rv := reflect.ValueOf(out)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) llmFailureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, " 5") || strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, " 4") || strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
