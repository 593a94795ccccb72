// Package dialogue 实现对话会话生命周期：建会话、提交轮次、流式返回与终止
package dialogue

import (
	"strings"
	"unicode"

	"github.com/cloudwego/eino/schema"

	"book-dialogue-api/internal/domain/entity"
)

// ContextWindow 装配有界的生成上下文。
// system 提示永远保留，历史轮次从最新往回填充，超出 token 预算的
// 较早轮次被整体丢弃，用户当前输入永远在最后。
type ContextWindow struct {
	tokenBudget int
}

func NewContextWindow(tokenBudget int) *ContextWindow {
	return &ContextWindow{tokenBudget: tokenBudget}
}

// BuildResult 上下文装配结果
type BuildResult struct {
	Messages []*schema.Message
	// Truncated 是否有历史轮次因预算被丢弃
	Truncated bool
	// UsedTokens 装配后的估算 token 总量
	UsedTokens int
}

// Build 在预算内装配消息序列。
// history 按 Seq 升序传入，userInput 为当前轮的用户输入。
func (w *ContextWindow) Build(systemPrompt string, history []*entity.DialogueTurn, userInput string) *BuildResult {
	sysTokens := EstimateTokens(systemPrompt)
	inputTokens := EstimateTokens(userInput)

	budget := w.tokenBudget - sysTokens - inputTokens
	if budget < 0 {
		budget = 0
	}

	// 从最新往回挑选放得下的轮次
	kept := make([]*entity.DialogueTurn, 0, len(history))
	used := 0
	truncated := false
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		cost := EstimateTokens(t.Content)
		if used+cost > budget {
			truncated = true
			break
		}
		used += cost
		kept = append(kept, t)
	}

	messages := make([]*schema.Message, 0, len(kept)+2)
	if systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	// kept 为倒序，恢复时间顺序
	for i := len(kept) - 1; i >= 0; i-- {
		t := kept[i]
		switch t.Role {
		case entity.TurnRoleAssistant:
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(t.Content))
		}
	}
	messages = append(messages, schema.UserMessage(userInput))

	return &BuildResult{
		Messages:   messages,
		Truncated:  truncated,
		UsedTokens: sysTokens + inputTokens + used,
	}
}

// EstimateTokens 估算文本的 token 数。
// CJK 字符按每字一个 token 计，其余文本按平均四个字符一个 token 折算。
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	cjk := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else if !unicode.IsSpace(r) {
			other++
		}
	}

	tokens := cjk + (other+3)/4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
