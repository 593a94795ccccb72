package dialogue

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-dialogue-api/internal/domain/entity"
)

func turn(seq int, role entity.TurnRole, content string) *entity.DialogueTurn {
	return &entity.DialogueTurn{SessionID: "s-1", Seq: seq, Role: role, Content: content}
}

func TestContextWindowKeepsAllWithinBudget(t *testing.T) {
	w := NewContextWindow(1000)
	history := []*entity.DialogueTurn{
		turn(1, entity.TurnRoleUser, "这本书讲了什么"),
		turn(2, entity.TurnRoleAssistant, "这本书讲的是领导力的二十一条法则"),
	}

	result := w.Build("你是一本书", history, "第一条法则是什么")
	require.False(t, result.Truncated)
	require.Len(t, result.Messages, 4)

	assert.Equal(t, schema.System, result.Messages[0].Role)
	assert.Equal(t, schema.User, result.Messages[1].Role)
	assert.Equal(t, schema.Assistant, result.Messages[2].Role)
	// 用户当前输入永远在最后
	assert.Equal(t, schema.User, result.Messages[3].Role)
	assert.Equal(t, "第一条法则是什么", result.Messages[3].Content)
}

func TestContextWindowDropsOldestFirst(t *testing.T) {
	long := strings.Repeat("很长的一段历史内容", 10)
	w := NewContextWindow(EstimateTokens("系统") + EstimateTokens("新问题") + EstimateTokens(long) + 5)

	history := []*entity.DialogueTurn{
		turn(1, entity.TurnRoleUser, long),
		turn(2, entity.TurnRoleAssistant, long),
		turn(3, entity.TurnRoleUser, long),
	}

	result := w.Build("系统", history, "新问题")
	require.True(t, result.Truncated)

	// 预算只够一条历史：保留最新的 seq=3
	require.Len(t, result.Messages, 3)
	assert.Equal(t, long, result.Messages[1].Content)
	assert.Equal(t, schema.User, result.Messages[1].Role)
}

func TestContextWindowSystemAndInputAlwaysPresent(t *testing.T) {
	w := NewContextWindow(1)
	history := []*entity.DialogueTurn{
		turn(1, entity.TurnRoleUser, "历史内容"),
	}

	result := w.Build("系统提示", history, "当前输入")
	require.True(t, result.Truncated)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, schema.System, result.Messages[0].Role)
	assert.Equal(t, "当前输入", result.Messages[1].Content)
}

func TestEstimateTokensCJKAndLatin(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("   "))
	// CJK 每字一个 token
	assert.Equal(t, 4, EstimateTokens("领导力书"))
	// 拉丁文本约四字符一个 token
	assert.Equal(t, 3, EstimateTokens("leadership"))
	// 混排取两者之和
	assert.Equal(t, 5, EstimateTokens("Go 语言编程"))
}
