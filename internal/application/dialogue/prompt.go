package dialogue

import (
	"fmt"
	"strings"

	"book-dialogue-api/internal/domain/entity"
)

// Citation 注入到提示词的一段书籍原文
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
	Seq     int    `json:"seq"`
}

// BuildSystemPrompt 按对话目标构造 system 提示词。
// 书籍对话以"这本书"的口吻回答，角色对话以角色人设回答，
// 召回的原文片段作为引用材料附在提示词尾部。
func BuildSystemPrompt(book *entity.Book, character *entity.Character, citations []Citation) string {
	var b strings.Builder

	if character != nil {
		fmt.Fprintf(&b, "你是《%s》中的角色「%s」。", book.Title, character.Name)
		if character.Persona != "" {
			b.WriteString("\n人设设定：\n")
			b.WriteString(strings.TrimSpace(character.Persona))
		}
		b.WriteString("\n始终以这个角色的身份、语气和立场回答，不要跳出角色。")
	} else {
		fmt.Fprintf(&b, "你是书籍《%s》（作者：%s）的化身。", book.Title, book.Author)
		if book.Description != "" {
			b.WriteString("\n内容简介：\n")
			b.WriteString(strings.TrimSpace(book.Description))
		}
		b.WriteString("\n以这本书的视角回答读者的问题，回答要忠于书中内容。")
	}

	if len(citations) > 0 {
		b.WriteString("\n\n以下是与当前问题相关的书中原文片段，回答时优先依据这些材料：\n")
		for i, c := range citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(c.Text))
		}
	}

	b.WriteString("\n如果书中没有相关内容，坦率说明，不要编造。")
	return b.String()
}
