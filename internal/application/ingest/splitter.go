// Package ingest 实现书籍内容摄取：切块、向量化、写入向量库并发布书籍
package ingest

import "strings"

// Chunk 切分出的一段书籍原文
type Chunk struct {
	BookID string
	Seq    int
	Text   string
}

// SplitByRunes 按 rune 窗口切分文本，相邻块之间保留 overlap 个 rune 的重叠
func SplitByRunes(s string, maxRunes, overlapRunes int) []string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil
	}
	if maxRunes <= 0 {
		return []string{raw}
	}
	if overlapRunes < 0 {
		overlapRunes = 0
	}
	runes := []rune(raw)
	if len(runes) <= maxRunes {
		return []string{raw}
	}
	step := maxRunes - overlapRunes
	if step <= 0 {
		step = maxRunes
	}

	out := make([]string, 0, (len(runes)/step)+1)
	for start := 0; start < len(runes); start += step {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end >= len(runes) {
			break
		}
	}
	return out
}

// SplitBook 把整本书的正文切分成带序号的块
func SplitBook(bookID, content string, maxRunes, overlapRunes int) []Chunk {
	parts := SplitByRunes(content, maxRunes, overlapRunes)
	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{BookID: bookID, Seq: i, Text: p})
	}
	return chunks
}
