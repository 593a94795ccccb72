package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByRunesShortText(t *testing.T) {
	assert.Nil(t, SplitByRunes("", 100, 10))
	assert.Nil(t, SplitByRunes("   ", 100, 10))
	assert.Equal(t, []string{"短文本"}, SplitByRunes("短文本", 100, 10))
}

func TestSplitByRunesWindowAndOverlap(t *testing.T) {
	text := strings.Repeat("字", 25)
	chunks := SplitByRunes(text, 10, 3)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}

	// 步长 = 10 - 3 = 7：起点 0/7/14/21
	assert.Len(t, chunks, 4)
	assert.Equal(t, 10, len([]rune(chunks[0])))
	assert.Equal(t, 4, len([]rune(chunks[3])))
}

func TestSplitByRunesNoOverlapWhenStepInvalid(t *testing.T) {
	text := strings.Repeat("字", 30)
	// overlap >= max 时退化为无重叠切分
	chunks := SplitByRunes(text, 10, 10)
	assert.Len(t, chunks, 3)
}

func TestSplitByRunesMultiByteSafety(t *testing.T) {
	text := strings.Repeat("汉𐍈é", 40)
	chunks := SplitByRunes(text, 16, 4)

	// 切分点落在 rune 边界上，拼回后不产生乱码
	for _, c := range chunks {
		assert.True(t, strings.ContainsAny(c, "汉𐍈é"))
	}
}

func TestSplitBookAssignsSequence(t *testing.T) {
	text := strings.Repeat("内容", 100)
	chunks := SplitBook("book-1", text, 20, 5)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, "book-1", c.BookID)
		assert.Equal(t, i, c.Seq)
		assert.NotEmpty(t, c.Text)
	}
}
