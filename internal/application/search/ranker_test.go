package search

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book-dialogue-api/internal/domain/entity"
)

func leadershipCatalog() []Candidate {
	return []Candidate{
		{
			Book: &entity.Book{
				ID: "b-001", Title: "领导力21法则", Category: "management",
				Tags: pq.StringArray{"领导力", "管理"}, Published: true, DialogueCount: 500,
			},
			Similarity: 0.82,
		},
		{
			Book: &entity.Book{
				ID: "b-002", Title: "可复制的领导力", Category: "management",
				Tags: pq.StringArray{"领导力", "职场"}, Published: true, DialogueCount: 320,
			},
			Similarity: 0.78,
		},
		{
			Book: &entity.Book{
				ID: "b-003", Title: "高效能人士的七个习惯", Category: "management",
				Tags: pq.StringArray{"自我提升"}, Published: true, DialogueCount: 900,
			},
			Similarity: 0.71,
		},
		{
			Book: &entity.Book{
				ID: "b-004", Title: "三体", Category: "scifi",
				Tags: pq.StringArray{"科幻"}, Published: true, DialogueCount: 2000,
			},
			Similarity: 0.31,
		},
		{
			Book: &entity.Book{
				ID: "b-005", Title: "小王子", Category: "fiction",
				Tags: pq.StringArray{"童话"}, Published: true, DialogueCount: 1500,
			},
			Similarity: 0.22,
		},
	}
}

func TestRankerLeadershipQuery(t *testing.T) {
	r := NewRanker()
	ranked := r.Rank("如何提高领导力", "", "", leadershipCatalog())
	require.Len(t, ranked, 5)

	// 前三名都应是管理类书籍且得分显著高于无关书籍
	for i := 0; i < 3; i++ {
		assert.Equal(t, "management", ranked[i].Book.Category, "position %d", i)
		assert.Greater(t, ranked[i].Score, 70.0, "position %d", i)
	}
	assert.Equal(t, "b-001", ranked[0].Book.ID)

	// 无关书籍不应混入前排
	assert.Less(t, ranked[3].Score, 50.0)
	assert.Less(t, ranked[4].Score, 50.0)
}

func TestRankerDeterministic(t *testing.T) {
	r := NewRanker()
	first := r.Rank("如何提高领导力", "", "", leadershipCatalog())
	for i := 0; i < 10; i++ {
		again := r.Rank("如何提高领导力", "", "", leadershipCatalog())
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Book.ID, again[j].Book.ID)
			assert.InDelta(t, first[j].Score, again[j].Score, 1e-9)
		}
	}
}

func TestRankerScoresNonIncreasing(t *testing.T) {
	r := NewRanker()
	ranked := r.Rank("领导力", "", "", leadershipCatalog())
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score+scoreEpsilon, ranked[i].Score)
	}
}

func TestRankerTieBreak(t *testing.T) {
	r := NewRanker()
	candidates := []Candidate{
		{Book: &entity.Book{ID: "b-b", Category: "fiction", Published: true, DialogueCount: 10}, Similarity: 0.5},
		{Book: &entity.Book{ID: "b-a", Category: "fiction", Published: true, DialogueCount: 10}, Similarity: 0.5},
		{Book: &entity.Book{ID: "b-c", Category: "fiction", Published: true, DialogueCount: 99}, Similarity: 0.5},
	}

	ranked := r.Rank("完全不相关的查询", "", "", candidates)
	require.Len(t, ranked, 3)

	// 等分时对话数多者在前，再按 ID 升序
	assert.Equal(t, "b-c", ranked[0].Book.ID)
	assert.Equal(t, "b-a", ranked[1].Book.ID)
	assert.Equal(t, "b-b", ranked[2].Book.ID)
}

func TestRankerCategoryDampening(t *testing.T) {
	r := NewRanker()
	candidates := []Candidate{
		{Book: &entity.Book{ID: "b-in", Category: "history", Published: true}, Similarity: 0.6},
		{Book: &entity.Book{ID: "b-out", Category: "scifi", Published: true}, Similarity: 0.6},
	}

	ranked := r.Rank("某个查询", "", "history", candidates)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b-in", ranked[0].Book.ID)
	assert.InDelta(t, ranked[1].Score, ranked[0].Score*categoryDampenFactor, 1e-9)
}

func TestRankerKeywordBonusCapped(t *testing.T) {
	r := NewRanker()
	book := &entity.Book{
		ID: "b-kw", Title: "领导力 管理 沟通 激励 团队 授权", Category: "management",
		Tags: pq.StringArray{"领导力", "管理", "沟通", "激励", "团队", "授权"}, Published: true,
	}

	ranked := r.Rank("领导力 管理 沟通 激励 团队 授权", "", "", []Candidate{{Book: book, Similarity: 0.5}})
	require.Len(t, ranked, 1)

	// 命中再多也不超过封顶加分
	assert.LessOrEqual(t, ranked[0].Score, 50.0+keywordBonusCap+1e-9)
}

func TestRankerScoreClamped(t *testing.T) {
	r := NewRanker()
	book := &entity.Book{ID: "b-max", Title: "领导力", Category: "management", Published: true}

	ranked := r.Rank("领导力", "", "", []Candidate{{Book: book, Similarity: 1.2}})
	require.Len(t, ranked, 1)
	assert.LessOrEqual(t, ranked[0].Score, 100.0)
	assert.GreaterOrEqual(t, ranked[0].Score, 0.0)
}

func TestRankerAuthorQueryType(t *testing.T) {
	r := NewRanker()
	candidates := []Candidate{
		{Book: &entity.Book{ID: "b-by", Title: "围城", Author: "钱锺书", Published: true}, Similarity: 0.5},
		{Book: &entity.Book{ID: "b-about", Title: "钱锺书传", Author: "某传记作者", Published: true}, Similarity: 0.5},
	}

	ranked := r.Rank("钱锺书", QueryTypeAuthor, "", candidates)
	require.Len(t, ranked, 2)

	// author 意图只匹配作者字段，书名里出现作者名不加分
	assert.Equal(t, "b-by", ranked[0].Book.ID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankerTitleQueryTypeIgnoresTags(t *testing.T) {
	r := NewRanker()
	candidates := []Candidate{
		{Book: &entity.Book{ID: "b-title", Title: "三体", Published: true}, Similarity: 0.5},
		{
			Book: &entity.Book{
				ID: "b-tag", Title: "别的书名", Tags: pq.StringArray{"三体"}, Published: true,
			},
			Similarity: 0.5,
		},
	}

	ranked := r.Rank("三体", QueryTypeTitle, "", candidates)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b-title", ranked[0].Book.ID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestTokenizeMixedScript(t *testing.T) {
	tokens := tokenize("Go 语言编程 guide")

	assert.Contains(t, tokens, "go")
	assert.Contains(t, tokens, "guide")
	assert.Contains(t, tokens, "语言")
	assert.Contains(t, tokens, "言编")
	assert.Contains(t, tokens, "编程")
	// 单个 CJK 字符不成词
	assert.NotContains(t, tokens, "语")
}
