package search

import (
	"sort"
	"strings"
	"unicode"

	"book-dialogue-api/internal/domain/entity"
)

const (
	// 关键词命中加分的上限
	keywordBonusCap = 15.0
	// 单个关键词命中的加分
	keywordBonusPerHit = 5.0
	// 请求了分类但书籍不属于该分类时的降权系数
	categoryDampenFactor = 0.6
	// 分数比较的等值容差
	scoreEpsilon = 1e-6
)

// Candidate 重排输入：召回相似度 + 已水合的书籍实体
type Candidate struct {
	Book       *entity.Book
	Similarity float64
}

// Ranker 启发式重排器。纯函数实现，相同输入必然产生相同排序。
type Ranker struct{}

func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank 对候选集打分排序。
// 基础分 = 相似度映射到 [0,100]，叠加关键词命中加分（封顶）与分类降权，
// 等分时按累计对话数降序、书籍 ID 升序决出稳定顺序。
// queryType 决定关键词匹配的来源：title 只看书名，author 只看作者，
// question 及空值看书名加标签。
func (r *Ranker) Rank(query, queryType, category string, candidates []Candidate) []RankedBook {
	queryTokens := tokenize(query)

	ranked := make([]RankedBook, 0, len(candidates))
	for _, c := range candidates {
		if c.Book == nil {
			continue
		}
		score := r.scoreOne(queryTokens, queryType, category, c)
		ranked = append(ranked, RankedBook{
			Book:       c.Book,
			Score:      score,
			Similarity: c.Similarity,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		di := ranked[i].Score - ranked[j].Score
		if di > scoreEpsilon {
			return true
		}
		if di < -scoreEpsilon {
			return false
		}
		if ranked[i].Book.DialogueCount != ranked[j].Book.DialogueCount {
			return ranked[i].Book.DialogueCount > ranked[j].Book.DialogueCount
		}
		return ranked[i].Book.ID < ranked[j].Book.ID
	})

	return ranked
}

func (r *Ranker) scoreOne(queryTokens map[string]struct{}, queryType, category string, c Candidate) float64 {
	sim := c.Similarity
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	score := sim * 100

	score += keywordBonus(queryTokens, queryType, c.Book)

	if category != "" && c.Book.Category != category {
		score *= categoryDampenFactor
	}

	if score > 100 {
		score = 100
	}
	return score
}

// keywordBonus 统计查询词元与目标词元的重合数，目标随查询意图变化
func keywordBonus(queryTokens map[string]struct{}, queryType string, book *entity.Book) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	var target map[string]struct{}
	switch queryType {
	case QueryTypeTitle:
		target = tokenize(book.Title)
	case QueryTypeAuthor:
		target = tokenize(book.Author)
	default:
		target = tokenize(book.Title)
		for _, tag := range book.Tags {
			for t := range tokenize(tag) {
				target[t] = struct{}{}
			}
		}
	}

	hits := 0
	for t := range queryTokens {
		if _, ok := target[t]; ok {
			hits++
		}
	}

	bonus := float64(hits) * keywordBonusPerHit
	if bonus > keywordBonusCap {
		bonus = keywordBonusCap
	}
	return bonus
}

// tokenize 将文本切分为词元集合。
// 拉丁字母/数字按连续段切词并小写化，CJK 按相邻双字（bigram）切分，
// 单个 CJK 字符不成词，避免高频单字带来的噪声命中。
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	runes := []rune(strings.ToLower(text))

	var word []rune
	flushWord := func() {
		if len(word) > 0 {
			tokens[string(word)] = struct{}{}
			word = word[:0]
		}
	}

	var prevCJK rune
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r) && unicode.Is(unicode.Han, r):
			flushWord()
			if prevCJK != 0 {
				tokens[string([]rune{prevCJK, r})] = struct{}{}
			}
			prevCJK = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevCJK = 0
			word = append(word, r)
		default:
			prevCJK = 0
			flushWord()
		}
	}
	flushWord()

	return tokens
}
