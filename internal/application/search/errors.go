package search

import "errors"

var (
	// ErrEmptyQuery 查询归一化后为空
	ErrEmptyQuery = errors.New("search: query is empty")
	// ErrQueryTooLong 查询超过最大长度
	ErrQueryTooLong = errors.New("search: query exceeds max length")
	// ErrInvalidQueryType 查询意图不在支持范围内
	ErrInvalidQueryType = errors.New("search: unsupported query type")
)
