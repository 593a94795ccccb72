package milvus

import (
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// VectorDimension 嵌入向量维度
	VectorDimension = 1024

	// BookVectorsCollection 书籍画像向量集合
	BookVectorsCollection = "book_vectors"
	// BookChunksCollection 书籍内容分块向量集合
	BookChunksCollection = "book_chunks"
)

// bookVectorsSchema 书籍画像集合 Schema
// 每本书一条记录，向量来自标题、作者、简介与标签的拼接文本
func bookVectorsSchema(collectionName string) *entity.Schema {
	return entity.NewSchema().
		WithName(collectionName).
		WithDescription("Book profile vectors for discovery search").
		WithField(entity.NewField().
			WithName("id").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName("vector").
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(VectorDimension)).
		WithField(entity.NewField().
			WithName("category").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().
			WithName("published").
			WithDataType(entity.FieldTypeBool))
}

// bookChunksSchema 书籍分块集合 Schema
// 每条记录是一本书的一个文本分块，用于对话引用检索
func bookChunksSchema(collectionName string) *entity.Schema {
	return entity.NewSchema().
		WithName(collectionName).
		WithDescription("Book content chunks for dialogue citation retrieval").
		WithField(entity.NewField().
			WithName("id").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(128).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName("vector").
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(VectorDimension)).
		WithField(entity.NewField().
			WithName("book_id").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().
			WithName("seq").
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName("text_content").
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(8192))
}

// ChunkID 生成分块主键
func ChunkID(bookID string, seq int) string {
	return fmt.Sprintf("%s_%d", bookID, seq)
}
