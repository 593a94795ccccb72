package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"

	"book-dialogue-api/internal/application/dialogue"
	"book-dialogue-api/pkg/logger"
)

// StreamGenerator 把 Eino ChatModel 适配为对话层的流式生成接口
type StreamGenerator struct {
	factory *EinoFactory
}

// NewStreamGenerator 创建流式生成适配器
func NewStreamGenerator(factory *EinoFactory) *StreamGenerator {
	return &StreamGenerator{factory: factory}
}

// Stream 用默认模型发起流式生成。
// 返回的 *schema.StreamReader 直接满足 dialogue.GenerationStream；
// 提供方不支持流式时回退到一次性 Generate，整段回复作为单块下发。
func (g *StreamGenerator) Stream(ctx context.Context, messages []*schema.Message) (dialogue.GenerationStream, error) {
	chatModel, err := g.factory.Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat model: %w", err)
	}

	reader, err := chatModel.Stream(ctx, messages)
	if err == nil {
		return reader, nil
	}

	logger.Warn(ctx, "stream generation unavailable, falling back to generate", "error", err)
	msg, genErr := chatModel.Generate(ctx, messages)
	if genErr != nil {
		return nil, fmt.Errorf("failed to generate response: %w", genErr)
	}
	return &singleMessageStream{msg: msg}, nil
}

// singleMessageStream 把一次性回复包装成单块流
type singleMessageStream struct {
	msg  *schema.Message
	done bool
}

func (s *singleMessageStream) Recv() (*schema.Message, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.msg, nil
}

func (s *singleMessageStream) Close() {}
