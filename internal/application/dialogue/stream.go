package dialogue

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"book-dialogue-api/internal/domain/entity"
)

// GenerationStream 生成模型的流式输出。
// *schema.StreamReader[*schema.Message] 天然满足该接口，
// 测试中可以用假实现替换。
type GenerationStream interface {
	Recv() (*schema.Message, error)
	Close()
}

// Generator 生成模型接口
type Generator interface {
	Stream(ctx context.Context, messages []*schema.Message) (GenerationStream, error)
}

// StreamEvent 推送给传输层的单个事件。
// Delta、Done、Err 三者只会有一个生效。
type StreamEvent struct {
	Delta string
	Done  *TurnOutcome
	Err   error
}

// TurnOutcome 一轮生成结束后的结果
type TurnOutcome struct {
	AssistantTurn *entity.DialogueTurn
	// Canceled 客户端是否中途取消
	Canceled bool
	// Content 完整（或截止取消时刻）的助手回复
	Content string
}

// TurnStream 一次轮次提交的事件流，Events 在 Done 或 Err 事件后关闭
type TurnStream struct {
	Events <-chan StreamEvent
}

// finishFunc 生成结束后的收尾回调：落库助手轮次、处理配额退款。
// content 为已累计的回复，canceled 表示客户端中途取消，
// genErr 为生成侧错误（取消不算错误）。
type finishFunc func(content string, canceled bool, genErr error) (*TurnOutcome, error)

// deliver 消费生成流并向事件通道转发增量。
// 客户端取消时停止读取但保留已累计的内容，收尾动作由 finish 完成。
func deliver(ctx context.Context, gen GenerationStream, buffer int, finish finishFunc) *TurnStream {
	events := make(chan StreamEvent, buffer)

	go func() {
		defer close(events)
		defer gen.Close()

		var sb strings.Builder
		emitFinal := func(canceled bool, genErr error) {
			outcome, err := finish(sb.String(), canceled, genErr)
			ev := StreamEvent{Done: outcome}
			if err != nil {
				ev = StreamEvent{Err: err}
			}
			if canceled {
				// 取消后读端通常已离开，终止事件尽力投递，不能困住本协程
				select {
				case events <- ev:
				default:
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				emitFinal(true, nil)
				return
			default:
			}

			msg, err := gen.Recv()
			if err != nil {
				switch {
				case errors.Is(err, io.EOF):
					emitFinal(false, nil)
				case errors.Is(err, context.Canceled) || ctx.Err() != nil:
					emitFinal(true, nil)
				default:
					emitFinal(false, err)
				}
				return
			}
			if msg == nil || msg.Content == "" {
				continue
			}

			sb.WriteString(msg.Content)
			select {
			case events <- StreamEvent{Delta: msg.Content}:
			case <-ctx.Done():
				emitFinal(true, nil)
				return
			}
		}
	}()

	return &TurnStream{Events: events}
}
