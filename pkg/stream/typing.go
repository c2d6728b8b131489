package stream

import (
	"chatflow/pkg/models"
)

// typeOut reveals worker prose incrementally: one step is appended empty,
// then grown by fixed-size rune chunks at the limiter's cadence, mutated
// in place through its synthetic id. The drain loop awaits completion, so
// typing effects never interleave with each other or with other events;
// the queue keeps accepting items meanwhile. Cancelling the query's bound
// context aborts the cadence and snaps the text to its full value.
func (p *Processor) typeOut(queryID string, pl *thinkingPayload) {
	b := p.bindingFor(queryID)
	full := []rune(pl.Message)

	sid, ok := b.log.AppendStep(queryID, models.StepUpdate{
		AgentType:  pl.AgentType,
		Status:     models.StatusProcessing,
		Reasoning:  pl.Reasoning,
		TokenUsage: pl.TokenUsage,
	})
	if !ok {
		p.lateFrame(queryID, models.FrameThinking)
		return
	}
	p.observeTyping(sid, "")
	if len(full) == 0 {
		return
	}

	for i := p.typing.ChunkSize; ; i += p.typing.ChunkSize {
		if p.limiter != nil {
			if err := p.limiter.Wait(b.ctx); err != nil {
				b.log.SetStepMessage(sid, string(full))
				p.observeTyping(sid, string(full))
				return
			}
		}
		if i >= len(full) {
			b.log.SetStepMessage(sid, string(full))
			p.observeTyping(sid, string(full))
			return
		}
		b.log.SetStepMessage(sid, string(full[:i]))
		p.observeTyping(sid, string(full[:i]))
	}
}

func (p *Processor) observeTyping(sid, text string) {
	p.metrics.TypingChunk()
	if p.onTypingChunk != nil {
		p.onTypingChunk(sid, text)
	}
}
