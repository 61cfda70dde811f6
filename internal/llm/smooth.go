package llm

import (
	"context"
	"strings"
)

// SmoothLines re-chunks text deltas so each emitted text chunk ends on a
// line boundary. Buffered text is flushed before any tool call and when the
// source ends, so chunk order is preserved.
func SmoothLines(ctx context.Context, src Stream) Stream {
	out := NewChanStream(16)
	go func() {
		var buf strings.Builder
		flush := func(all bool) error {
			s := buf.String()
			cut := len(s)
			if !all {
				cut = strings.LastIndexByte(s, '\n') + 1
			}
			if cut == 0 {
				return nil
			}
			buf.Reset()
			buf.WriteString(s[cut:])
			return out.Emit(ctx, Chunk{Type: ChunkText, Text: s[:cut]})
		}

		for c := range src.Chunks() {
			var err error
			switch c.Type {
			case ChunkText:
				buf.WriteString(c.Text)
				err = flush(false)
			default:
				if err = flush(true); err == nil {
					err = out.Emit(ctx, c)
				}
			}
			if err != nil {
				drain(src)
				_, srcErr := src.Wait()
				if srcErr == nil {
					srcErr = err
				}
				out.Finish("", srcErr)
				return
			}
		}
		text, err := src.Wait()
		if ferr := flush(true); ferr != nil && err == nil {
			err = ferr
		}
		out.Finish(text, err)
	}()
	return out
}

func drain(s Stream) {
	for range s.Chunks() {
	}
}
