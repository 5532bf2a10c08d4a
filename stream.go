package marketsdk

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Stream is a lazy, finite sequence of completion chunks. It is not
// restartable. Close must be called even when iteration is abandoned
// early; it releases the underlying connection and folds the request
// into the client's usage stats.
type Stream struct {
	reader *bufio.Reader
	body   io.ReadCloser

	meter     Meter
	stats     *statsTracker
	spend     *SpendGuard
	requestID string
	model     string
	attempts  int
	started   time.Time

	promptEstimate int64
	contentChars   int
	usage          *Usage
	malformed      int

	done      bool
	closed    bool
	streamErr error
}

// streamFrame is a single decoded SSE payload.
type streamFrame struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Next returns the next chunk. The [DONE] sentinel yields one chunk with
// Final set; every call after that returns io.EOF. Payloads that fail to
// parse are skipped, never fatal.
func (s *Stream) Next() (StreamChunk, error) {
	if s.done || s.closed {
		return StreamChunk{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.streamErr = err
			}
			return StreamChunk{}, io.EOF
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			s.done = true
			return StreamChunk{Model: s.model, Final: true}, nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			s.malformed++
			continue
		}

		chunk := StreamChunk{ID: frame.ID, Model: frame.Model}
		if len(frame.Choices) > 0 {
			chunk.Content = frame.Choices[0].Delta.Content
			chunk.FinishReason = frame.Choices[0].FinishReason
		}
		if frame.Usage != nil {
			u := *frame.Usage
			s.usage = &u
			chunk.Usage = &u
		}

		s.contentChars += len(chunk.Content)
		return chunk, nil
	}
}

// Close releases the connection and accounts the request. Safe to call
// more than once. When the backend never sent a usage frame, token counts
// are estimated from the request messages and the content received so
// far, so stats and spend still move for abandoned streams.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.body.Close()

	usage := Usage{}
	if s.usage != nil {
		usage = *s.usage
	} else {
		usage.PromptTokens = s.promptEstimate
		usage.CompletionTokens = estimateTextTokens(s.contentChars)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	duration := time.Since(s.started)
	cost, listed := s.stats.record(s.model, usage, duration)
	if s.spend != nil {
		s.spend.Record(cost)
	}

	s.meter.OnResult(ResultEvent{
		RequestID:       s.requestID,
		Provider:        ResolveProvider(s.model),
		Model:           s.model,
		Stream:          true,
		Success:         s.streamErr == nil,
		Attempts:        s.attempts,
		Duration:        duration,
		Usage:           usage,
		Cost:            cost,
		PricingFallback: !listed,
		MalformedFrames: s.malformed,
		Error:           s.streamErr,
	})

	return err
}
