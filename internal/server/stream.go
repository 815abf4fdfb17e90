package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/internal/translator"
)

const (
	scanBufferSize = 64 * 1024
	maxLineSize    = 1 << 20
)

// writeMessageStream pumps the upstream SSE body through the stream
// translator and flushes each resulting frame to the client. The upstream
// body is always closed, and the terminal sentinel is always written, no
// matter how the stream ends.
func (s *Server) writeMessageStream(c echo.Context, body io.ReadCloser, originalModel string) error {
	defer body.Close()

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.metrics.ObserveRequest(metrics.ModeStream, metrics.OutcomeError)
		return requestError{
			Status:  http.StatusInternalServerError,
			Type:    "internal_error",
			Message: "server does not support streaming responses",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	write := func(frame []byte) {
		// A failed write means the client went away; the upstream read loop
		// terminates via request context cancellation.
		_, _ = writer.Write(frame)
		flusher.Flush()
	}

	st := translator.NewStreamTranslator(translator.NewMessageID(), originalModel)
	write(st.MessageStart())

	outcome := metrics.OutcomeOK

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scanBufferSize), maxLineSize)
	for scanner.Scan() {
		frame, emitted := st.Translate(scanner.Text())
		if emitted {
			write(frame)
			if !st.Done() {
				s.metrics.ObserveStreamFrame()
			}
		}
		if st.Done() {
			break
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		// Headers are committed; the error travels in-band.
		slog.Error("upstream stream read failed", "message_id", st.MessageID(), "err", err)
		write(st.ErrorFrame(err))
		outcome = metrics.OutcomeError
	}

	write(translator.TerminalFrame())
	s.metrics.ObserveRequest(metrics.ModeStream, outcome)
	return nil
}
