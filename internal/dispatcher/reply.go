package dispatcher

import (
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

// replier delivers at most one response for a call. Later sends are
// logged and dropped.
type replier struct {
	once     sync.Once
	ch       bridge.Channel
	id       string
	executor mainthread.Executor
	logger   *slog.Logger
}

func newReplier(ch bridge.Channel, id string, executor mainthread.Executor, logger *slog.Logger) *replier {
	return &replier{ch: ch, id: id, executor: executor, logger: logger}
}

func (r *replier) send(resp bridge.Response) {
	first := false
	r.once.Do(func() {
		first = true
		posted := r.executor.Post(func() {
			if err := r.ch.Reply(r.id, resp); err != nil {
				r.logger.Warn("Failed to deliver response", "err", err)
			}
		})
		if !posted {
			r.logger.Warn("Executor closed; response dropped")
		}
	})
	if !first {
		r.logger.Error("Duplicate response dropped")
	}
}
