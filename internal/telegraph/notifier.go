package telegraph

import (
	"context"
	"sync"
	"time"

	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/notify"
)

var log = logging.New("telegraph")

const defaultSendTimeout = 30 * time.Second

// Notifier posts notices to chat adapters. Sends run in the background so
// a slow platform never holds up an enhancement run.
type Notifier struct {
	adapters []Adapter
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewNotifier returns a Notifier posting to the given connected adapters.
func NewNotifier(adapters ...Adapter) *Notifier {
	return &Notifier{adapters: adapters, timeout: defaultSendTimeout}
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, notice notify.Notice) {
	if len(n.adapters) == 0 {
		return
	}
	evt := FormatNotice(notice)
	msg := OutboundMessage{Text: notice.Title, Events: []FormattedEvent{evt}}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		for _, a := range n.adapters {
			if err := a.Send(sendCtx, msg); err != nil {
				log.Warn("notice send failed", "kind", notice.Kind, "session", notice.SessionID, "error", err)
			}
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (n *Notifier) Wait() { n.wg.Wait() }
