// Package forwarder delivers status updates to the downstream consumer
// over HTTP. It is the forward sink handed to the status update manager:
// enqueueing never blocks, and delivery failures are simply left for the
// manager's retry timer to paper over.
package forwarder

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rzbill/relay/internal/statusupdate"
	logpkg "github.com/rzbill/relay/pkg/log"
)

const defaultQueueSize = 1024

// Forwarder POSTs updates to a consumer URL from a single worker
// goroutine.
type Forwarder struct {
	url    string
	client *http.Client
	logger logpkg.Logger

	queue chan statusupdate.Update
	done  chan struct{}
}

// New creates a Forwarder and starts its worker. A consumer that wants a
// different transport can pass any statusupdate.ForwardSink instead.
func New(url string, logger logpkg.Logger) *Forwarder {
	f := &Forwarder{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithComponent("forwarder"),
		queue:  make(chan statusupdate.Update, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Forward implements statusupdate.ForwardSink. A full queue drops the
// update; the manager's retry timer will re-forward it.
func (f *Forwarder) Forward(u statusupdate.Update) {
	select {
	case f.queue <- u:
	default:
		f.logger.Warn("forward queue full, dropping update until retry",
			logpkg.Str("uuid", u.StatusUUID().String()))
	}
}

// Close stops the worker. Queued updates are dropped; they stay pending
// in the manager.
func (f *Forwarder) Close() {
	close(f.done)
}

func (f *Forwarder) run() {
	for {
		select {
		case u := <-f.queue:
			f.post(u)
		case <-f.done:
			return
		}
	}
}

func (f *Forwarder) post(u statusupdate.Update) {
	body, err := json.Marshal(u)
	if err != nil {
		f.logger.Error("marshalling update for forward", logpkg.Err(err))
		return
	}
	resp, err := f.client.Post(f.url, "application/json", bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("forwarding update failed, will retry",
			logpkg.Str("uuid", u.StatusUUID().String()), logpkg.Err(err))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.logger.Warn("consumer rejected update, will retry",
			logpkg.Str("uuid", u.StatusUUID().String()), logpkg.Int("status", resp.StatusCode))
	}
}
