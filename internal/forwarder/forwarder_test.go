package forwarder

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/relay/internal/taskstatus"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func TestForwardPostsUpdate(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- b
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := New(srv.URL, logpkg.NewTestLogger())
	t.Cleanup(f.Close)

	u := &taskstatus.TaskStatus{
		TaskID: "task-1",
		State:  taskstatus.StateRunning,
		UUID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}
	f.Forward(u)

	select {
	case b := <-got:
		var out taskstatus.TaskStatus
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if out.TaskID != "task-1" || out.UUID != u.UUID {
			t.Fatalf("unexpected body: %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer never called")
	}
}

func TestForwardNeverBlocks(t *testing.T) {
	// No server: every POST fails, and the queue may fill. Forward must
	// still return promptly.
	f := New("http://127.0.0.1:0", logpkg.NewTestLogger())
	t.Cleanup(f.Close)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			f.Forward(&taskstatus.TaskStatus{
				TaskID: "task-1",
				State:  taskstatus.StateRunning,
				UUID:   uuid.New(),
			})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Forward blocked")
	}
}
