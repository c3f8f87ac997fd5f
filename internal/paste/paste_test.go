package paste

import (
	"bytes"
	"log"
	"testing"

	"github.com/Rakk301/speech-to-text-app/internal/session"
)

func TestEmptyTextIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	s := New(log.New(&buf, "", 0))

	s.Deliver("session-1", "")

	if buf.Len() != 0 {
		t.Errorf("empty delivery logged an error: %s", buf.String())
	}
}

func TestDeliverFailureIsLoggedNotFatal(t *testing.T) {
	// Strip PATH so no clipboard tool resolves; Deliver must swallow the
	// failure and log it.
	t.Setenv("PATH", t.TempDir())

	var buf bytes.Buffer
	s := New(log.New(&buf, "", 0))

	s.Deliver("session-1", "some text")

	if buf.Len() == 0 {
		t.Error("delivery failure was not logged")
	}
}

var _ session.TextSink = (*Sink)(nil)
