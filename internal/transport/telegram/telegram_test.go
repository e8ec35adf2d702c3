package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

func TestClassifyFlood(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{
		RetryAfter: 14,
	})
	if transport.Classify(err) != transport.KindThrottled {
		t.Fatalf("kind = %v, want throttled", transport.Classify(err))
	}
	d, ok := transport.RetryAfter(err)
	if !ok || d != 14*time.Second {
		t.Fatalf("retry after = (%v, %v), want 14s", d, ok)
	}
}

func TestClassifyAPIErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want transport.Kind
	}{
		{"forbidden", &tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the channel chat"}, transport.KindPermissionDenied},
		{"no rights", &tele.Error{Code: 400, Description: "Bad Request: have no rights to send a message"}, transport.KindPermissionDenied},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, transport.KindUnresolvable},
		{"server error", &tele.Error{Code: 502, Description: "Bad Gateway"}, transport.KindTransient},
		{"other api error", &tele.Error{Code: 400, Description: "Bad Request: message is too long"}, transport.KindOther},
		{"network", errors.New("read tcp: connection reset by peer"), transport.KindTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transport.Classify(classify(tt.err)); got != tt.want {
				t.Fatalf("kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: ""}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing sources")
	}
}
