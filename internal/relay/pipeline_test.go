package relay

import (
	"context"
	"testing"
	"time"

	"tgrelay/pkg/logx"

	"tgrelay/internal/transport"
)

func runPipeline(t *testing.T, p *Pipeline, msgs []transport.Inbound) {
	t.Helper()
	in := make(chan transport.Inbound, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)
	if err := p.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPipelineFilterBeforeDispatch(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{clock: clock}
	disp := newTestDispatcher(client, clock, DispatchConfig{}, transport.ModeCopy)
	stats := NewStats()
	p := NewPipeline(NewFilter(FilterConfig{ExcludeKeywords: []string{"spam"}}), disp, stats, logx.Nop())

	runPipeline(t, p, []transport.Inbound{
		{MessageID: 1, Text: "legit offer"},
		{MessageID: 2, Text: "pure spam here"},
		{MessageID: 3, Text: "another one"},
	})

	if len(client.attempts) != 2 {
		t.Fatalf("client saw %d sends, want 2 (rejected message must not reach it)", len(client.attempts))
	}
	snap := stats.Snapshot()
	if snap.Received != 3 || snap.Relayed != 2 || snap.Filtered != 1 {
		t.Fatalf("stats = %+v", snap)
	}
	if snap.ByReason[ReasonExcluded] != 1 {
		t.Fatalf("by_reason = %v, want one %q", snap.ByReason, ReasonExcluded)
	}
}

func TestPipelineContinuesAfterPermanentFailure(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{
		clock: clock,
		errs:  []error{transport.ErrPermissionDenied},
	}
	disp := newTestDispatcher(client, clock, DispatchConfig{}, transport.ModeCopy)
	stats := NewStats()
	p := NewPipeline(NewFilter(FilterConfig{}), disp, stats, logx.Nop())

	runPipeline(t, p, []transport.Inbound{
		{MessageID: 1, Text: "fails"},
		{MessageID: 2, Text: "goes through"},
	})

	snap := stats.Snapshot()
	if snap.Dropped != 1 || snap.Relayed != 1 {
		t.Fatalf("stats = %+v, want one drop then one relay", snap)
	}
	if snap.ByReason[ReasonPermission] != 1 {
		t.Fatalf("by_reason = %v", snap.ByReason)
	}
}

func TestPipelineFIFOOrder(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{clock: clock}
	disp := newTestDispatcher(client, clock, DispatchConfig{MinDelay: time.Second}, transport.ModeCopy)
	p := NewPipeline(NewFilter(FilterConfig{}), disp, NewStats(), logx.Nop())

	msgs := []transport.Inbound{
		{MessageID: 10, Text: "a"},
		{MessageID: 11, Text: "b"},
		{MessageID: 12, Text: "c"},
	}
	runPipeline(t, p, msgs)

	if len(client.attempts) != 3 {
		t.Fatalf("sends = %d, want 3", len(client.attempts))
	}
	for i := 1; i < len(client.attempts); i++ {
		if client.attempts[i].Before(client.attempts[i-1]) {
			t.Fatalf("attempt %d before attempt %d: order not FIFO", i, i-1)
		}
	}
}

func TestPipelineHotSwapFilter(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{clock: clock}
	disp := newTestDispatcher(client, clock, DispatchConfig{}, transport.ModeCopy)
	stats := NewStats()
	p := NewPipeline(NewFilter(FilterConfig{}), disp, stats, logx.Nop())

	runPipeline(t, p, []transport.Inbound{{MessageID: 1, Text: "short"}})
	p.SetFilter(NewFilter(FilterConfig{MinLength: 100}))
	runPipeline(t, p, []transport.Inbound{{MessageID: 2, Text: "short"}})

	snap := stats.Snapshot()
	if snap.Relayed != 1 || snap.Filtered != 1 {
		t.Fatalf("stats = %+v, want new filter applied to second message", snap)
	}
}

func TestPipelineSubmissionBypassesFilter(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{clock: clock}
	disp := newTestDispatcher(client, clock, DispatchConfig{}, transport.ModeCopy)
	stats := NewStats()
	// A filter that rejects everything: submissions must still go out.
	p := NewPipeline(NewFilter(FilterConfig{MediaOnly: true, MinLength: 1000}), disp, stats, logx.Nop())

	runPipeline(t, p, []transport.Inbound{
		{MessageID: 1, Text: "channel post without media"},
		{Text: "New listing\n\nroom for rent", Submitted: true, SenderID: 5},
	})

	if client.posts != 1 || client.copies != 0 {
		t.Fatalf("posts=%d copies=%d, want only the submission delivered", client.posts, client.copies)
	}
	snap := stats.Snapshot()
	if snap.Relayed != 1 || snap.Filtered != 1 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestPipelineAppliesStagedDispatchConfig(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	client := &scriptedClient{clock: clock}
	disp := newTestDispatcher(client, clock, DispatchConfig{}, transport.ModeCopy)
	p := NewPipeline(NewFilter(FilterConfig{}), disp, NewStats(), logx.Nop())

	p.SetDispatchConfig(DispatchConfig{MinDelay: 30 * time.Second})
	runPipeline(t, p, []transport.Inbound{
		{MessageID: 1, Text: "a"},
		{MessageID: 2, Text: "b"},
	})

	gap := client.attempts[1].Sub(client.attempts[0])
	if gap < 30*time.Second {
		t.Fatalf("gap = %v, want staged min delay applied", gap)
	}
}
