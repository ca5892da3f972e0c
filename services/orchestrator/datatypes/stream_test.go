package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(events ...StreamEvent) []StreamEvent {
	prev := ""
	for i := range events {
		events[i].PrevHash = prev
		events[i].Hash = events[i].ComputeHash()
		prev = events[i].Hash
	}
	return events
}

func TestComputeHash_CoversContent(t *testing.T) {
	a := StreamEvent{Id: "1", Type: EventToken, CreatedAt: 10, Content: "halo"}
	b := a
	b.Content = "hola"

	assert.Len(t, a.ComputeHash(), 64)
	assert.Equal(t, a.ComputeHash(), a.ComputeHash())
	assert.NotEqual(t, a.ComputeHash(), b.ComputeHash())
}

func TestComputeHash_IgnoresOwnHash(t *testing.T) {
	e := StreamEvent{Id: "1", Type: EventDone}
	before := e.ComputeHash()
	e.Hash = "anything"
	assert.Equal(t, before, e.ComputeHash())
}

func TestVerifyChain(t *testing.T) {
	good := func() []StreamEvent {
		return chain(
			StreamEvent{Id: "1", Type: EventStatus, Message: "Searching knowledge base..."},
			StreamEvent{Id: "2", Type: EventSources, Sources: []SourceDocument{{PageContent: "x", Metadata: map[string]any{"price": 49000.0}}}},
			StreamEvent{Id: "3", Type: EventToken, Content: "Cek"},
			StreamEvent{Id: "4", Type: EventDone, RequestId: "r"},
		)
	}

	tests := []struct {
		name    string
		mutate  func([]StreamEvent) []StreamEvent
		wantErr bool
	}{
		{name: "intact", mutate: func(e []StreamEvent) []StreamEvent { return e }},
		{name: "empty", mutate: func([]StreamEvent) []StreamEvent { return nil }},
		{name: "altered content", mutate: func(e []StreamEvent) []StreamEvent {
			e[2].Content = "Cek ulang"
			return e
		}, wantErr: true},
		{name: "dropped event", mutate: func(e []StreamEvent) []StreamEvent {
			return append(e[:1], e[2:]...)
		}, wantErr: true},
		{name: "first event with prev hash", mutate: func(e []StreamEvent) []StreamEvent {
			return e[1:]
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyChain(tt.mutate(good()))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBrokenChain)
				return
			}
			assert.NoError(t, err)
		})
	}
}
