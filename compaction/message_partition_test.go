package compaction

import (
	"context"
	"testing"

	"github.com/youssefsiam38/pattern/id"
	"github.com/youssefsiam38/pattern/message"
)

func makeMessage(text string) *message.Message {
	return &message.Message{
		ID:      id.NewMessageID(),
		AgentID: id.NewAgentID(),
		Role:    message.RoleUser,
		Content: []message.ContentBlock{{Type: message.ContentTypeText, Text: text}},
	}
}

func TestPartitionSmallHistoryAllRecent(t *testing.T) {
	config := DefaultConfig()
	config.ApplyDefaults()
	counter := NewTokenCounter(nil, config.SummarizerModel, false)
	p := NewPartitioner(counter, config)

	messages := []*message.Message{makeMessage("a"), makeMessage("b"), makeMessage("c")}
	partition, err := p.Partition(context.Background(), messages)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	if partition.CanCompact() {
		t.Errorf("expected nothing compactable for a history shorter than PreserveLastN, got %d", len(partition.Compactable))
	}
}

func TestPartitionLongHistoryHasCompactable(t *testing.T) {
	config := DefaultConfig()
	config.ApplyDefaults()
	config.PreserveLastN = 2
	config.ProtectedTokens = 0
	counter := NewTokenCounter(nil, config.SummarizerModel, false)
	p := NewPartitioner(counter, config)

	var messages []*message.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, makeMessage("message body text that takes up some tokens"))
	}
	partition, err := p.Partition(context.Background(), messages)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	if !partition.CanCompact() {
		t.Fatal("expected compactable messages in a long history")
	}
	if len(partition.Recent) != 2 {
		t.Errorf("len(Recent) = %d, want 2", len(partition.Recent))
	}
	if got := len(partition.Compactable) + len(partition.Recent) + len(partition.Protected); got != len(messages) {
		t.Errorf("partitions cover %d messages, want %d", got, len(messages))
	}
}
