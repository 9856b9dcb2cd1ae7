package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatMessages(contents ...string) []dto.ChatMessageRequest {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]dto.ChatMessageRequest, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out[i] = dto.ChatMessageRequest{
			Id:        uuid.NewString(),
			Role:      role,
			Content:   c,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestChatSaveReplacesHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	chat := NewChatService(h.uowFactory, h.vault, h.log)

	first := chatMessages("what is the budget", "the budget is 4 million")
	first[1].Sources = json.RawMessage(`[{"document_id":"d1","score":0.9}]`)
	first[1].Model = "test-chat"
	_, err := chat.Save(ctx, userId, &dto.SaveChatRequest{RecordId: record.Id, Messages: first})
	require.NoError(t, err)

	got, err := chat.List(ctx, userId, record.Id)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, first[0].Id, got.Messages[0].Id)
	assert.Equal(t, "the budget is 4 million", got.Messages[1].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "test-chat", got.Messages[1].Model)
	assert.JSONEq(t, `[{"document_id":"d1","score":0.9}]`, string(got.Messages[1].Sources))
	assert.True(t, first[1].Timestamp.Equal(got.Messages[1].Timestamp))

	second := chatMessages("one", "two", "three")
	_, err = chat.Save(ctx, userId, &dto.SaveChatRequest{RecordId: record.Id, Messages: second})
	require.NoError(t, err)

	got, err = chat.List(ctx, userId, record.Id)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	for i, m := range got.Messages {
		assert.Equal(t, second[i].Id, m.Id)
		assert.Equal(t, second[i].Content, m.Content)
	}

	_, err = chat.Save(ctx, userId, &dto.SaveChatRequest{RecordId: record.Id})
	require.NoError(t, err)
	got, err = chat.List(ctx, userId, record.Id)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestChatHistoryIsSealed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	chat := NewChatService(h.uowFactory, h.vault, h.log)

	_, err := chat.Save(ctx, userId, &dto.SaveChatRequest{
		RecordId: record.Id,
		Messages: chatMessages("the merger code name is BLUEHERON"),
	})
	require.NoError(t, err)

	var rows []model.ChatMessage
	require.NoError(t, h.db.Where("record_id = ?", record.Id).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.False(t, bytes.Contains(rows[0].Ciphertext, []byte("BLUEHERON")))

	// A row moved to another position no longer opens.
	require.NoError(t, h.db.Model(&model.ChatMessage{}).Where("id = ?", rows[0].Id).Update("position", 5).Error)
	_, err = chat.List(ctx, userId, record.Id)
	assert.ErrorIs(t, err, apperror.ErrDecryptionFailed)
}

func TestChatSaveValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	chat := NewChatService(h.uowFactory, h.vault, h.log)

	dup := chatMessages("a", "b")
	dup[1].Id = dup[0].Id
	badRole := chatMessages("a")
	badRole[0].Role = "tool"
	badSources := chatMessages("a")
	badSources[0].Sources = json.RawMessage(`{not json`)
	noId := chatMessages("a")
	noId[0].Id = ""

	tests := []struct {
		name     string
		messages []dto.ChatMessageRequest
	}{
		{"duplicate ids", dup},
		{"unknown role", badRole},
		{"malformed sources", badSources},
		{"missing id", noId},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chat.Save(ctx, userId, &dto.SaveChatRequest{RecordId: record.Id, Messages: tt.messages})
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}

func TestChatHistoryOfForeignRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t)
	stranger := h.user(t)
	record := h.record(t, owner)
	chat := NewChatService(h.uowFactory, h.vault, h.log)

	_, err := chat.Save(ctx, owner, &dto.SaveChatRequest{RecordId: record.Id, Messages: chatMessages("private")})
	require.NoError(t, err)

	_, err = chat.List(ctx, stranger, record.Id)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = chat.Save(ctx, stranger, &dto.SaveChatRequest{RecordId: record.Id})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, chat.Clear(ctx, stranger, record.Id), apperror.ErrNotFound)

	got, err := chat.List(ctx, owner, record.Id)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)

	require.NoError(t, chat.Clear(ctx, owner, record.Id))
	got, err = chat.List(ctx, owner, record.Id)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestRecordDeleteRemovesChatAndReferences(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userId := h.user(t)
	record := h.record(t, userId)
	kept := h.record(t, userId)
	chat := NewChatService(h.uowFactory, h.vault, h.log)
	records := NewRecordService(h.uowFactory, h.chunks, h.blobs, nil, h.log, "test-chat", testEmbeddingModel)

	srv := pageServer(t, map[string]string{"/a": "<html><body><article><p>Alpha page text.</p></article></body></html>"})
	refs := h.references()

	for _, id := range []uuid.UUID{record.Id, kept.Id} {
		_, err := chat.Save(ctx, userId, &dto.SaveChatRequest{RecordId: id, Messages: chatMessages("q", "a")})
		require.NoError(t, err)
		_, err = refs.Add(ctx, userId, &dto.AddReferenceRequest{RecordId: id, Url: srv.URL + "/a"})
		require.NoError(t, err)
	}

	require.NoError(t, records.Delete(ctx, userId, record.Id))

	for _, table := range []interface{}{&model.ChatMessage{}, &model.Reference{}, &model.Document{}} {
		var n int64
		require.NoError(t, h.db.Model(table).Where("record_id = ?", record.Id).Count(&n).Error)
		assert.Zero(t, n)
		require.NoError(t, h.db.Model(table).Where("record_id = ?", kept.Id).Count(&n).Error)
		assert.NotZero(t, n)
	}
}
