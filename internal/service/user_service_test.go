package service

import (
	"context"
	"testing"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/pkg/blobstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) users() IUserService {
	records := NewRecordService(h.uowFactory, h.chunks, h.blobs, nil, h.log, "test-chat", testEmbeddingModel)
	return NewUserService(h.uowFactory, records, h.log)
}

// fillAccount gives the user a record with an ingested document, an
// artifact, chat history and a web reference. It returns every blob key.
func (h *harness) fillAccount(t *testing.T, userId uuid.UUID) []string {
	t.Helper()
	ctx := context.Background()
	record := h.record(t, userId)
	docId := h.ingest(t, userId, record.Id, "notes.txt", paragraph("account", 10))

	result, err := h.generation(&fakeChat{}, &fakeImages{}).Generate(ctx, userId, record.Id, GenerateInput{Tool: ToolInfographic})
	require.NoError(t, err)

	_, err = NewChatService(h.uowFactory, h.vault, h.log).Save(ctx, userId, &dto.SaveChatRequest{
		RecordId: record.Id,
		Messages: chatMessages("hello", "hi"),
	})
	require.NoError(t, err)

	srv := pageServer(t, map[string]string{"/": handbook})
	_, err = h.references().Add(ctx, userId, &dto.AddReferenceRequest{RecordId: record.Id, Url: srv.URL + "/"})
	require.NoError(t, err)

	uow := h.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: docId})
	require.NoError(t, err)
	return append([]string{doc.BlobKey}, artifactBlobKeys(result.Artifact)...)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	registered, err := h.auth().Register(ctx, &dto.RegisterRequest{Username: "erin", Email: "erin@example.com", Password: "password1"})
	require.NoError(t, err)
	h.record(t, registered.Id)

	me, err := h.users().Me(ctx, registered.Id)
	require.NoError(t, err)
	assert.Equal(t, "erin", me.Username)
	assert.Equal(t, "erin@example.com", me.Email)
	assert.Equal(t, int64(1), me.Records)

	_, err = h.users().Me(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeleteAccountRemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	registered, err := h.auth().Register(ctx, &dto.RegisterRequest{Username: "frank", Email: "frank@example.com", Password: "password1"})
	require.NoError(t, err)
	userId := registered.Id
	other := h.user(t)

	blobs := h.fillAccount(t, userId)
	otherBlobs := h.fillAccount(t, other)
	svc := h.users()

	err = svc.DeleteAccount(ctx, userId, &dto.DeleteAccountRequest{Password: "wrong-password"})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.Me(ctx, userId)
	require.NoError(t, err, "rejected deletion leaves the account")

	require.NoError(t, svc.DeleteAccount(ctx, userId, &dto.DeleteAccountRequest{Password: "password1"}))

	tables := []interface{}{
		&model.User{}, &model.Record{}, &model.Document{}, &model.Chunk{}, &model.ChunkEmbedding{},
		&model.GeneratedArtifact{}, &model.ChatMessage{}, &model.Reference{},
	}
	var users int64
	require.NoError(t, h.db.Model(&model.User{}).Count(&users).Error)
	assert.Equal(t, int64(1), users)
	for _, table := range tables[1:] {
		var n int64
		require.NoError(t, h.db.Model(table).Count(&n).Error)
		assert.NotZero(t, n, "other user's rows survive in %T", table)
	}

	var records int64
	require.NoError(t, h.db.Model(&model.Record{}).Where("user_id = ?", userId).Count(&records).Error)
	assert.Zero(t, records)

	for _, key := range blobs {
		_, err := h.blobs.Get(ctx, key)
		assert.ErrorIs(t, err, blobstore.ErrNotFound, key)
	}
	for _, key := range otherBlobs {
		_, err := h.blobs.Get(ctx, key)
		assert.NoError(t, err, key)
	}

	err = h.vault.WithMasterKey(ctx, userId, func([]byte) error { return nil })
	assert.ErrorIs(t, err, apperror.ErrKeyUnavailable)

	_, err = h.auth().Login(ctx, &dto.LoginRequest{Login: "frank", Password: "password1"})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
