package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func newDocument(id, listingID string) *model.Document {
	return &model.Document{
		ID:         id,
		ListingID:  listingID,
		FileName:   id + ".txt",
		MimeType:   "text/plain",
		Size:       10,
		StorageKey: "documents/" + listingID + "/" + id,
		Status:     model.StatusPending,
	}
}

func TestDocumentRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(setupTestDB(t))
	require.NoError(t, repo.Create(ctx, newDocument("doc-1", "listing-1")))

	t.Run("claim from pending", func(t *testing.T) {
		ok, err := repo.MarkProcessing(ctx, "doc-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("extraction and completion", func(t *testing.T) {
		meta := model.ExtractionMetadata{WordCount: 2, CharCount: 11, Method: model.MethodDirectRead}
		require.NoError(t, repo.SaveExtraction(ctx, "doc-1", "hello world", meta))
		require.NoError(t, repo.MarkCompleted(ctx, "doc-1", 1))

		doc, err := repo.FindByID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, doc.Status)
		require.NotNil(t, doc.ExtractedText)
		assert.Equal(t, "hello world", *doc.ExtractedText)
		assert.Equal(t, model.MethodDirectRead, doc.Metadata.Data().Method)
		assert.Equal(t, 1, doc.ChunkCount)
		assert.NotNil(t, doc.CompletedAt)
	})

	t.Run("completed documents are never claimed or failed again", func(t *testing.T) {
		ok, err := repo.MarkProcessing(ctx, "doc-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.MarkFailed(ctx, "doc-1", "late failure"))
		doc, err := repo.FindByID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, doc.Status)
		assert.Nil(t, doc.ErrorDetail)
	})

	t.Run("only failed documents reset to pending", func(t *testing.T) {
		ok, err := repo.ResetToPending(ctx, "doc-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.Create(ctx, newDocument("doc-2", "listing-1")))
		require.NoError(t, repo.MarkFailed(ctx, "doc-2", "boom"))
		ok, err = repo.ResetToPending(ctx, "doc-2")
		require.NoError(t, err)
		assert.True(t, ok)

		doc, err := repo.FindByID(ctx, "doc-2")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, doc.Status)
		assert.Nil(t, doc.ErrorDetail)
	})

	t.Run("completed count is listing scoped", func(t *testing.T) {
		n, err := repo.CountCompletedByListing(ctx, "listing-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = repo.CountCompletedByListing(ctx, "listing-2")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestDocumentRepository_DeleteCascadesChunks(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	docs := NewDocumentRepository(db)
	chunks := NewChunkRepository(db)

	require.NoError(t, docs.Create(ctx, newDocument("doc-1", "listing-1")))
	for seq := 0; seq < 3; seq++ {
		require.NoError(t, chunks.Create(ctx, &model.Chunk{DocumentID: "doc-1", ListingID: "listing-1", Seq: seq, Content: "c"}))
	}

	require.NoError(t, docs.Delete(ctx, "doc-1"))
	n, err := chunks.CountByDocumentID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, docs.Delete(ctx, "doc-1"), model.ErrNotFound)
}

func TestChunkRepository_OrderAndScope(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(setupTestDB(t))

	for _, seq := range []int{2, 0, 1} {
		require.NoError(t, repo.Create(ctx, &model.Chunk{DocumentID: "doc-a", ListingID: "listing-a", Seq: seq, Content: "a"}))
	}
	require.NoError(t, repo.Create(ctx, &model.Chunk{DocumentID: "doc-b", ListingID: "listing-b", Seq: 0, Content: "b"}))

	got, err := repo.FindByDocumentID(ctx, "doc-a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.Seq)
	}

	scoped, err := repo.FindByListingID(ctx, "listing-b")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "doc-b", scoped[0].DocumentID)

	t.Run("duplicate sequence index is rejected", func(t *testing.T) {
		err := repo.Create(ctx, &model.Chunk{DocumentID: "doc-a", ListingID: "listing-a", Seq: 1, Content: "dup"})
		assert.Error(t, err)
	})
}

func TestTemplateRepository_VariablesInSortOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(setupTestDB(t))
	q := "What does the company sell?"
	tmpl := &model.Template{
		ID:            "tmpl-1",
		Name:          "Standard OM",
		Version:       1,
		Body:          "# {{company_name}}",
		OutputFormats: []string{model.FormatPDF},
		Variables: []model.Variable{
			{Name: "overview", Question: &q, Fallback: "Not available", Kind: model.KindLongText, SortOrder: 1},
			{Name: "company_name", Fallback: "The Company", Kind: model.KindShortText, SortOrder: 0},
		},
	}
	require.NoError(t, repo.Create(ctx, tmpl))

	got, err := repo.FindByID(ctx, "tmpl-1")
	require.NoError(t, err)
	require.Len(t, got.Variables, 2)
	assert.Equal(t, "company_name", got.Variables[0].Name)
	assert.Nil(t, got.Variables[0].Question)
	assert.Equal(t, "overview", got.Variables[1].Name)
	assert.True(t, got.DeclaresFormat(model.FormatPDF))
	assert.False(t, got.DeclaresFormat(model.FormatDOCX))

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGenerationRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewGenerationRepository(setupTestDB(t))
	require.NoError(t, repo.Create(ctx, &model.GeneratedDocument{ID: "gen-1", ListingID: "l", TemplateID: "t", Status: model.StatusPending}))

	ok, err := repo.MarkProcessing(ctx, "gen-1")
	require.NoError(t, err)
	require.True(t, ok)

	values := []model.ResolvedValue{{Name: "company_name", Value: "Acme", Fallback: false}}
	pdfKey := "generated/l/gen-1.pdf"
	require.NoError(t, repo.MarkCompleted(ctx, "gen-1", values, &pdfKey, nil))

	gen, err := repo.FindByID(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, gen.Status)
	assert.Equal(t, values, gen.ResolvedValues.Data())
	assert.Equal(t, pdfKey, gen.ArtifactKey(model.FormatPDF))
	assert.Empty(t, gen.ArtifactKey(model.FormatDOCX))

	ok, err = repo.MarkProcessing(ctx, "gen-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepository_UnfinishedAndLogs(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(setupTestDB(t))

	done := &model.PipelineJob{Lane: model.LaneExtraction, EntityID: "doc-1", Status: model.StatusPending}
	open := &model.PipelineJob{Lane: model.LaneExtraction, EntityID: "doc-2", Status: model.StatusPending}
	other := &model.PipelineJob{Lane: model.LaneGeneration, EntityID: "gen-1", Status: model.StatusPending}
	for _, j := range []*model.PipelineJob{done, open, other} {
		require.NoError(t, repo.Create(ctx, j))
	}

	require.NoError(t, repo.StartAttempt(ctx, done.ID))
	require.NoError(t, repo.StartAttempt(ctx, done.ID))
	require.NoError(t, repo.Finish(ctx, done.ID, model.StatusCompleted, nil))

	job, err := repo.FindByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.NotNil(t, job.FinishedAt)

	unfinished, err := repo.ListUnfinished(ctx, model.LaneExtraction)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "doc-2", unfinished[0].EntityID)

	stale, err := repo.ListStale(ctx, model.LaneExtraction, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "doc-2", stale[0].EntityID)
	stale, err = repo.ListStale(ctx, model.LaneExtraction, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	before, err := repo.FindByID(ctx, open.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Heartbeat(ctx, open.ID))
	after, err := repo.FindByID(ctx, open.ID)
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	require.NoError(t, repo.AppendLog(ctx, &model.ProcessingLog{EntityID: "doc-2", Lane: model.LaneExtraction, Step: "extract", Status: "ok"}))
	require.NoError(t, repo.AppendLog(ctx, &model.ProcessingLog{EntityID: "doc-2", Lane: model.LaneExtraction, Step: "index", Status: "ok"}))
	logs, err := repo.ListLogs(ctx, "doc-2")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "extract", logs[0].Step)
}
