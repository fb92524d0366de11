package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"om-smart-go/internal/chunker"
	"om-smart-go/internal/extractor"
	"om-smart-go/internal/index"
	"om-smart-go/internal/model"
	"om-smart-go/internal/render"
	"om-smart-go/internal/repository"
	"om-smart-go/internal/resolver"
	"om-smart-go/pkg/database"
	"om-smart-go/pkg/kafka"
	"om-smart-go/pkg/llm"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tasks"
)

type flatEmbedder struct {
	mu       sync.Mutex
	failures int
}

func (e *flatEmbedder) Model() string { return "flat" }

func (e *flatEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures > 0 {
		e.failures--
		return nil, errors.New("rate limited")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 1}
	}
	return out, nil
}

type failingVision struct{ calls int }

func (v *failingVision) Transcribe(context.Context, string, []byte, string) (string, error) {
	v.calls++
	return "", errors.New("vision timeout")
}

// scriptedGenerator 对包含 "UNAVAILABLE" 的问题返回错误，其余返回固定答案。
type scriptedGenerator struct{}

func (scriptedGenerator) Generate(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	last := messages[len(messages)-1].Content
	if strings.Contains(last, "UNAVAILABLE") {
		return "", errors.New("provider returned 503")
	}
	return "  Acme builds industrial pumps.  ", nil
}

type harness struct {
	docs      repository.DocumentRepository
	chunks    repository.ChunkRepository
	gens      repository.GenerationRepository
	templates repository.TemplateRepository
	jobs      repository.JobRepository
	listings  repository.ListingRepository
	store     *storage.MemoryStore
	embedder  *flatEmbedder
	vision    *failingVision
	index     *index.Index

	extraction *ExtractionProcessor
	generation *GenerationProcessor
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)

	h := &harness{
		docs:      repository.NewDocumentRepository(db),
		chunks:    repository.NewChunkRepository(db),
		gens:      repository.NewGenerationRepository(db),
		templates: repository.NewTemplateRepository(db),
		jobs:      repository.NewJobRepository(db),
		listings:  repository.NewListingRepository(db),
		store:     storage.NewMemoryStore(),
		embedder:  &flatEmbedder{},
		vision:    &failingVision{},
	}
	h.index = index.New(chunker.New(), h.embedder, h.chunks, index.NewDatabaseStore(h.chunks))
	h.extraction = NewExtractionProcessor(h.docs, h.jobs, h.store, extractor.New(nil, h.vision), h.index)

	res := resolver.New(h.index, scriptedGenerator{}, resolver.WithConcurrency(1))
	h.generation = NewGenerationProcessor(h.gens, h.templates, h.listings, h.jobs, res, render.New("A4", 20), h.store, "CONFIDENTIAL")
	h.generation.now = func() time.Time { return time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC) }
	return h
}

// submit 写入原始文件、文档行和任务行，返回待执行的任务。
func (h *harness) submit(t *testing.T, id, listingID, mimeType string, data []byte) tasks.PipelineTask {
	t.Helper()
	ctx := context.Background()
	key := "documents/" + listingID + "/" + id
	require.NoError(t, h.store.Put(ctx, key, data, mimeType))
	require.NoError(t, h.docs.Create(ctx, &model.Document{
		ID: id, ListingID: listingID, FileName: id, MimeType: mimeType,
		Size: int64(len(data)), StorageKey: key, Status: model.StatusPending,
	}))
	job := &model.PipelineJob{Lane: model.LaneExtraction, EntityID: id, Status: model.StatusPending}
	require.NoError(t, h.jobs.Create(ctx, job))
	return tasks.PipelineTask{JobID: job.ID, Lane: model.LaneExtraction, EntityID: id}
}

func (h *harness) runner(p kafka.TaskProcessor) *kafka.Runner {
	return kafka.NewRunner(p, h.jobs, kafka.WithBackoff(0))
}

func TestExtraction_TextDocument(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	text := strings.Repeat("Revenue grew steadily. ", 70)[:1500]
	task := h.submit(t, "doc-1", "listing-1", "text/plain", []byte(text))
	h.runner(h.extraction).Run(ctx, task)

	doc, err := h.docs.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Equal(t, model.MethodDirectRead, doc.Metadata.Data().Method)
	assert.Equal(t, 1, doc.ChunkCount)
	require.NotNil(t, doc.ExtractedText)

	job, err := h.jobs.FindByID(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)

	logs, err := h.jobs.ListLogs(ctx, "doc-1")
	require.NoError(t, err)
	var steps []string
	for _, l := range logs {
		steps = append(steps, l.Step)
		assert.Equal(t, stepOK, l.Status)
	}
	assert.Equal(t, []string{StepDownload, StepExtract, StepIndex}, steps)
	assert.Equal(t, 1, logs[2].ChunksCreated)

	t.Run("redelivery of a completed document is a no-op", func(t *testing.T) {
		require.NoError(t, h.extraction.Process(ctx, task))
		n, err := h.chunks.CountByDocumentID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestExtraction_LongTextProducesOverlappingChunks(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	var b strings.Builder
	for b.Len() < 20000 {
		b.WriteString("The company operates three plants and employs skilled staff. ")
	}
	task := h.submit(t, "doc-long", "listing-1", "text/plain", []byte(b.String()))
	h.runner(h.extraction).Run(ctx, task)

	doc, err := h.docs.FindByID(ctx, "doc-long")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, doc.Status)
	assert.Greater(t, doc.ChunkCount, 1)

	rows, err := h.chunks.FindByDocumentID(ctx, "doc-long")
	require.NoError(t, err)
	require.Len(t, rows, doc.ChunkCount)
	for i, r := range rows {
		assert.Equal(t, i, r.Seq)
		assert.LessOrEqual(t, len([]rune(r.Content)), 2000)
		if i > 0 {
			assert.Less(t, r.StartOffset, rows[i-1].EndOffset)
		}
	}
}

func TestExtraction_EmptyTextCompletesWithoutChunks(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.submit(t, "doc-empty", "listing-1", "text/plain", []byte(" \n\t \n"))
	h.runner(h.extraction).Run(ctx, task)

	doc, err := h.docs.FindByID(ctx, "doc-empty")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Zero(t, doc.ChunkCount)
}

func TestExtraction_VisionFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.submit(t, "scan", "listing-1", "image/png", []byte{0x89, 'P', 'N', 'G'})
	h.runner(h.extraction).Run(ctx, task)

	doc, err := h.docs.FindByID(ctx, "scan")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorDetail)
	assert.Contains(t, *doc.ErrorDetail, "vision timeout")
	assert.Equal(t, 1, h.vision.calls)

	job, err := h.jobs.FindByID(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)

	t.Run("sibling documents are unaffected", func(t *testing.T) {
		other := h.submit(t, "notes", "listing-1", "text/plain", []byte("Plain notes."))
		h.runner(h.extraction).Run(ctx, other)
		doc, err := h.docs.FindByID(ctx, "notes")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, doc.Status)
	})
}

func TestExtraction_EmbeddingRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure recovers", func(t *testing.T) {
		h := setupHarness(t)
		h.embedder.failures = 2
		task := h.submit(t, "doc-1", "listing-1", "text/plain", []byte("Some text."))
		h.runner(h.extraction).Run(ctx, task)

		doc, err := h.docs.FindByID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, doc.Status)
		job, err := h.jobs.FindByID(ctx, task.JobID)
		require.NoError(t, err)
		assert.Equal(t, 3, job.Attempts)
	})

	t.Run("exhausted attempts mark failed", func(t *testing.T) {
		h := setupHarness(t)
		h.embedder.failures = 10
		task := h.submit(t, "doc-1", "listing-1", "text/plain", []byte("Some text."))
		h.runner(h.extraction).Run(ctx, task)

		doc, err := h.docs.FindByID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, doc.Status)
		require.NotNil(t, doc.ErrorDetail)
		assert.Contains(t, *doc.ErrorDetail, model.ErrEmbeddingFailed.Error())
		require.NotNil(t, doc.ExtractedText)
	})
}

func TestExtraction_ReusesSavedText(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.submit(t, "doc-1", "listing-1", "text/plain", []byte("Original upload."))
	ok, err := h.docs.MarkProcessing(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.docs.SaveExtraction(ctx, "doc-1", "Saved text.", model.ExtractionMetadata{Method: model.MethodDirectRead}))
	require.NoError(t, h.store.Delete(ctx, "documents/listing-1/doc-1"))

	require.NoError(t, h.extraction.Process(ctx, task))

	rows, err := h.chunks.FindByDocumentID(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Saved text.", rows[0].Content)
}

func TestExtraction_MissingObjectIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.submit(t, "doc-1", "listing-1", "text/plain", []byte("x"))
	require.NoError(t, h.store.Delete(ctx, "documents/listing-1/doc-1"))
	h.runner(h.extraction).Run(ctx, task)

	doc, err := h.docs.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
}

func strPtr(s string) *string { return &s }

func (h *harness) generationTask(t *testing.T, tmpl *model.Template, listingID string) tasks.PipelineTask {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.templates.Create(ctx, tmpl))
	gen := &model.GeneratedDocument{ID: "gen-" + tmpl.ID, ListingID: listingID, TemplateID: tmpl.ID, Status: model.StatusPending}
	require.NoError(t, h.gens.Create(ctx, gen))
	job := &model.PipelineJob{Lane: model.LaneGeneration, EntityID: gen.ID, Status: model.StatusPending}
	require.NoError(t, h.jobs.Create(ctx, job))
	return tasks.PipelineTask{JobID: job.ID, Lane: model.LaneGeneration, EntityID: gen.ID}
}

func omTemplate(id string, formats ...string) *model.Template {
	return &model.Template{
		ID:            id,
		Name:          "Standard OM " + id,
		Version:       1,
		Body:          "# Overview\n\n{{overview}}\n\n## Financials\n\n{{financials}}\n\n## Pricing\n\n- Asking price: {{price}}\n",
		OutputFormats: formats,
		Variables: []model.Variable{
			{Name: "overview", Question: strPtr("What does the company do?"), Fallback: "Overview not available.", Kind: model.KindLongText, SortOrder: 0},
			{Name: "financials", Question: strPtr("UNAVAILABLE revenue history?"), Fallback: "Financials available on request.", Kind: model.KindLongText, SortOrder: 1},
			{Name: "price", Fallback: "Price on application", Kind: model.KindShortText, SortOrder: 2},
		},
	}
}

func TestGeneration_VariableFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	doc := h.submit(t, "doc-1", "listing-1", "text/plain", []byte("Acme Pumps manufactures industrial pumps in Ohio."))
	h.runner(h.extraction).Run(ctx, doc)

	task := h.generationTask(t, omTemplate("t1", model.FormatPDF, model.FormatDOCX), "listing-1")
	h.runner(h.generation).Run(ctx, task)

	gen, err := h.gens.FindByID(ctx, task.EntityID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, gen.Status)

	values := gen.ResolvedValues.Data()
	require.Len(t, values, 3)
	assert.Equal(t, "overview", values[0].Name)
	assert.Equal(t, "Acme builds industrial pumps.", values[0].Value)
	assert.False(t, values[0].Fallback)

	assert.True(t, values[1].Fallback)
	assert.Equal(t, "Financials available on request.", values[1].Value)
	assert.Equal(t, resolver.ReasonGenerationError, values[1].Reason)

	assert.True(t, values[2].Fallback)
	assert.Equal(t, resolver.ReasonNoQuestion, values[2].Reason)

	pdf, err := h.store.Get(ctx, gen.ArtifactKey(model.FormatPDF))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
	docx, err := h.store.Get(ctx, gen.ArtifactKey(model.FormatDOCX))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(docx, []byte("PK")))
}

func TestGeneration_NoDocumentsAllFallback(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.generationTask(t, omTemplate("t2", model.FormatPDF, model.FormatDOCX), "listing-empty")
	h.runner(h.generation).Run(ctx, task)

	gen, err := h.gens.FindByID(ctx, task.EntityID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, gen.Status)
	for _, v := range gen.ResolvedValues.Data() {
		assert.True(t, v.Fallback, v.Name)
	}
	assert.Equal(t, resolver.ReasonNoContext, gen.ResolvedValues.Data()[0].Reason)

	for _, format := range []string{model.FormatPDF, model.FormatDOCX} {
		key := gen.ArtifactKey(format)
		require.NotEmpty(t, key, format)
		data, err := h.store.Get(ctx, key)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}

func TestGeneration_OnlyDeclaredFormats(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	task := h.generationTask(t, omTemplate("t3", model.FormatPDF), "listing-1")
	h.runner(h.generation).Run(ctx, task)

	gen, err := h.gens.FindByID(ctx, task.EntityID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, gen.Status)
	assert.Equal(t, ArtifactKey(gen, model.FormatPDF), gen.ArtifactKey(model.FormatPDF))
	assert.Empty(t, gen.ArtifactKey(model.FormatDOCX))
	assert.Len(t, h.store.Keys(), 1)
}

func TestGeneration_MissingTemplateFails(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	gen := &model.GeneratedDocument{ID: "gen-x", ListingID: "listing-1", TemplateID: "gone", Status: model.StatusPending}
	require.NoError(t, h.gens.Create(ctx, gen))
	job := &model.PipelineJob{Lane: model.LaneGeneration, EntityID: gen.ID, Status: model.StatusPending}
	require.NoError(t, h.jobs.Create(ctx, job))

	h.runner(h.generation).Run(ctx, tasks.PipelineTask{JobID: job.ID, Lane: model.LaneGeneration, EntityID: gen.ID})

	got, err := h.gens.FindByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "gone")

	stored, err := h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}
