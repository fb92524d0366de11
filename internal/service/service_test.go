package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/database"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tasks"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []tasks.PipelineTask
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task tasks.PipelineTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

type fakeChunkIndex struct {
	deleted []string
}

func (f *fakeChunkIndex) DeleteDocument(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fixture struct {
	docs       repository.DocumentRepository
	gens       repository.GenerationRepository
	templates  repository.TemplateRepository
	jobs       repository.JobRepository
	store      *storage.MemoryStore
	dispatcher *fakeDispatcher
	index      *fakeChunkIndex

	documents   DocumentService
	generations GenerationService
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)

	f := &fixture{
		docs:       repository.NewDocumentRepository(db),
		gens:       repository.NewGenerationRepository(db),
		templates:  repository.NewTemplateRepository(db),
		jobs:       repository.NewJobRepository(db),
		store:      storage.NewMemoryStore(),
		dispatcher: &fakeDispatcher{},
		index:      &fakeChunkIndex{},
	}
	f.documents = NewDocumentService(f.docs, f.jobs, f.index, f.store, f.dispatcher)
	f.generations = NewGenerationService(f.gens, f.docs, f.templates, f.jobs, f.store, f.dispatcher)
	return f
}

func (f *fixture) completedDocument(t *testing.T, listingID string) *model.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.documents.Submit(ctx, SubmitRequest{ListingID: listingID, FileName: "cim.txt", Data: []byte("hello")})
	require.NoError(t, err)
	ok, err := f.docs.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.docs.MarkCompleted(ctx, doc.ID, 1))
	return doc
}

func (f *fixture) template(t *testing.T, formats ...string) *model.Template {
	t.Helper()
	tmpl, err := NewTemplateService(f.templates).Create(context.Background(), &model.Template{
		Name:          "Standard OM",
		Body:          "# {{company_name}}",
		OutputFormats: formats,
		Variables: []model.Variable{
			{Name: "company_name", Fallback: "The Company", Kind: model.KindShortText},
		},
	})
	require.NoError(t, err)
	return tmpl
}

func TestDocumentService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("stores object and enqueues extraction", func(t *testing.T) {
		f := setupFixture(t)
		doc, err := f.documents.Submit(ctx, SubmitRequest{
			ListingID: "listing-1",
			FileName:  "notes.txt",
			MimeType:  "text/plain; charset=utf-8",
			Data:      []byte("Revenue was strong."),
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, doc.Status)
		assert.Equal(t, "text/plain", doc.MimeType)
		assert.Equal(t, int64(19), doc.Size)
		assert.Equal(t, "documents/listing-1/"+doc.ID+"/notes.txt", doc.StorageKey)

		data, err := f.store.Get(ctx, doc.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, "Revenue was strong.", string(data))

		require.Len(t, f.dispatcher.tasks, 1)
		task := f.dispatcher.tasks[0]
		assert.Equal(t, model.LaneExtraction, task.Lane)
		assert.Equal(t, doc.ID, task.EntityID)

		job, err := f.jobs.FindByID(ctx, task.JobID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, job.Status)
	})

	t.Run("unsupported format is rejected before any I/O", func(t *testing.T) {
		f := setupFixture(t)
		_, err := f.documents.Submit(ctx, SubmitRequest{
			ListingID: "listing-1",
			FileName:  "movie.mp4",
			MimeType:  "video/mp4",
			Data:      []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p'},
		})
		assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
		assert.Empty(t, f.store.Keys())
		assert.Empty(t, f.dispatcher.tasks)

		docs, err := f.documents.ListByListing(ctx, "listing-1")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("missing listing id", func(t *testing.T) {
		f := setupFixture(t)
		_, err := f.documents.Submit(ctx, SubmitRequest{FileName: "a.txt", Data: []byte("x")})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("dispatch failure still records the job", func(t *testing.T) {
		f := setupFixture(t)
		f.dispatcher.err = errors.New("broker down")
		doc, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
		require.NoError(t, err)

		unfinished, err := f.jobs.ListUnfinished(ctx, model.LaneExtraction)
		require.NoError(t, err)
		require.Len(t, unfinished, 1)
		assert.Equal(t, doc.ID, unfinished[0].EntityID)
	})
}

func TestResolveMimeType(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")
	tests := []struct {
		name     string
		declared string
		file     string
		data     []byte
		want     string
	}{
		{"declared wins", "text/markdown", "a.bin", nil, "text/markdown"},
		{"octet stream falls through to sniffing", "application/octet-stream", "report", pdf, "application/pdf"},
		{"sniffed when undeclared", "", "report", pdf, "application/pdf"},
		{"extension as last resort", "", "facts.json", nil, "application/json"},
		{"unknown", "", "blob", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveMimeType(tt.declared, tt.file, tt.data))
		})
	}
}

func TestDocumentService_Resubmit(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	doc, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
	require.NoError(t, err)

	t.Run("pending document cannot be resubmitted", func(t *testing.T) {
		_, err := f.documents.Resubmit(ctx, doc.ID)
		assert.ErrorIs(t, err, model.ErrPreconditionFailed)
	})

	t.Run("failed document resets to pending on the same row", func(t *testing.T) {
		require.NoError(t, f.docs.MarkFailed(ctx, doc.ID, "extraction failed: empty"))
		got, err := f.documents.Resubmit(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Nil(t, got.ErrorDetail)
		assert.Len(t, f.dispatcher.tasks, 2)
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := f.documents.Resubmit(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestDocumentService_Delete(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	doc, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, f.documents.Delete(ctx, doc.ID))
	assert.Equal(t, []string{doc.ID}, f.index.deleted)
	assert.Empty(t, f.store.Keys())
	_, err = f.documents.GetStatus(ctx, doc.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, f.documents.Delete(ctx, doc.ID), model.ErrNotFound)
}

func TestGenerationService_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("no completed documents creates no row", func(t *testing.T) {
		f := setupFixture(t)
		tmpl := f.template(t, model.FormatPDF)
		_, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
		require.NoError(t, err)

		_, err = f.generations.Request(ctx, "listing-1", tmpl.ID)
		assert.ErrorIs(t, err, model.ErrPreconditionFailed)

		gens, err := f.generations.ListByListing(ctx, "listing-1")
		require.NoError(t, err)
		assert.Empty(t, gens)
	})

	t.Run("unknown template", func(t *testing.T) {
		f := setupFixture(t)
		f.completedDocument(t, "listing-1")
		_, err := f.generations.Request(ctx, "listing-1", "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("enqueues generation", func(t *testing.T) {
		f := setupFixture(t)
		tmpl := f.template(t, model.FormatPDF, model.FormatDOCX)
		f.completedDocument(t, "listing-1")

		gen, err := f.generations.Request(ctx, "listing-1", tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, gen.Status)

		last := f.dispatcher.tasks[len(f.dispatcher.tasks)-1]
		assert.Equal(t, model.LaneGeneration, last.Lane)
		assert.Equal(t, gen.ID, last.EntityID)

		t.Run("regenerate creates a new row", func(t *testing.T) {
			again, err := f.generations.Regenerate(ctx, gen.ID)
			require.NoError(t, err)
			assert.NotEqual(t, gen.ID, again.ID)
			require.NotNil(t, again.RegeneratedFrom)
			assert.Equal(t, gen.ID, *again.RegeneratedFrom)

			gens, err := f.generations.ListByListing(ctx, "listing-1")
			require.NoError(t, err)
			assert.Len(t, gens, 2)
		})
	})
}

func TestGenerationService_DownloadArtifact(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	tmpl := f.template(t, model.FormatPDF)
	f.completedDocument(t, "listing-1")
	gen, err := f.generations.Request(ctx, "listing-1", tmpl.ID)
	require.NoError(t, err)

	t.Run("not ready while pending", func(t *testing.T) {
		_, err := f.generations.DownloadArtifact(ctx, gen.ID, model.FormatPDF)
		assert.ErrorIs(t, err, model.ErrNotReady)
	})

	t.Run("undeclared format is not found", func(t *testing.T) {
		_, err := f.generations.DownloadArtifact(ctx, gen.ID, model.FormatDOCX)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("unknown format is not found", func(t *testing.T) {
		_, err := f.generations.DownloadArtifact(ctx, gen.ID, "html")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	key := "generated/listing-1/" + gen.ID + ".pdf"
	ok, err := f.gens.MarkProcessing(ctx, gen.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.gens.MarkCompleted(ctx, gen.ID, nil, &key, nil))

	t.Run("missing object is not found", func(t *testing.T) {
		_, err := f.generations.DownloadArtifact(ctx, gen.ID, model.FormatPDF)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("completed artifact", func(t *testing.T) {
		require.NoError(t, f.store.Put(ctx, key, []byte("%PDF-1.3"), "application/pdf"))
		art, err := f.generations.DownloadArtifact(ctx, gen.ID, "PDF")
		require.NoError(t, err)
		assert.Equal(t, gen.ID+".pdf", art.FileName)
		assert.Equal(t, "application/pdf", art.ContentType)
		assert.Equal(t, "%PDF-1.3", string(art.Data))
	})
}

func TestTemplateService_Create(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	svc := NewTemplateService(f.templates)
	q := "  "

	t.Run("assigns ids and sort order", func(t *testing.T) {
		tmpl, err := svc.Create(ctx, &model.Template{
			Name:          "OM",
			Body:          "{{a}} {{b}}",
			OutputFormats: []string{" PDF "},
			Variables: []model.Variable{
				{Name: "b", Fallback: "B", Kind: model.KindShortText},
				{Name: "a", Question: &q, Fallback: "A", Kind: model.KindEnumerable},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, tmpl.ID)
		assert.Equal(t, 1, tmpl.Version)

		got, err := svc.Get(ctx, tmpl.ID)
		require.NoError(t, err)
		require.Len(t, got.Variables, 2)
		assert.Equal(t, "b", got.Variables[0].Name)
		assert.Nil(t, got.Variables[1].Question)
		assert.True(t, got.DeclaresFormat(model.FormatPDF))
	})

	invalid := []struct {
		name string
		tmpl *model.Template
	}{
		{"no formats", &model.Template{Name: "x", Body: "b"}},
		{"unknown format", &model.Template{Name: "x", Body: "b", OutputFormats: []string{"html"}}},
		{"bad kind", &model.Template{Name: "x", Body: "b", OutputFormats: []string{"pdf"},
			Variables: []model.Variable{{Name: "v", Fallback: "f", Kind: "poem"}}}},
		{"bad variable name", &model.Template{Name: "x", Body: "b", OutputFormats: []string{"pdf"},
			Variables: []model.Variable{{Name: "has space", Fallback: "f", Kind: model.KindShortText}}}},
		{"duplicate variable", &model.Template{Name: "x", Body: "b", OutputFormats: []string{"pdf"},
			Variables: []model.Variable{
				{Name: "v", Fallback: "f", Kind: model.KindShortText},
				{Name: "v", Fallback: "g", Kind: model.KindShortText},
			}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.tmpl)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRecoverJobs(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	f.dispatcher.err = errors.New("broker down")
	_, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
	require.NoError(t, err)
	f.dispatcher.err = nil

	n, err := RecoverJobs(ctx, f.jobs, f.dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.dispatcher.tasks, 1)
	assert.Equal(t, model.LaneExtraction, f.dispatcher.tasks[0].Lane)
}

func TestRecoverStaleJobs(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	f.dispatcher.err = errors.New("broker down")
	_, err := f.documents.Submit(ctx, SubmitRequest{ListingID: "listing-1", FileName: "a.txt", Data: []byte("x")})
	require.NoError(t, err)
	f.dispatcher.err = nil

	t.Run("recent jobs are left alone", func(t *testing.T) {
		n, err := RecoverStaleJobs(ctx, f.jobs, f.dispatcher, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, f.dispatcher.tasks)
	})

	t.Run("a job without progress is dispatched again", func(t *testing.T) {
		n, err := RecoverStaleJobs(ctx, f.jobs, f.dispatcher, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.Len(t, f.dispatcher.tasks, 1)
		assert.Equal(t, model.LaneExtraction, f.dispatcher.tasks[0].Lane)
	})
}

type fakeSearcher struct {
	k int
}

func (s *fakeSearcher) Query(_ context.Context, _, _ string, k int) ([]model.ChunkHit, error) {
	s.k = k
	return []model.ChunkHit{{DocumentID: "d", Content: "c"}}, nil
}

func TestSearchService_Query(t *testing.T) {
	ctx := context.Background()
	idx := &fakeSearcher{}
	svc := NewSearchService(idx, 8)

	_, err := svc.Query(ctx, "listing-1", "  ", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	hits, err := svc.Query(ctx, "listing-1", "revenue", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, 8, idx.k)

	_, err = svc.Query(ctx, "listing-1", "revenue", 500)
	require.NoError(t, err)
	assert.Equal(t, maxSearchK, idx.k)
}
