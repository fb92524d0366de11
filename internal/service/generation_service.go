package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/storage"
)

var artifactContentTypes = map[string]string{
	model.FormatPDF:  "application/pdf",
	model.FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Artifact 是一个可下载的生成产物。
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// GenerationService 接口定义了 OM 生成相关的业务操作。
type GenerationService interface {
	Request(ctx context.Context, listingID, templateID string) (*model.GeneratedDocument, error)
	GetStatus(ctx context.Context, id string) (*model.GeneratedDocument, error)
	ListByListing(ctx context.Context, listingID string) ([]model.GeneratedDocument, error)
	Regenerate(ctx context.Context, id string) (*model.GeneratedDocument, error)
	DownloadArtifact(ctx context.Context, id, format string) (*Artifact, error)
}

type generationService struct {
	gens      repository.GenerationRepository
	docs      repository.DocumentRepository
	templates repository.TemplateRepository
	store     storage.ObjectStore
	queue     jobQueue
}

// NewGenerationService 创建一个新的 GenerationService 实例。
func NewGenerationService(
	gens repository.GenerationRepository,
	docs repository.DocumentRepository,
	templates repository.TemplateRepository,
	jobs repository.JobRepository,
	store storage.ObjectStore,
	dispatcher Dispatcher,
) GenerationService {
	return &generationService{
		gens:      gens,
		docs:      docs,
		templates: templates,
		store:     store,
		queue:     jobQueue{jobs: jobs, dispatcher: dispatcher},
	}
}

// Request 在 listing 至少有一个抽取完成的文档时创建生成记录并投递；否则不建行，直接返回 ErrPreconditionFailed。
func (s *generationService) Request(ctx context.Context, listingID, templateID string) (*model.GeneratedDocument, error) {
	if strings.TrimSpace(listingID) == "" || strings.TrimSpace(templateID) == "" {
		return nil, fmt.Errorf("%w: listing id and template id are required", ErrInvalidInput)
	}
	return s.create(ctx, listingID, templateID, nil)
}

func (s *generationService) create(ctx context.Context, listingID, templateID string, from *string) (*model.GeneratedDocument, error) {
	if _, err := s.templates.FindByID(ctx, templateID); err != nil {
		return nil, err
	}
	completed, err := s.docs.CountCompletedByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if completed == 0 {
		return nil, fmt.Errorf("%w: listing %s has no completed documents", model.ErrPreconditionFailed, listingID)
	}

	gen := &model.GeneratedDocument{
		ID:              uuid.NewString(),
		ListingID:       listingID,
		TemplateID:      templateID,
		Status:          model.StatusPending,
		RegeneratedFrom: from,
	}
	if err := s.gens.Create(ctx, gen); err != nil {
		return nil, err
	}
	if err := s.queue.enqueue(ctx, model.LaneGeneration, gen.ID); err != nil {
		return nil, err
	}
	log.Infof("[GenerationService] 生成任务已创建, ID: %s, listing: %s, template: %s", gen.ID, listingID, templateID)
	return gen, nil
}

func (s *generationService) GetStatus(ctx context.Context, id string) (*model.GeneratedDocument, error) {
	return s.gens.FindByID(ctx, id)
}

func (s *generationService) ListByListing(ctx context.Context, listingID string) ([]model.GeneratedDocument, error) {
	return s.gens.ListByListing(ctx, listingID)
}

// Regenerate 为同一 listing 和模板新建一行，原记录保持不变。
func (s *generationService) Regenerate(ctx context.Context, id string) (*model.GeneratedDocument, error) {
	prev, err := s.gens.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, prev.ListingID, prev.TemplateID, &prev.ID)
}

// DownloadArtifact 返回指定格式的产物。
// 模板未声明该格式时返回 ErrNotFound，生成未完成时返回 ErrNotReady。
func (s *generationService) DownloadArtifact(ctx context.Context, id, format string) (*Artifact, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	contentType, known := artifactContentTypes[format]
	if !known {
		return nil, fmt.Errorf("%w: unknown format %q", model.ErrNotFound, format)
	}

	gen, err := s.gens.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templates.FindByID(ctx, gen.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.DeclaresFormat(format) {
		return nil, fmt.Errorf("%w: template does not declare %s output", model.ErrNotFound, format)
	}
	if gen.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: generation is %s", model.ErrNotReady, gen.Status)
	}

	key := gen.ArtifactKey(format)
	if key == "" {
		return nil, fmt.Errorf("%w: no %s artifact recorded", model.ErrNotFound, format)
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %w", model.ErrNotFound, err)
		}
		return nil, err
	}
	return &Artifact{FileName: path.Base(key), ContentType: contentType, Data: data}, nil
}
