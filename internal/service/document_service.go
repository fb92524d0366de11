package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"om-smart-go/internal/extractor"
	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tika"
)

// SubmitRequest 是一次文档提交。MimeType 为空时根据内容和扩展名推断。
type SubmitRequest struct {
	ListingID string
	FileName  string
	MimeType  string
	Data      []byte
}

// ChunkIndex 删除文档在分块表和向量后端中的全部数据。
type ChunkIndex interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.Document, error)
	GetStatus(ctx context.Context, id string) (*model.Document, error)
	ListByListing(ctx context.Context, listingID string) ([]model.Document, error)
	Resubmit(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) error
	SupportedTypes() map[string][]string
}

type documentService struct {
	docs  repository.DocumentRepository
	index ChunkIndex
	store storage.ObjectStore
	queue jobQueue
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docs repository.DocumentRepository, jobs repository.JobRepository, index ChunkIndex, store storage.ObjectStore, dispatcher Dispatcher) DocumentService {
	return &documentService{
		docs:  docs,
		index: index,
		store: store,
		queue: jobQueue{jobs: jobs, dispatcher: dispatcher},
	}
}

// Submit 保存原始文件并投递抽取任务，返回 pending 状态的文档。
// 不支持的类型在任何存储操作之前被拒绝。
func (s *documentService) Submit(ctx context.Context, req SubmitRequest) (*model.Document, error) {
	if strings.TrimSpace(req.ListingID) == "" {
		return nil, fmt.Errorf("%w: listing id is required", ErrInvalidInput)
	}
	name := filepath.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}

	mimeType := ResolveMimeType(req.MimeType, name, req.Data)
	if !extractor.Supported(mimeType) {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, mimeType)
	}

	doc := &model.Document{
		ID:        uuid.NewString(),
		ListingID: req.ListingID,
		FileName:  name,
		MimeType:  mimeType,
		Size:      int64(len(req.Data)),
		Status:    model.StatusPending,
	}
	doc.StorageKey = fmt.Sprintf("documents/%s/%s/%s", doc.ListingID, doc.ID, name)

	if err := s.store.Put(ctx, doc.StorageKey, req.Data, mimeType); err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), doc.StorageKey)
		return nil, err
	}
	if err := s.queue.enqueue(ctx, model.LaneExtraction, doc.ID); err != nil {
		return nil, err
	}
	log.Infof("[DocumentService] 文档已提交, ID: %s, listing: %s, mime: %s, size: %d", doc.ID, doc.ListingID, mimeType, doc.Size)
	return doc, nil
}

func (s *documentService) GetStatus(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.FindByID(ctx, id)
}

func (s *documentService) ListByListing(ctx context.Context, listingID string) ([]model.Document, error) {
	return s.docs.ListByListing(ctx, listingID)
}

// Resubmit 把 failed 文档重置为 pending 并重新投递，复用同一行。
func (s *documentService) Resubmit(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.docs.ResetToPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: document is %s, only failed documents can be resubmitted", model.ErrPreconditionFailed, doc.Status)
	}
	if err := s.queue.enqueue(ctx, model.LaneExtraction, id); err != nil {
		return nil, err
	}
	log.Infof("[DocumentService] 文档已重新提交, ID: %s", id)
	return s.docs.FindByID(ctx, id)
}

// Delete 删除分块、向量、原始文件和文档行。
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("删除分块失败: %w", err)
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil {
		log.Warnf("[DocumentService] 删除原始文件失败, key: %s, err: %v", doc.StorageKey, err)
	}
	return s.docs.Delete(ctx, id)
}

func (s *documentService) SupportedTypes() map[string][]string {
	return extractor.SupportedMimeTypes()
}

// ResolveMimeType 依次使用声明类型、内容嗅探和扩展名确定 MIME 类型。
func ResolveMimeType(declared, fileName string, data []byte) string {
	if declared = extractor.BaseMediaType(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) > 0 {
		sniffed := extractor.BaseMediaType(mimetype.Detect(data).String())
		if extractor.Supported(sniffed) {
			return sniffed
		}
	}
	if byExt := extractor.BaseMediaType(tika.DetectMimeType(fileName)); byExt != "application/octet-stream" {
		return byExt
	}
	return "application/octet-stream"
}
