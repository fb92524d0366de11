package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"om-smart-go/internal/extractor"
	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tasks"
)

// TextExtractor 把文件内容转换为纯文本，由 extractor.Extractor 实现。
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*extractor.Result, error)
}

// Indexer 对文本分块并写入向量索引，由 index.Index 实现。
type Indexer interface {
	EmbedAndStore(ctx context.Context, documentID, listingID, text string) (int, error)
}

// ExtractionProcessor 处理抽取队列：下载 -> 抽取 -> 保存文本 -> 分块向量化 -> 完成。
type ExtractionProcessor struct {
	docs      repository.DocumentRepository
	logs      LogWriter
	store     storage.ObjectStore
	extractor TextExtractor
	indexer   Indexer
}

func NewExtractionProcessor(docs repository.DocumentRepository, logs LogWriter, store storage.ObjectStore, ex TextExtractor, indexer Indexer) *ExtractionProcessor {
	return &ExtractionProcessor{docs: docs, logs: logs, store: store, extractor: ex, indexer: indexer}
}

// Process 处理一个文档。重复投递是安全的：已进入终态的文档直接跳过，
// 上次已保存的抽取文本会被复用，分块在写入前会先清理。
func (p *ExtractionProcessor) Process(ctx context.Context, task tasks.PipelineTask) error {
	steps := stepLogger{logs: p.logs, lane: model.LaneExtraction, entityID: task.EntityID}

	doc, err := p.docs.FindByID(ctx, task.EntityID)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		log.Infof("[Processor] 文档已处于终态 %s, 跳过: %s", doc.Status, doc.ID)
		return nil
	}
	claimed, err := p.docs.MarkProcessing(ctx, doc.ID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Infof("[Processor] 文档状态已变化, 跳过: %s", doc.ID)
		return nil
	}
	log.Infof("[Processor] 开始处理文档, ID: %s, FileName: %s, Mime: %s", doc.ID, doc.FileName, doc.MimeType)

	var text string
	if doc.ExtractedText != nil {
		text = *doc.ExtractedText
		log.Infof("[Processor] 复用已保存的抽取文本, 长度: %d 字符", utf8.RuneCountInString(text))
	} else {
		text, err = p.extract(ctx, steps, doc)
		if err != nil {
			return err
		}
	}

	started := time.Now()
	count, err := p.indexer.EmbedAndStore(ctx, doc.ID, doc.ListingID, text)
	steps.record(ctx, StepIndex, started, err, func(e *model.ProcessingLog) {
		e.TextLength = utf8.RuneCountInString(text)
		e.ChunksCreated = count
	})
	if err != nil {
		log.Errorf("[Processor] 向量化失败, ID: %s, 已写入 %d 个分块: %v", doc.ID, count, err)
		return err
	}

	if err := p.docs.MarkCompleted(ctx, doc.ID, count); err != nil {
		return err
	}
	log.Infof("[Processor] 文档处理完成, ID: %s, 分块数: %d", doc.ID, count)
	return nil
}

func (p *ExtractionProcessor) extract(ctx context.Context, steps stepLogger, doc *model.Document) (string, error) {
	started := time.Now()
	data, err := p.store.Get(ctx, doc.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		err = fmt.Errorf("%w: %w", model.ErrExtractionFailed, err)
	}
	steps.record(ctx, StepDownload, started, err, nil)
	if err != nil {
		log.Errorf("[Processor] 下载文件失败, Key: %s, Error: %v", doc.StorageKey, err)
		return "", err
	}
	log.Infof("[Processor] 文件下载成功, 大小: %d 字节", len(data))

	started = time.Now()
	res, err := p.extractor.Extract(ctx, data, doc.MimeType)
	steps.record(ctx, StepExtract, started, err, func(e *model.ProcessingLog) {
		if res != nil {
			e.TextLength = res.Metadata.CharCount
			e.Message = res.Metadata.Method
		}
	})
	if err != nil {
		log.Errorf("[Processor] 文本抽取失败, ID: %s, Error: %v", doc.ID, err)
		return "", err
	}
	log.Infof("[Processor] 文本抽取成功, 方式: %s, 长度: %d 字符", res.Metadata.Method, res.Metadata.CharCount)

	if err := p.docs.SaveExtraction(ctx, doc.ID, res.Text, res.Metadata); err != nil {
		return "", err
	}
	return res.Text, nil
}

// MarkFailed 把文档置为 failed 并记录错误详情，等待人工重新提交。
func (p *ExtractionProcessor) MarkFailed(ctx context.Context, task tasks.PipelineTask, cause error) {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	if err := p.docs.MarkFailed(context.WithoutCancel(ctx), task.EntityID, detail); err != nil {
		log.Errorf("[Processor] 标记文档失败状态出错, ID: %s: %v", task.EntityID, err)
		return
	}
	log.Warnf("[Processor] 文档处理失败, ID: %s, 原因: %s", task.EntityID, detail)
}
