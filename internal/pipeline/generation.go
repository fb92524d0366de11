package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"om-smart-go/internal/model"
	"om-smart-go/internal/render"
	"om-smart-go/internal/repository"
	"om-smart-go/internal/resolver"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tasks"
)

// VariableResolver 为模板变量取值，单个变量失败时退化为 fallback。
type VariableResolver interface {
	ResolveAll(ctx context.Context, vars []model.Variable, listingID string, facts resolver.Facts) []model.ResolvedValue
}

// ArtifactRenderer 渲染 PDF / DOCX 产物。
type ArtifactRenderer interface {
	Render(cover render.Cover, body string, values []model.ResolvedValue, formats []string) (*render.Artifacts, error)
}

var contentTypes = map[string]string{
	model.FormatPDF:  "application/pdf",
	model.FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// GenerationProcessor 处理生成队列：加载模板 -> 解析变量 -> 渲染 -> 上传 -> 完成。
type GenerationProcessor struct {
	gens      repository.GenerationRepository
	templates repository.TemplateRepository
	listings  repository.ListingRepository
	logs      LogWriter
	resolver  VariableResolver
	renderer  ArtifactRenderer
	store     storage.ObjectStore
	banner    string
	now       func() time.Time
}

func NewGenerationProcessor(
	gens repository.GenerationRepository,
	templates repository.TemplateRepository,
	listings repository.ListingRepository,
	logs LogWriter,
	res VariableResolver,
	renderer ArtifactRenderer,
	store storage.ObjectStore,
	banner string,
) *GenerationProcessor {
	return &GenerationProcessor{
		gens:      gens,
		templates: templates,
		listings:  listings,
		logs:      logs,
		resolver:  res,
		renderer:  renderer,
		store:     store,
		banner:    banner,
		now:       time.Now,
	}
}

// ArtifactKey 返回产物在对象存储中的位置。
func ArtifactKey(gen *model.GeneratedDocument, format string) string {
	return fmt.Sprintf("generated/%s/%s.%s", gen.ListingID, gen.ID, format)
}

func (p *GenerationProcessor) Process(ctx context.Context, task tasks.PipelineTask) error {
	steps := stepLogger{logs: p.logs, lane: model.LaneGeneration, entityID: task.EntityID}

	gen, err := p.gens.FindByID(ctx, task.EntityID)
	if err != nil {
		return err
	}
	if gen.Status.IsTerminal() {
		log.Infof("[Generator] 生成记录已处于终态 %s, 跳过: %s", gen.Status, gen.ID)
		return nil
	}
	claimed, err := p.gens.MarkProcessing(ctx, gen.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	tmpl, err := p.templates.FindByID(ctx, gen.TemplateID)
	if err != nil {
		return fmt.Errorf("加载模板 %s 失败: %w", gen.TemplateID, err)
	}
	listing, err := p.listings.FindByID(ctx, gen.ListingID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		log.Warnf("[Generator] listing %s 不存在, 结构化事实全部为 Not specified", gen.ListingID)
		listing = nil
	case err != nil:
		return err
	}
	log.Infof("[Generator] 开始生成, ID: %s, 模板: %s v%d, 变量数: %d", gen.ID, tmpl.Name, tmpl.Version, len(tmpl.Variables))

	started := time.Now()
	values := p.resolver.ResolveAll(ctx, tmpl.Variables, gen.ListingID, resolver.FactsFromListing(listing))
	fallbacks := 0
	for _, v := range values {
		if v.Fallback {
			fallbacks++
		}
	}
	steps.record(ctx, StepResolve, started, nil, func(e *model.ProcessingLog) {
		e.Message = fmt.Sprintf("%d variables, %d fallback", len(values), fallbacks)
	})

	started = time.Now()
	art, err := p.renderer.Render(p.cover(tmpl, listing), tmpl.Body, values, tmpl.OutputFormats)
	steps.record(ctx, StepRender, started, err, nil)
	if err != nil {
		log.Errorf("[Generator] 渲染失败, ID: %s: %v", gen.ID, err)
		return err
	}

	started = time.Now()
	keys := map[string]*string{}
	for _, format := range tmpl.OutputFormats {
		data := art.PDF
		if format == model.FormatDOCX {
			data = art.DOCX
		}
		key := ArtifactKey(gen, format)
		if err := p.store.Put(ctx, key, data, contentTypes[format]); err != nil {
			steps.record(ctx, StepUpload, started, err, nil)
			return fmt.Errorf("上传产物 %s 失败: %w", key, err)
		}
		keys[format] = ptr(key)
	}
	steps.record(ctx, StepUpload, started, nil, nil)

	if err := p.gens.MarkCompleted(ctx, gen.ID, values, keys[model.FormatPDF], keys[model.FormatDOCX]); err != nil {
		return err
	}
	log.Infof("[Generator] 生成完成, ID: %s, fallback 变量: %d/%d", gen.ID, fallbacks, len(values))
	return nil
}

func (p *GenerationProcessor) cover(tmpl *model.Template, listing *model.Listing) render.Cover {
	title := tmpl.Name
	if listing != nil && listing.CompanyName != "" {
		title = listing.CompanyName
	}
	return render.Cover{
		Title:    title,
		Subtitle: "Confidential Offering Memorandum",
		Banner:   p.banner,
		Date:     p.now().Format("January 2006"),
	}
}

func (p *GenerationProcessor) MarkFailed(ctx context.Context, task tasks.PipelineTask, cause error) {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	if err := p.gens.MarkFailed(context.WithoutCancel(ctx), task.EntityID, detail, nil); err != nil {
		log.Errorf("[Generator] 标记生成失败状态出错, ID: %s: %v", task.EntityID, err)
		return
	}
	log.Warnf("[Generator] 生成失败, ID: %s, 原因: %s", task.EntityID, detail)
}
