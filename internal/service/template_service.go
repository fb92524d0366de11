package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"om-smart-go/internal/model"
	"om-smart-go/internal/render"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/log"
)

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TemplateService 接口定义了模板维护相关的业务操作。
type TemplateService interface {
	Create(ctx context.Context, tmpl *model.Template) (*model.Template, error)
	Get(ctx context.Context, id string) (*model.Template, error)
	List(ctx context.Context) ([]model.Template, error)
}

type templateService struct {
	templates repository.TemplateRepository
	validate  *validator.Validate
}

// NewTemplateService 创建一个新的 TemplateService 实例。
func NewTemplateService(templates repository.TemplateRepository) TemplateService {
	return &templateService{templates: templates, validate: validator.New()}
}

// Create 校验并保存模板。变量按提交顺序编号，ID 由服务端生成。
func (s *templateService) Create(ctx context.Context, tmpl *model.Template) (*model.Template, error) {
	if tmpl.Version == 0 {
		tmpl.Version = 1
	}
	for i := range tmpl.OutputFormats {
		tmpl.OutputFormats[i] = strings.ToLower(strings.TrimSpace(tmpl.OutputFormats[i]))
	}
	if fields := s.check(tmpl); len(fields) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describe(fields))
	}

	tmpl.ID = uuid.NewString()
	declared := make(map[string]bool, len(tmpl.Variables))
	for i := range tmpl.Variables {
		v := &tmpl.Variables[i]
		v.ID = 0
		v.TemplateID = tmpl.ID
		v.SortOrder = i
		if v.Question != nil && strings.TrimSpace(*v.Question) == "" {
			v.Question = nil
		}
		declared[v.Name] = true
	}
	for _, name := range render.Placeholders(tmpl.Body) {
		if !declared[name] {
			log.Warnf("[TemplateService] 模板 %s 引用了未声明的变量 {{%s}}，渲染时将原样保留", tmpl.Name, name)
		}
	}

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, err
	}
	log.Infof("[TemplateService] 模板已创建, ID: %s, name: %s, version: %d, variables: %d", tmpl.ID, tmpl.Name, tmpl.Version, len(tmpl.Variables))
	return tmpl, nil
}

// check 返回字段到失败原因的映射，空映射表示通过。
func (s *templateService) check(tmpl *model.Template) map[string]string {
	out := make(map[string]string)
	if err := s.validate.Struct(tmpl); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				out[e.Namespace()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
			}
		} else {
			out["template"] = err.Error()
		}
	}
	seen := make(map[string]bool, len(tmpl.Variables))
	for i, v := range tmpl.Variables {
		field := fmt.Sprintf("Template.Variables[%d].Name", i)
		switch {
		case v.Name == "":
		case !variableName.MatchString(v.Name):
			out[field] = "must match " + variableName.String()
		case seen[v.Name]:
			out[field] = "duplicate variable " + v.Name
		}
		seen[v.Name] = true
	}
	return out
}

func describe(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+fields[k])
	}
	return strings.Join(parts, "; ")
}

func (s *templateService) Get(ctx context.Context, id string) (*model.Template, error) {
	return s.templates.FindByID(ctx, id)
}

func (s *templateService) List(ctx context.Context) ([]model.Template, error) {
	return s.templates.List(ctx)
}
