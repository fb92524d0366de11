package model

import (
	"time"

	"gorm.io/datatypes"
)

// VariableKind 决定生成结果的格式要求。
type VariableKind string

const (
	KindShortText  VariableKind = "short_text"
	KindLongText   VariableKind = "long_text"
	KindEnumerable VariableKind = "enumerable"
)

// 模板声明的输出格式。
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
)

// Template 对应 templates 表：带 {{name}} 占位符的正文和一组有序变量。
type Template struct {
	ID            string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string                      `gorm:"type:varchar(128);not null;uniqueIndex:idx_template_name_version" json:"name" validate:"required,max=128"`
	Version       int                         `gorm:"not null;default:1;uniqueIndex:idx_template_name_version" json:"version" validate:"gte=1"`
	Body          string                      `gorm:"type:longtext;not null" json:"body" validate:"required"`
	OutputFormats datatypes.JSONSlice[string] `json:"outputFormats" validate:"required,min=1,dive,oneof=pdf docx"`
	Variables     []Variable                  `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"variables" validate:"dive"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Template) TableName() string {
	return "templates"
}

// DeclaresFormat 报告模板是否声明了指定的输出格式。
func (t *Template) DeclaresFormat(format string) bool {
	for _, f := range t.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Variable 对应 template_variables 表。Question 为空的变量不做检索，直接使用 Fallback。
type Variable struct {
	ID         uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_variable_template_name" json:"templateId"`
	Name       string       `gorm:"type:varchar(128);not null;uniqueIndex:idx_variable_template_name" json:"name" validate:"required,max=128"`
	Question   *string      `gorm:"type:text" json:"question,omitempty"`
	Fallback   string       `gorm:"type:text;not null" json:"fallback" validate:"required"`
	Kind       VariableKind `gorm:"type:varchar(16);not null" json:"kind" validate:"required,oneof=short_text long_text enumerable"`
	Required   bool         `gorm:"not null;default:false" json:"required"`
	SortOrder  int          `gorm:"not null;default:0" json:"sortOrder"`
}

func (Variable) TableName() string {
	return "template_variables"
}
