package model

import (
	"time"

	"gorm.io/datatypes"
)

// ResolvedValue 是生成时刻某个变量的取值快照。
type ResolvedValue struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// GeneratedDocument 对应 generated_documents 表，一次模板渲染对应一行。
// completed / failed 之后不再修改，重新生成会新建一行。
type GeneratedDocument struct {
	ID              string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	ListingID       string                              `gorm:"type:varchar(64);not null;index" json:"listingId"`
	TemplateID      string                              `gorm:"type:varchar(36);not null;index" json:"templateId"`
	Status          Status                              `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	ResolvedValues  datatypes.JSONType[[]ResolvedValue] `json:"resolvedValues"`
	PDFKey          *string                             `gorm:"type:varchar(512)" json:"-"`
	DOCXKey         *string                             `gorm:"type:varchar(512)" json:"-"`
	ErrorDetail     *string                             `gorm:"type:text" json:"error,omitempty"`
	RegeneratedFrom *string                             `gorm:"type:varchar(36)" json:"regeneratedFrom,omitempty"`
	CreatedAt       time.Time                           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time                           `gorm:"autoUpdateTime" json:"updatedAt"`
	CompletedAt     *time.Time                          `json:"completedAt,omitempty"`
}

func (GeneratedDocument) TableName() string {
	return "generated_documents"
}

// ArtifactKey 返回指定格式产物在对象存储中的位置，未生成时返回空串。
func (g *GeneratedDocument) ArtifactKey(format string) string {
	var key *string
	switch format {
	case FormatPDF:
		key = g.PDFKey
	case FormatDOCX:
		key = g.DOCXKey
	}
	if key == nil {
		return ""
	}
	return *key
}
