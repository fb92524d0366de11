package model

import (
	"time"

	"gorm.io/datatypes"
)

// 抽取方式，写入 ExtractionMetadata.Method。
const (
	MethodDirectRead       = "direct_read"
	MethodPDFTextLayer     = "pdf_text_layer"
	MethodVisionModel      = "vision_model"
	MethodWordStructure    = "word_structure"
	MethodPresentationText = "presentation_slides"
	MethodSpreadsheetCells = "spreadsheet_cells"
)

// ExtractionMetadata 记录抽取结果的统计信息。
type ExtractionMetadata struct {
	WordCount int    `json:"wordCount"`
	CharCount int    `json:"charCount"`
	PageCount int    `json:"pageCount,omitempty"`
	Method    string `json:"method"`
}

// Document 对应 documents 表，一条记录代表某个 listing 下上传的一个源文件。
// 状态只由抽取阶段推进，completed 之后除删除外不再修改。
type Document struct {
	ID            string                                 `gorm:"type:varchar(36);primaryKey" json:"id"`
	ListingID     string                                 `gorm:"type:varchar(64);not null;index" json:"listingId"`
	FileName      string                                 `gorm:"type:varchar(255);not null" json:"fileName"`
	MimeType      string                                 `gorm:"type:varchar(128);not null" json:"mimeType"`
	Size          int64                                  `gorm:"not null" json:"size"`
	StorageKey    string                                 `gorm:"type:varchar(512);not null" json:"-"`
	Status        Status                                 `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	ExtractedText *string                                `gorm:"type:longtext" json:"-"`
	ErrorDetail   *string                                `gorm:"type:text" json:"error,omitempty"`
	Metadata      datatypes.JSONType[ExtractionMetadata] `json:"metadata"`
	ChunkCount    int                                    `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt     time.Time                              `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time                              `gorm:"autoUpdateTime" json:"updatedAt"`
	CompletedAt   *time.Time                             `json:"completedAt,omitempty"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
