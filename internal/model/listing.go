package model

// Listing 对应 listings 表。该表由 listing 服务维护，这里只读取生成所需的结构化事实。
type Listing struct {
	ID          string   `gorm:"type:varchar(64);primaryKey" json:"id"`
	CompanyName string   `gorm:"type:varchar(255)" json:"companyName"`
	Industry    string   `gorm:"type:varchar(128)" json:"industry"`
	Location    string   `gorm:"type:varchar(255)" json:"location"`
	Revenue     *float64 `json:"revenue,omitempty"`
	EBITDA      *float64 `gorm:"column:ebitda" json:"ebitda,omitempty"`
	AskingPrice *float64 `json:"askingPrice,omitempty"`
	Employees   *int     `json:"employees,omitempty"`
}

func (Listing) TableName() string {
	return "listings"
}
