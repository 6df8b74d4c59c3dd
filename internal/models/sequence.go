package models

// Sequence счетчик кодов документов (IPV/00001)
type Sequence struct {
	Code       string `json:"code" gorm:"type:varchar(64);primaryKey"`
	Prefix     string `json:"prefix" gorm:"type:varchar(32)"`
	Padding    int    `json:"padding" gorm:"default:5"`
	NextNumber int64  `json:"next_number" gorm:"not null;default:1"`
}

// TableName указывает имя таблицы
func (Sequence) TableName() string {
	return "ir_sequences"
}
