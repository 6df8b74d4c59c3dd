package models

// All модели для AutoMigrate (порядок важен для внешних ключей)
func All() []interface{} {
	return []interface{}{
		&UoM{},
		&Location{},
		&Product{},
		&BOM{},
		&BOMLine{},
		&Quant{},
		&Workplace{},
		&IPV{},
		&IPVLine{},
		&Picking{},
		&StockMove{},
		&StockMoveLine{},
		&User{},
		&Sequence{},
	}
}
