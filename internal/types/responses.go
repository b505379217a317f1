package types

// TransactionPage is one page of a transaction listing
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	TotalRecords int64         `json:"total_records"`
	TotalPages   int           `json:"total_pages"`
}

// Holding summarises a user's open lots in one company
type Holding struct {
	CompanyID string     `json:"company_id"`
	Quantity  int64      `json:"quantity"`
	Lots      []StockLot `json:"lots"`
}
