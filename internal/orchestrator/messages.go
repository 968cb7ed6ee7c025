package orchestrator

// queryMsg is the closed set of messages exchanged between the controller
// and its workers. Every message carries the query ID as its sole
// correlation key; handlers are exhaustive over these four variants.
type queryMsg interface {
	queryID() string
}

// PaymentValidationRequest asks the payment worker to validate one payment.
type PaymentValidationRequest struct {
	QueryID      string
	TxRef        string
	PayerAddress string
	UseCredits   bool
}

// PaymentValidationResponse is the payment worker's verdict.
type PaymentValidationResponse struct {
	QueryID string
	OK      bool
	Reason  string
}

// KnowledgeQueryRequest asks the knowledge worker to answer one question.
type KnowledgeQueryRequest struct {
	QueryID  string
	Question string
	TenantID string
}

// KnowledgeQueryResponse is the knowledge worker's outcome.
type KnowledgeQueryResponse struct {
	QueryID string
	Success bool
	Answer  string
	Err     string
}

func (m PaymentValidationRequest) queryID() string  { return m.QueryID }
func (m PaymentValidationResponse) queryID() string { return m.QueryID }
func (m KnowledgeQueryRequest) queryID() string     { return m.QueryID }
func (m KnowledgeQueryResponse) queryID() string    { return m.QueryID }
