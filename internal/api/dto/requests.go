package dto

// DisposeRequest is the body of POST /api/review/{ledger_id}.
type DisposeRequest struct {
	ExternalID string `json:"external_id"`
	Action     string `json:"action"` // accept or reject
}

// Valid reports whether the request is well formed.
func (r DisposeRequest) Valid() bool {
	return r.ExternalID != "" && (r.Action == "accept" || r.Action == "reject")
}
