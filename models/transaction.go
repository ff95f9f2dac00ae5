package models

// Transaction kinds recorded on the ledger.
const (
	TxRegisterProvider = "register_provider"
	TxCreateService    = "create_service"
	TxAddPlannedStop   = "add_planned_stop"
	TxIssueTicket      = "issue_ticket"
	TxActivateTicket   = "activate_ticket"
	TxExpireTicket     = "expire_ticket"
)

// Transaction is one committed ledger write. Parents reference the previous
// transaction touching the same subject, so every ticket and service forms a
// chain inside the ledger DAG.
type Transaction struct {
	ID        string            `json:"id"`         // 0x-prefixed content hash
	Parents   []string          `json:"parents"`    // parent transaction IDs
	Kind      string            `json:"kind"`       // one of the Tx* constants
	Subject   string            `json:"subject"`    // ticket, service or provider ID
	Sender    string            `json:"sender"`     // account that submitted the write
	Fields    map[string]string `json:"fields"`     // kind-specific arguments
	Height    uint64            `json:"height"`     // position in the ledger
	CreatedAt int64             `json:"created_at"` // unix timestamp in ms
}

// Checkpoint records the ledger head after a commit.
type Checkpoint struct {
	ID        string `json:"id"`
	Height    uint64 `json:"height"`
	HeadTx    string `json:"head_tx"`
	Timestamp int64  `json:"timestamp"`
}
