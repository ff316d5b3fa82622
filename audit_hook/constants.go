package audithook

// Action constants for audit events.
const (
	// Transaction actions
	ActionTransactionRecorded = "transaction.recorded"

	// Hold actions
	ActionHoldOpened   = "hold.opened"
	ActionHoldCaptured = "hold.captured"
	ActionHoldReversed = "hold.reversed"
	ActionHoldExtended = "hold.extended"
	ActionHoldsExpired = "holds.expired"

	// Transfer actions
	ActionTransferCompleted = "transfer.completed"
	ActionTransferFailed    = "transfer.failed"

	// Integrity actions
	ActionBalanceNegative    = "balance.negative"
	ActionIntegrityViolation = "integrity.violation"

	// Retention actions
	ActionRecordsPurged = "records.purged"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceHold        = "hold"
	ResourceTransfer    = "transfer"
	ResourceBalance     = "balance"
	ResourceRegistry    = "registry"
)

// Category constants for audit events.
const (
	CategoryLedger    = "ledger"
	CategoryHold      = "hold"
	CategoryTransfer  = "transfer"
	CategoryIntegrity = "integrity"
	CategoryRetention = "retention"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
