package txn

// Physical names shared by every store backend.
const (
	Table        = "tokenledger_transactions"
	ArchiveTable = "tokenledger_transactions_archive"

	AttrID             = "id"
	AttrUserID         = "user_id"
	AttrBeneficiaryID  = "beneficiary_id"
	AttrType           = "type"
	AttrAmount         = "amount"
	AttrPurpose        = "purpose"
	AttrRefID          = "ref_id"
	AttrIdempotencyKey = "idempotency_key"
	AttrMetadata       = "metadata"
	AttrExpiresAt      = "expires_at"
	AttrState          = "state"
	AttrVersion        = "version"
	AttrSettledAt      = "settled_at"
	AttrCreatedAt      = "created_at"
	AttrUpdatedAt      = "updated_at"
	AttrArchivedAt     = "archived_at"

	IndexUserCreated        = "idx_tokenledger_txn_user_created"
	IndexBeneficiaryCreated = "idx_tokenledger_txn_beneficiary_created"
	IndexRefState           = "idx_tokenledger_txn_ref_state"
	IndexRefType            = "idx_tokenledger_txn_ref_type"
	IndexStateExpires       = "idx_tokenledger_txn_state_expires"
	IndexCreated            = "idx_tokenledger_txn_created"
	IndexIdempotencyKey     = "idx_tokenledger_txn_idempotency_key"
	IndexArchiveUser        = "idx_tokenledger_txn_archive_user"
)
