package database

// Payment event queries.
const (
	queryGetPaymentEvent = `
		SELECT transaction_hash, settlement_reference, source_network, payer, payee,
		       token_address, token_symbol, gross_amount, platform_fee, block_number,
		       block_timestamp, processed, notified, error_message, created_at
		FROM payment_events
		WHERE transaction_hash = ? AND settlement_reference = ? AND source_network = ?`

	queryUpsertPaymentEvent = `
		INSERT INTO payment_events (
			transaction_hash, settlement_reference, source_network, payer, payee,
			token_address, token_symbol, gross_amount, platform_fee, block_number,
			block_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash, settlement_reference, source_network) DO NOTHING`

	queryMarkEventProcessed = `
		UPDATE payment_events SET processed = 1
		WHERE transaction_hash = ? AND settlement_reference = ? AND source_network = ?`

	queryMarkEventDropped = `
		UPDATE payment_events SET processed = 1, error_message = ?
		WHERE transaction_hash = ? AND settlement_reference = ? AND source_network = ?`

	queryMarkEventNotified = `
		UPDATE payment_events SET notified = 1
		WHERE transaction_hash = ? AND settlement_reference = ? AND source_network = ?`

	queryListUnprocessedEvents = `
		SELECT transaction_hash, settlement_reference, source_network, payer, payee,
		       token_address, token_symbol, gross_amount, platform_fee, block_number,
		       block_timestamp, processed, notified, error_message, created_at
		FROM payment_events
		WHERE processed = 0
		ORDER BY created_at ASC
		LIMIT ?`
)

// Ledger record queries.
const (
	queryGetLedgerRecord = `
		SELECT kind, id, user_id, title, amount, token_symbol, status,
		       payment_tx_hash, paid_amount, paid_at, version, created_at, updated_at
		FROM ledger_records
		WHERE kind = ? AND id = ?`

	// Conditional transition: only pre-payment states may advance to paid.
	// Zero rows affected means another processor won the race.
	queryMarkRecordPaid = `
		UPDATE ledger_records
		SET status = 'paid', payment_tx_hash = ?, paid_amount = ?, paid_at = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE kind = ? AND id = ? AND status IN ('draft', 'pending')`

	queryInsertLedgerRecord = `
		INSERT INTO ledger_records (kind, id, user_id, title, amount, token_symbol, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// Off-ramp transaction queries.
const (
	queryInsertOfframp = `
		INSERT INTO offramp_transactions (
			id, user_id, source_amount, source_token, source_network,
			fiat_amount, fiat_currency, rate, bank_details, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`

	queryGetOfframp = `
		SELECT id, user_id, source_amount, source_token, source_network,
		       fiat_amount, fiat_currency, rate, bank_details, status,
		       order_id, receive_address, chain_tx_hash, payout_order_id,
		       error_step, error_message, version, created_at, updated_at
		FROM offramp_transactions
		WHERE id = ?`

	queryTransitionOfframpStatus = `
		UPDATE offramp_transactions
		SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`

	querySetOfframpOrder = `
		UPDATE offramp_transactions
		SET order_id = ?, receive_address = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	querySetOfframpQuote = `
		UPDATE offramp_transactions
		SET source_network = ?, rate = ?, fiat_amount = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`
)

const (
	// Records the broadcast transfer and advances pending -> processing in one
	// conditional write. The chain_tx_hash guard makes a second transfer for
	// the same funds impossible to persist.
	querySetOfframpChainTx = `
		UPDATE offramp_transactions
		SET chain_tx_hash = ?, status = 'processing', version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending' AND chain_tx_hash = ''`

	querySetOfframpPayout = `
		UPDATE offramp_transactions
		SET payout_order_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryCancelOfframp = `
		UPDATE offramp_transactions
		SET status = 'failed', error_step = 'cancellation', error_message = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`

	queryMarkOfframpFailed = `
		UPDATE offramp_transactions
		SET status = 'failed', error_step = ?, error_message = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'processing')`

	// When the transfer never broadcast the retry re-runs balance selection
	// and order creation, so the stale order and its deposit address are
	// discarded along with the chain hash. Keeping them would let a transfer
	// on a freshly selected network target the old network's address.
	queryResetOfframpForRetry = `
		UPDATE offramp_transactions
		SET status = 'pending', payout_order_id = '', error_step = '', error_message = '',
		    chain_tx_hash = CASE WHEN ? THEN '' ELSE chain_tx_hash END,
		    order_id = CASE WHEN ? THEN '' ELSE order_id END,
		    receive_address = CASE WHEN ? THEN '' ELSE receive_address END,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'failed'`

	queryListOfframpByStatus = `
		SELECT id, user_id, source_amount, source_token, source_network,
		       fiat_amount, fiat_currency, rate, bank_details, status,
		       order_id, receive_address, chain_tx_hash, payout_order_id,
		       error_step, error_message, version, created_at, updated_at
		FROM offramp_transactions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`
)

// Off-ramp session queries.
const (
	queryDeleteUserSessions = `DELETE FROM offramp_sessions WHERE user_id = ?`

	queryInsertSession = `
		INSERT INTO offramp_sessions (id, user_id, step, data, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetSession = `
		SELECT id, user_id, step, data, created_at, updated_at, expires_at
		FROM offramp_sessions
		WHERE id = ?`

	queryGetActiveSession = `
		SELECT id, user_id, step, data, created_at, updated_at, expires_at
		FROM offramp_sessions
		WHERE user_id = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryUpdateSession = `
		UPDATE offramp_sessions
		SET step = ?, data = ?, updated_at = ?
		WHERE id = ?`

	queryDeleteSession = `DELETE FROM offramp_sessions WHERE id = ?`

	queryDeleteExpiredSessions = `DELETE FROM offramp_sessions WHERE expires_at <= ?`
)
