package mysql

const insertSolarEstimateSQL = `
INSERT INTO solar_estimates
  (address, address_key, lat, lng, sunshine_hours, max_panels, max_array_area, carbon_offset, fetched_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Later completions for the same address replace the earlier row.
const upsertRecordSQL = `
INSERT INTO enrichment_records
  (address_key, address, session_id, record, completed_at)
VALUES
  (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  address      = VALUES(address),
  session_id   = VALUES(session_id),
  record       = VALUES(record),
  completed_at = VALUES(completed_at),
  updated_at   = CURRENT_TIMESTAMP
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const getRecordSQL = `
SELECT session_id, address, record, completed_at
FROM enrichment_records
WHERE address_key = ?
`

// Newest first; served by idx_solar_address (address_key, fetched_at).
const listSolarEstimatesSQL = `
SELECT address, lat, lng, sunshine_hours, max_panels, max_array_area, carbon_offset, fetched_at
FROM solar_estimates
WHERE address_key = ?
ORDER BY fetched_at DESC, id DESC
LIMIT ?
`
