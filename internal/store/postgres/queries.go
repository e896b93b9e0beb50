package postgres

const scheduleColumns = `
    id, ticket_id, technician_id, technician_name, technician_email,
    window_start, window_end, status, confirmation_state,
    external_event_ref, confirmed_at, confirmed_by, confirmation_method,
    customer_invite_sent_at, cancel_reason, version, created_at, updated_at`

const queryInsertSchedule = `
INSERT INTO schedules (` + scheduleColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

const queryGetSchedule = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE id = $1
`

const queryUpdateSchedule = `
UPDATE schedules
SET ticket_id = $3,
    technician_id = $4,
    technician_name = $5,
    technician_email = $6,
    window_start = $7,
    window_end = $8,
    status = $9,
    confirmation_state = $10,
    external_event_ref = $11,
    confirmed_at = $12,
    confirmed_by = $13,
    confirmation_method = $14,
    customer_invite_sent_at = $15,
    cancel_reason = $16,
    updated_at = $17,
    version = version + 1
WHERE id = $1
  AND version = $2
`

const queryDeleteSchedule = `
DELETE FROM schedules
WHERE id = $1
  AND version = $2
`

const queryScheduleExists = `
SELECT 1 FROM schedules WHERE id = $1
`

const queryListActiveWindows = `
SELECT id, technician_id, technician_name, window_start, window_end
FROM schedules
WHERE technician_id = $1
  AND id <> $2
  AND confirmation_state IN ('tech_accepted', 'pending_customer', 'confirmed')
ORDER BY window_start
`

const queryListAwaitingResponse = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE confirmation_state IN ('pending_tech', 'pending_customer')
ORDER BY updated_at
LIMIT $1
`

const queryListForRange = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE window_start < $2
  AND window_end > $1
ORDER BY window_start
`

const queryListForRangeByTechnician = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE technician_id = $3
  AND window_start < $2
  AND window_end > $1
ORDER BY window_start
`
