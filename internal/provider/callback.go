package provider

// RecordIDParam is the query parameter adapters append to status callback URLs so
// callbacks can be matched to a record without a correlation id lookup.
const RecordIDParam = "record_id"
