package models

// Keys of the fields added to every persisted record.
const (
	FieldStartTimeISO = "Start Time ISO"
	FieldWeekFrom     = "WeekFrom"
	FieldReportDate   = "ReportDate"
	FieldCreatedAt    = "createdAt"
)

// ReportDateLayout is the day/month/year layout of WeekFrom and ReportDate.
const ReportDateLayout = "02/01/2006"

// DefaultEpochFields are the record fields holding the event start time in
// epoch milliseconds, in lookup order.
var DefaultEpochFields = []string{"Start Time", "starttime"}

// Record is one search result row.
type Record = map[string]any
