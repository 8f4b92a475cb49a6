package storage

// Blob keys, one per persisted concern. Values are raw JSON documents
// with no versioning or migration; readers treat anything unparseable
// the same as a missing key.
const (
	KeyOrders         = "carbonx_orders"
	KeyPortfolio      = "carbonx_portfolio"
	KeyOrderHistory   = "carbonx_order_history"
	KeyHourlyMatching = "carbonx_hourly_matching"
	KeyCFECompliance  = "carbonx_cfe_compliance"
	KeyChartTimeframe = "carbonx_chart_timeframe"
	KeyTourCompleted  = "blockedge-tour-completed"
)
