package entities

import "github.com/JonMunkholm/flightrecorder/internal/core"

func init() {
	registerOutcomes("campaign_outcomes", "Campaign Outcomes", []string{"campaign_id"}, "campaign_name")
	registerOutcomes("ad_group_outcomes", "Ad Group Outcomes", []string{"campaign_id", "ad_group_id"}, "ad_group_name")
	registerOutcomes("keyword_outcomes", "Keyword Outcomes", []string{"campaign_id", "ad_group_id", "keyword_criterion_id"}, "keyword_text")
	registerGA4Acquisition()
}

// outcomeFields are the daily performance metrics shared by every outcome
// level. Counters compare exactly; derived ratios within rateEpsilon.
func outcomeFields(nameField string) []core.FieldSpec {
	return concat(
		scalar(nameField),
		numeric("impressions", "clicks", "cost_micros"),
		rates("cost_amount", "conversions", "conversions_value", "ctr", "cpc", "cpa", "roas", "cvr"),
		rates("search_impression_share_pct", "search_rank_lost_impression_share_pct"),
	)
}

func registerOutcomes(entityType, label string, keys []string, nameField string) {
	core.Register(core.EntitySchema{
		EntityType: entityType,
		Group:      GroupOutcomes,
		Label:      label,
		KeyFields:  keys,
		LabelField: nameField,
		Fields:     outcomeFields(nameField),
	})
}

func registerGA4Acquisition() {
	core.Register(core.EntitySchema{
		EntityType: "ga4_acquisition",
		Group:      GroupGA4,
		Label:      "GA4 Acquisition",
		KeyFields:  []string{"report_type", "dimension_type", "dimension_value"},
		Fields: concat(
			numeric("sessions", "engaged_sessions"),
			rates("total_revenue"),
			numeric("event_count"),
			rates("key_events"),
			numeric("active_users"),
			rates("average_session_duration_sec", "engagement_rate", "bounce_rate"),
		),
	})
}
