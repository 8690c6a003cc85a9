package entities

import "github.com/JonMunkholm/flightrecorder/internal/core"

func init() {
	registerCampaignControlState()
}

// Daily campaign settings: budgets, bidding, networks, geo and schedule.
func registerCampaignControlState() {
	core.Register(core.EntitySchema{
		EntityType: "campaign_control_state",
		Group:      GroupControl,
		Label:      "Campaign Control State",
		KeyFields:  []string{"campaign_id"},
		LabelField: "campaign_name",
		Fields: concat(
			scalar(
				"campaign_name",
				"status",
				"advertising_channel_type",
				"advertising_channel_sub_type",
			),
			numeric("daily_budget_micros"),
			rates("daily_budget_amount"),
			scalar("budget_delivery_method", "bidding_strategy_type"),
			numeric("target_cpa_micros"),
			rates("target_cpa_amount", "target_roas"),
			scalar("target_impression_share_location"),
			numeric("target_impression_share_location_fraction_micros"),
			scalar("geo_target_ids", "geo_negative_ids"),
			blobs("geo_radius_json", "location_presence_interest_json"),
			scalar("account_timezone"),
			blobs("device_modifiers_json"),
			scalar(
				"network_settings_target_google_search",
				"network_settings_target_search_network",
				"network_settings_target_content_network",
				"network_settings_target_partner_search_network",
			),
			blobs("ad_schedule_json"),
			numeric("audience_target_count"),
			scalar("campaign_type", "networks"),
			dates("campaign_start_date", "campaign_end_date"),
			scalar("location", "active_bid_adj", "devices"),
		),
	})
}
