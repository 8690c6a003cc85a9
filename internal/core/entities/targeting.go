package entities

import "github.com/JonMunkholm/flightrecorder/internal/core"

func init() {
	registerNegativeKeyword()
	registerAudienceTargeting()
	registerDeviceModifier()
	registerGeoTargeting()
	registerConversionAction()
}

// Campaign-level criteria (negatives, audiences, device modifiers) are
// exported with ad_group_id "0".
func registerNegativeKeyword() {
	core.Register(core.EntitySchema{
		EntityType: "negative_keyword",
		Group:      GroupTargeting,
		Label:      "Negative Keywords",
		KeyFields:  []string{"campaign_id", "ad_group_id", "criterion_id"},
		LabelField: "keyword_text",
		Fields:     scalar("keyword_text", "match_type", "level"),
	})
}

func registerAudienceTargeting() {
	core.Register(core.EntitySchema{
		EntityType: "audience_targeting",
		Group:      GroupTargeting,
		Label:      "Audience Targeting",
		KeyFields:  []string{"campaign_id", "ad_group_id", "criterion_id"},
		LabelField: "audience_name",
		Fields: concat(
			scalar("audience_type", "audience_id", "audience_name", "targeting_mode", "status"),
			rates("bid_modifier"),
			scalar("negative"),
		),
	})
}

func registerDeviceModifier() {
	core.Register(core.EntitySchema{
		EntityType: "device_modifier",
		Group:      GroupTargeting,
		Label:      "Device Bid Modifiers",
		KeyFields:  []string{"campaign_id", "ad_group_id", "device_type"},
		Fields:     rates("bid_modifier"),
	})
}

func registerGeoTargeting() {
	core.Register(core.EntitySchema{
		EntityType: "geo_targeting",
		Group:      GroupTargeting,
		Label:      "Geo Targeting",
		KeyFields:  []string{"campaign_id", "criterion_id"},
		LabelField: "geo_name",
		Fields: concat(
			scalar(
				"criterion_type",
				"geo_target_constant",
				"geo_name",
				"negative",
				"positive_geo_target_type",
				"negative_geo_target_type",
				"proximity_street_address",
				"proximity_city_name",
			),
			rates("radius"),
			scalar("radius_units"),
			numeric("latitude_micro", "longitude_micro"),
		),
	})
}

func registerConversionAction() {
	core.Register(core.EntitySchema{
		EntityType: "conversion_action",
		Group:      GroupTargeting,
		Label:      "Conversion Actions",
		KeyFields:  []string{"conversion_action_id"},
		LabelField: "name",
		Fields: concat(
			scalar(
				"name",
				"status",
				"type",
				"category",
				"counting_type",
				"primary_for_goal",
				"include_in_conversions_metric",
				"attribution_model",
			),
			rates("default_value"),
			numeric("click_through_lookback_window_days"),
		),
	})
}
