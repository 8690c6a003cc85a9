package entities

import "github.com/JonMunkholm/flightrecorder/internal/core"

func init() {
	registerAdGroup()
	registerKeyword()
	registerAdCreative()
}

func registerAdGroup() {
	core.Register(core.EntitySchema{
		EntityType: "ad_group",
		Group:      GroupStructure,
		Label:      "Ad Groups",
		KeyFields:  []string{"campaign_id", "ad_group_id"},
		LabelField: "ad_group_name",
		Fields: concat(
			scalar("ad_group_name", "status", "ad_group_type"),
			numeric("cpc_bid_micros", "cpm_bid_micros", "target_cpa_micros"),
		),
	})
}

func registerKeyword() {
	core.Register(core.EntitySchema{
		EntityType: "keyword",
		Group:      GroupStructure,
		Label:      "Keywords",
		KeyFields:  []string{"campaign_id", "ad_group_id", "keyword_criterion_id"},
		LabelField: "match_type",
		Fields: concat(
			scalar("keyword_text", "match_type", "status"),
			numeric("cpc_bid_micros"),
			scalar("final_url"),
		),
	})
}

// Responsive search ads. Headline and description lists are compared as
// whole JSON documents.
func registerAdCreative() {
	core.Register(core.EntitySchema{
		EntityType: "ad_creative",
		Group:      GroupStructure,
		Label:      "Ad Creatives",
		KeyFields:  []string{"ad_group_id", "ad_id"},
		Fields: concat(
			blobs("headlines_json", "descriptions_json"),
			scalar("final_urls", "path1", "path2"),
			blobs("policy_summary_json"),
			scalar("status"),
		),
	})
}
