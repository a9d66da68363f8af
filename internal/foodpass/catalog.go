package foodpass

// PowerCatalog lists power unlocks in the order tiers hand them out.
var PowerCatalog = []string{
	"chili_dash",
	"mustard_shield",
	"popcorn_burst",
	"sushi_roll",
	"garlic_aura",
	"honey_trap",
	"pretzel_twist",
	"espresso_rush",
	"lemon_squeeze",
	"taco_tornado",
	"donut_ring",
	"pickle_pierce",
	"wasabi_blast",
	"cheese_wall",
	"marshmallow_float",
	"pepper_storm",
	"noodle_whip",
	"cinnamon_spin",
	"broccoli_heal",
	"golden_burger",
}
