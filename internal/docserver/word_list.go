package docserver

// Call ids are built from these lists: one word from each of four distinct lists.

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "narwhal", "dolphin", "whale",
	"beaver", "ferret", "raccoon", "seahorse", "starfish", "lamb", "fawn", "duckling", "mole", "weasel",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
	"lasagna", "pizza", "dumpling", "noodle", "omelette", "quiche", "kebab", "falafel", "samosa", "gnocchi",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "brave", "calm", "swift", "bouncy", "fuzzy", "plucky",
}

var things = []string{
	"lantern", "puddle", "pebble", "rocket", "comet", "orbit", "nebula", "canyon", "ridge", "meadow",
	"willow", "ember", "marble", "maple", "breeze", "button", "thimble", "biscuit", "pixel", "sprout",
}

var wordLists = [][]string{animals, dishes, adjectives, things}
