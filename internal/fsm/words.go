package fsm

// Default name vocabularies. States and actions draw from disjoint pools so a
// rendered prompt can never confuse the two categories: states are nouns,
// actions are adjectives.
var defaultStatePool = []string{
	"ant", "ape", "bat", "bee", "camel", "cat", "cobra", "crow", "deer",
	"dog", "duck", "frog", "hamster", "horse", "lion", "monkey", "rabbit",
	"apple", "water", "ice", "fire", "desk", "table", "pen", "paper",
	"iron", "book", "class", "room", "day", "worker", "year", "life",
	"child", "family", "home", "mother", "story", "eye", "game", "face",
	"war", "health", "girl", "man", "level", "city", "wife", "king",
	"hair", "hall", "hotel", "park", "blood", "sound", "glass", "earth",
	"task", "radio", "peace", "image",
}

var defaultActionPool = []string{
	"blue", "red", "green", "yellow", "brown", "black", "white", "good",
	"bad", "new", "old", "small", "large", "short", "long", "hard",
	"easy", "open", "clear", "hot", "cold", "dark", "light", "weak",
	"strong", "sad", "happy", "dry", "full", "empty", "fast", "slow",
	"safe", "danger", "winter", "fall", "spring", "summer", "rich",
	"deep", "fat", "thin", "ill", "smart", "fun", "far", "live",
	"medium", "north", "south", "west", "east",
}

// DefaultStatePool returns a copy of the built-in state vocabulary.
func DefaultStatePool() []string {
	return append([]string(nil), defaultStatePool...)
}

// DefaultActionPool returns a copy of the built-in action vocabulary.
func DefaultActionPool() []string {
	return append([]string(nil), defaultActionPool...)
}
