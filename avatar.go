package main

import "unicode"

// The ten avatar colors, indexed deterministically by display name so every
// client renders the same color for the same participant without the server
// storing anything.
var avatarColors = [...]string{
	"#6c5ce7", "#00b894", "#fd79a8", "#fdcb6e", "#00cec9",
	"#e17055", "#0984e3", "#d63031", "#e84393", "#2d3436",
}

func avatarColor(name string) string {
	for _, r := range name {
		return avatarColors[int(r)%len(avatarColors)]
	}
	return avatarColors[0]
}

func avatarInitial(name string) string {
	for _, r := range name {
		return string(unicode.ToUpper(r))
	}
	return "?"
}
