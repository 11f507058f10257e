package model

import "github.com/gosimple/slug"

// MakeSlug builds the URL slug for a hack: the title and the owner's
// username, lowercased, with every run of other characters turned into a
// single hyphen.
//
//	MakeSlug("Reuse Glass Jars Daily", "greenuser") // "reuse-glass-jars-daily-greenuser"
func MakeSlug(title, username string) string {
	return slug.Make(title + "-" + username)
}
