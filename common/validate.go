package common

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidEmail applies the same loose shape check the widget front end uses.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// Paging normalises page/limit query values: page defaults to 1 and limit to
// def, and limit is capped at max.
func Paging(page, limit, def, max int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = def
	}
	if page < 1 {
		return 0, 0, Invalid("page", "must be >= 1")
	}
	if limit < 1 || limit > max {
		return 0, 0, Invalid("limit", "must be between 1 and %d", max)
	}
	return page, limit, nil
}
