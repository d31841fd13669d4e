package service

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseItemID normalizes an item identifier. Both the bare numeric id
// ("7") and the prefixed zero-padded code ("I007") map to the same
// item.
func ParseItemID(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if len(s) > 0 && (s[0] == 'I' || s[0] == 'i') {
		s = s[1:]
	}

	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}
