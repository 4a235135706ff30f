package bot

import (
	"fmt"
	"strings"

	"silentfeed/internal/model"
	"silentfeed/internal/urlnorm"
)

// ParseIDArg extracts a feed ID or ID prefix from a command argument string.
func ParseIDArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("feed ID is required")
	}
	return fields[0], nil
}

// ParseURLArg extracts and validates a feed URL.
func ParseURLArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("feed URL is required")
	}
	if err := urlnorm.Validate(fields[0]); err != nil {
		return "", err
	}
	return fields[0], nil
}

// ParseStatusArgs parses an optional list of feed statuses.
func ParseStatusArgs(args string) ([]model.FeedStatus, error) {
	var out []model.FeedStatus
	for _, s := range strings.Fields(strings.ReplaceAll(args, ",", " ")) {
		st := model.FeedStatus(strings.ToLower(s))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q, use: candidate, subscribed, ignored", s)
		}
		out = append(out, st)
	}
	return out, nil
}
