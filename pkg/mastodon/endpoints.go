package mastodon

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mastogone/pkg/config"
)

const (
	// VerifyCredentialsEndpoint returns the account owning the token
	VerifyCredentialsEndpoint = "/api/v1/accounts/verify_credentials"

	// AccountStatusesEndpoint lists an account's statuses, newest first
	AccountStatusesEndpoint = "/api/v1/accounts/%s/statuses"

	// StatusEndpoint addresses a single status
	StatusEndpoint = "/api/v1/statuses/%s"

	// DefaultStatusLimit is the server default page size
	DefaultStatusLimit = 20

	// MaxStatusLimit is the largest page size the server honours
	MaxStatusLimit = 40
)

// NormalizeBaseURL trims whitespace and trailing slashes and defaults to https
func NormalizeBaseURL(raw string) string {
	return config.NormalizeBaseURL(raw)
}

// GetVerifyCredentialsURL constructs the credential check URL
func GetVerifyCredentialsURL(baseURL string) string {
	return baseURL + VerifyCredentialsEndpoint
}

// GetAccountStatusesURL constructs the URL of one page of statuses older than maxID
func GetAccountStatusesURL(baseURL, accountID, maxID string, limit int) string {
	if limit <= 0 {
		limit = DefaultStatusLimit
	} else if limit > MaxStatusLimit {
		limit = MaxStatusLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if maxID != "" {
		params.Set("max_id", maxID)
	}

	return fmt.Sprintf("%s"+AccountStatusesEndpoint+"?%s", baseURL, url.PathEscape(accountID), params.Encode())
}

// GetStatusURL constructs the URL of a single status
func GetStatusURL(baseURL, statusID string) string {
	return fmt.Sprintf("%s"+StatusEndpoint, baseURL, url.PathEscape(statusID))
}

// NextMaxIDFromLink extracts max_id from the rel="next" entry of a Link
// header. It returns "" when there is no next page.
func NextMaxIDFromLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}

		isNext := false
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}

		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Query().Get("max_id")
	}
	return ""
}
