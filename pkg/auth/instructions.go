package auth

import (
	"fmt"
	"io"
	"strings"
)

// RequiredScopes are the OAuth scopes a token needs
var RequiredScopes = []string{"read:accounts", "read:statuses", "write:statuses"}

// ShowTokenGuide writes step-by-step instructions for creating an access token
func ShowTokenGuide(w io.Writer, instance string) {
	if instance == "" {
		instance = "https://<your instance>"
	}
	settings := strings.TrimRight(instance, "/") + "/settings/applications"

	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "CREATING A MASTODON ACCESS TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Open "+settings)
	fmt.Fprintln(w, "   (Preferences > Development > New application)")
	fmt.Fprintln(w, "2. Give the application any name, e.g. \"mastogone\"")
	fmt.Fprintln(w, "3. Untick the default scopes and tick only:")
	for _, s := range RequiredScopes {
		fmt.Fprintln(w, "     - "+s)
	}
	fmt.Fprintln(w, "4. Submit, open the application and copy \"Your access token\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token can delete every post on your account. Never paste it")
	fmt.Fprintln(w, "on the command line; use 'mastogone auth login' or "+"MASTOGONE_TOKEN.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
