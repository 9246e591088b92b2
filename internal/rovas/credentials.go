package rovas

import "strings"

// MinProjectID is the smallest valid Rovas project node id.
const MinProjectID = 2

// Credentials identify a Rovas user and the project a report is filed under.
// The zero value is not valid; use NewCredentials.
type Credentials struct {
	apiKey    string
	apiToken  string
	projectID int64
}

// NewCredentials validates and builds credentials. It returns false when the key or
// token is blank or the project id is below MinProjectID.
func NewCredentials(apiKey, apiToken string, projectID int64) (Credentials, bool) {
	apiKey = strings.TrimSpace(apiKey)
	apiToken = strings.TrimSpace(apiToken)
	if apiKey == "" || apiToken == "" || projectID < MinProjectID {
		return Credentials{}, false
	}
	return Credentials{apiKey: apiKey, apiToken: apiToken, projectID: projectID}, true
}

func (c Credentials) APIKey() string   { return c.apiKey }
func (c Credentials) APIToken() string { return c.apiToken }
func (c Credentials) ProjectID() int64 { return c.projectID }

// Valid reports whether c was built by NewCredentials.
func (c Credentials) Valid() bool {
	return c.apiKey != "" && c.apiToken != "" && c.projectID >= MinProjectID
}

// Masked returns the API key with all but the last four characters hidden.
func (c Credentials) Masked() string {
	return Mask(c.apiKey)
}

// Mask hides all but the last four characters of s.
func Mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
