package session

// Fixed names of the two persisted values. Every backend stores the pair under these keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// CredentialPair is the access token together with the refresh token used to renew it.
// A stored pair is either complete or absent.
type CredentialPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are set.
func (p CredentialPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Empty reports whether neither token is set.
func (p CredentialPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}
