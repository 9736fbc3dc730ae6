package platform

// Repository identifies a remote repository as returned by the listing
// endpoint. Values are never mutated after they are fetched.
type Repository struct {
	Owner   string
	Name    string
	Private bool
	Fork    bool
}

// FullName returns owner/name.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Visibility returns "private" or "public".
func (r Repository) Visibility() string {
	if r.Private {
		return "private"
	}
	return "public"
}

// PublicKey is a repository's Actions secret encryption key. KeyID must be
// echoed back when a secret encrypted with Key is uploaded.
type PublicKey struct {
	KeyID string
	Key   string
}
