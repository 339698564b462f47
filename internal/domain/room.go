package domain

// Room metadata. Participants live in a separate set keyed by room id; rooms
// are created and deleted by the REST surface, the core only reads metadata
// and mutates membership.
type Room struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Creator      string `json:"creator"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"createdAt"` // unix milliseconds
}

// HasPassword reports whether joining requires a password check.
func (r *Room) HasPassword() bool { return r.PasswordHash != "" }

// Participant is the profile slice broadcast on membership changes.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
