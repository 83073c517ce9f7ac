package user

// User represents a local account on this install.
//
// Accounts are created at sign-up, mutated via profile update and never
// deleted. Email uniqueness is enforced by an existence pre-check at
// sign-up rather than a database constraint, so a duplicate surfaces as
// ErrEmailTaken instead of a driver error.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Password string `json:"-"`
	Name     string `json:"name"`

	// DateOfBirth is stored as the free-form string the client supplied
	// (e.g. "01-01-1990"); it is display data, not used in calculations.
	DateOfBirth string  `json:"date_of_birth"`
	Gender      string  `json:"gender"`
	Weight      float64 `json:"weight"`
	Height      float64 `json:"height"`

	// ProfileImageURI is an optional reference to a locally stored image.
	ProfileImageURI *string `json:"profile_image_uri,omitempty"`
}
