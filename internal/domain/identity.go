package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// IdentityKind tags the two identity variants.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityAnonymous     IdentityKind = "anonymous"
)

// Identity is either Authenticated(UserID) or Anonymous(DisplayName, DeviceID).
// Fields that do not belong to the variant are always empty.
type Identity struct {
	kind        IdentityKind
	userID      string
	displayName string
	deviceID    string
}

// Authenticated builds the identity of a logged-in user.
func Authenticated(userID string) Identity {
	return Identity{kind: IdentityAuthenticated, userID: userID}
}

// Anonymous builds the identity of a guest on a specific device.
func Anonymous(displayName, deviceID string) Identity {
	return Identity{kind: IdentityAnonymous, displayName: strings.TrimSpace(displayName), deviceID: deviceID}
}

func (i Identity) Kind() IdentityKind  { return i.kind }
func (i Identity) UserID() string      { return i.userID }
func (i Identity) DisplayName() string { return i.displayName }
func (i Identity) DeviceID() string    { return i.deviceID }

// IsLoggedIn reports whether the identity is authenticated.
func (i Identity) IsLoggedIn() bool { return i.kind == IdentityAuthenticated }

// Validate rejects identities missing their variant's required fields.
func (i Identity) Validate() error {
	switch i.kind {
	case IdentityAuthenticated:
		if i.userID == "" {
			return NewError(CodeValidation, "user id is required")
		}
	case IdentityAnonymous:
		if i.displayName == "" {
			return NewError(CodeValidation, "display name is required")
		}
		if i.deviceID == "" {
			return NewError(CodeValidation, "device id is required")
		}
	default:
		return NewError(CodeValidation, "identity is required")
	}
	return nil
}

// Equal compares identities per variant.
func (i Identity) Equal(other Identity) bool {
	if i.kind != other.kind {
		return false
	}
	if i.kind == IdentityAuthenticated {
		return i.userID == other.userID
	}
	return i.displayName == other.displayName && i.deviceID == other.deviceID
}

// Key is the stable storage key used to enforce one participant per
// (room, identity). Two identities share a key exactly when Equal holds;
// anonymous fields are quoted so no separator can appear inside them.
func (i Identity) Key() string {
	if i.kind == IdentityAuthenticated {
		return "user:" + strconv.Quote(i.userID)
	}
	return "anon:" + strconv.Quote(i.deviceID) + strconv.Quote(i.displayName)
}

type identityJSON struct {
	Kind        IdentityKind `json:"kind"`
	UserID      string       `json:"userId,omitempty"`
	DisplayName string       `json:"displayName,omitempty"`
	DeviceID    string       `json:"deviceId,omitempty"`
}

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{Kind: i.kind, UserID: i.userID, DisplayName: i.displayName, DeviceID: i.deviceID})
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case IdentityAuthenticated:
		*i = Authenticated(raw.UserID)
	case IdentityAnonymous:
		*i = Anonymous(raw.DisplayName, raw.DeviceID)
	default:
		*i = Identity{}
	}
	return nil
}
