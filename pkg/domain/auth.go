package domain

import "fmt"

// AuthResponseType is the outcome of an authorization request.
type AuthResponseType string

const (
	AuthResponseAuthorized AuthResponseType = "AUTHORIZED"
	AuthResponseDenied     AuthResponseType = "DENIED"
	AuthResponseFailed     AuthResponseType = "FAILED"
)

// AuthResponse is the state of an authorization request once the user has
// responded to it.
type AuthResponse struct {
	AuthRequestID      string
	Authorized         bool
	UserHash           string
	OrganizationUserID string
	UserPushID         string
	DeviceID           string
	ServicePins        []string

	Type         AuthResponseType
	Reason       string
	DenialReason string
}

// NewAuthResponse combines an auth response envelope with its decrypted package.
func NewAuthResponse(resp ServiceV3AuthsGetResponse, pkg AuthPackage) AuthResponse {
	out := AuthResponse{
		AuthRequestID:      pkg.AuthRequest.String(),
		Authorized:         pkg.Response,
		UserHash:           resp.ServiceUserHash,
		OrganizationUserID: resp.OrgUserHash,
		UserPushID:         resp.UserPushID,
		DeviceID:           pkg.DeviceID,
		ServicePins:        pkg.ServicePins,
		Type:               AuthResponseType(pkg.Type),
		Reason:             pkg.Reason,
		DenialReason:       pkg.DenialReason,
	}

	if out.Type == "" {
		if out.Authorized {
			out.Type = AuthResponseAuthorized
		} else {
			out.Type = AuthResponseDenied
		}
	} else {
		out.Authorized = out.Type == AuthResponseAuthorized
	}

	return out
}

func (r AuthResponse) String() string {
	return fmt.Sprintf("AuthResponse{authRequestId=%q, authorized=%t, userHash=%q, organizationUserId=%q, userPushId=%q, deviceId=%q}",
		r.AuthRequestID, r.Authorized, r.UserHash, r.OrganizationUserID, r.UserPushID, r.DeviceID)
}
