package domain

import (
	"time"

	"github.com/google/uuid"
)

// PublicV3PingGetResponse is returned by GET /public/v3/ping.
type PublicV3PingGetResponse struct {
	APITime time.Time `json:"api_time"`
}

// PublicV3PublicKeyGetResponse is returned by GET /public/v3/public-key. The
// body is the PEM encoded key and the fingerprint arrives in the X-IOV-KEY-ID
// header.
type PublicV3PublicKeyGetResponse struct {
	PublicKey   string
	Fingerprint string
}

// DenialReason is a reason a user may pick when denying an authorization.
type DenialReason struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Fraud  bool   `json:"fraud"`
}

// ServiceV3AuthsPostRequest is sent to POST /service/v3/auths.
type ServiceV3AuthsPostRequest struct {
	Username      string         `json:"username"`
	Policy        *AuthPolicy    `json:"policy,omitempty"`
	Context       string         `json:"context,omitempty"`
	Title         string         `json:"title,omitempty"`
	TTL           int            `json:"ttl,omitempty"`
	PushTitle     string         `json:"push_title,omitempty"`
	PushBody      string         `json:"push_body,omitempty"`
	DenialReasons []DenialReason `json:"denial_reasons,omitempty"`
}

// ServiceV3AuthsPostResponse is returned by POST /service/v3/auths.
type ServiceV3AuthsPostResponse struct {
	AuthRequest uuid.UUID `json:"auth_request"`
	PushPackage string    `json:"push_package,omitempty"`
}

// ServiceV3AuthsGetResponse is returned by GET /service/v3/auths/{id} once
// the user has responded. Auth is the RSA encrypted auth package; AuthJWE,
// when present, carries the same package as a JWE.
type ServiceV3AuthsGetResponse struct {
	ServiceUserHash string `json:"service_user_hash"`
	OrgUserHash     string `json:"org_user_hash,omitempty"`
	UserPushID      string `json:"user_push_id"`
	PublicKeyID     string `json:"public_key_id"`
	Auth            string `json:"auth"`
	AuthJWE         string `json:"auth_jwe,omitempty"`
}

// AuthPackage is the decrypted content of an auth response.
type AuthPackage struct {
	AuthRequest  uuid.UUID `json:"auth_request"`
	Response     bool      `json:"response"`
	DeviceID     string    `json:"device_id"`
	ServicePins  []string  `json:"service_pins,omitempty"`
	Type         string    `json:"type,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	DenialReason string    `json:"denial_reason,omitempty"`
}

// ServiceV3SessionsPostRequest is sent to POST /service/v3/sessions.
type ServiceV3SessionsPostRequest struct {
	Username    string     `json:"username"`
	AuthRequest *uuid.UUID `json:"auth_request,omitempty"`
}

// ServiceV3SessionsDeleteRequest is sent to DELETE /service/v3/sessions.
type ServiceV3SessionsDeleteRequest struct {
	Username string `json:"username"`
}

// DirectoryV3DevicesPostRequest is sent to POST /directory/v3/devices.
type DirectoryV3DevicesPostRequest struct {
	Identifier string `json:"identifier"`
	TTL        int    `json:"ttl,omitempty"`
}

// DirectoryV3DevicesPostResponse is returned by POST /directory/v3/devices.
type DirectoryV3DevicesPostResponse struct {
	QRCode   string `json:"qrcode"`
	Code     string `json:"code"`
	DeviceID string `json:"device_id,omitempty"`
}

// DirectoryV3DevicesListPostRequest is sent to POST /directory/v3/devices/list.
type DirectoryV3DevicesListPostRequest struct {
	Identifier string `json:"identifier"`
}

// DeviceStatus is the link state of a device.
type DeviceStatus int

const (
	DeviceLinkPending DeviceStatus = iota
	DeviceLinked
	DeviceUnlinkPending
)

func (s DeviceStatus) String() string {
	switch s {
	case DeviceLinkPending:
		return "LINK_PENDING"
	case DeviceLinked:
		return "LINKED"
	case DeviceUnlinkPending:
		return "UNLINK_PENDING"
	}
	return "UNKNOWN"
}

// Device is an entry of DirectoryV3DevicesListPostResponse.
type Device struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	Status  DeviceStatus `json:"status"`
	Created *time.Time   `json:"created,omitempty"`
	Updated *time.Time   `json:"updated,omitempty"`
}

// DirectoryV3DevicesListPostResponse is returned by POST /directory/v3/devices/list.
type DirectoryV3DevicesListPostResponse []Device

// DirectoryV3DevicesDeleteRequest is sent to DELETE /directory/v3/devices.
type DirectoryV3DevicesDeleteRequest struct {
	Identifier string `json:"identifier"`
	DeviceID   string `json:"device_id"`
}

// DirectoryV3SessionsListPostRequest is sent to POST /directory/v3/sessions/list.
type DirectoryV3SessionsListPostRequest struct {
	Identifier string `json:"identifier"`
}

// Session is an entry of DirectoryV3SessionsListPostResponse.
type Session struct {
	ServiceID   uuid.UUID  `json:"service_id"`
	ServiceName string     `json:"service_name"`
	ServiceIcon string     `json:"service_icon,omitempty"`
	AuthRequest *uuid.UUID `json:"auth_request,omitempty"`
	Created     time.Time  `json:"date_created"`
}

// DirectoryV3SessionsListPostResponse is returned by POST /directory/v3/sessions/list.
type DirectoryV3SessionsListPostResponse []Session

// DirectoryV3SessionsDeleteRequest is sent to DELETE /directory/v3/sessions.
type DirectoryV3SessionsDeleteRequest struct {
	Identifier string `json:"identifier"`
}

// OrganizationV3DirectoriesPatchRequest is sent to PATCH /organization/v3/directories.
type OrganizationV3DirectoriesPatchRequest struct {
	DirectoryID uuid.UUID `json:"directory_id"`
	Active      *bool     `json:"active,omitempty"`
	AndroidKey  *string   `json:"android_key,omitempty"`
	IOSP12      *string   `json:"ios_p12,omitempty"`
}

// APIError is the body the API sends with a 4xx status.
type APIError struct {
	ErrorCode   string `json:"error_code"`
	ErrorDetail any    `json:"error_detail,omitempty"`
}
