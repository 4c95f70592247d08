// Package client provides high level clients for LaunchKey services,
// directories and organizations on top of the signed transport.
package client

import (
	"github.com/google/uuid"

	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/transport"
)

// Factory creates clients which share one transport, and therefore one set
// of credentials. An organization's credentials may be used for clients of
// its directories and services; a directory's for its services.
type Factory struct {
	transport   *transport.HTTPTransport
	privateKeys *keys.PrivateKeyRing
	ping        *PingCache
}

// NewFactory returns a Factory. privateKeys must be the ring the transport
// signs with.
func NewFactory(t *transport.HTTPTransport, privateKeys *keys.PrivateKeyRing) *Factory {
	return &Factory{
		transport:   t,
		privateKeys: privateKeys,
		ping:        NewPingCache(t, DefaultPingTTL),
	}
}

// ServiceClient returns a client for the service serviceID.
func (f *Factory) ServiceClient(serviceID uuid.UUID, opts ...ServiceOption) *ServiceClient {
	return NewServiceClient(serviceID, f.transport, f.privateKeys, append([]ServiceOption{WithPingCache(f.ping)}, opts...)...)
}

// DirectoryClient returns a client for the directory directoryID.
func (f *Factory) DirectoryClient(directoryID uuid.UUID) *DirectoryClient {
	return NewDirectoryClient(directoryID, f.transport)
}

// OrganizationClient returns a client for the organization orgID.
func (f *Factory) OrganizationClient(orgID uuid.UUID) *OrganizationClient {
	return NewOrganizationClient(orgID, f.transport)
}
