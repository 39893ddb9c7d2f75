package contacts

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/httpkit"
)

// CardDAV resolves senders against a remote CardDAV address book. Each
// lookup is a server-side query filtered on the telephone property, so
// the address book never needs to be synced locally.
type CardDAV struct {
	client      *carddav.Client
	addressBook string
}

// NewCardDAV connects to a CardDAV endpoint with basic auth.
func NewCardDAV(url, username, password, addressBook string) (*CardDAV, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(httpkit.NewClient(), username, password)
	client, err := carddav.NewClient(httpClient, url)
	if err != nil {
		return nil, fmt.Errorf("contacts: carddav client: %w", err)
	}
	return &CardDAV{client: client, addressBook: addressBook}, nil
}

// Resolve queries the address book for a card whose telephone matches
// the sender.
func (c *CardDAV) Resolve(ctx context.Context, sender string) (*convo.UserContext, error) {
	phone := NormalizePhone(sender)
	if phone == "" {
		return nil, nil
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{
				vcard.FieldUID,
				vcard.FieldFormattedName,
				vcard.FieldTelephone,
				vcard.FieldOrganization,
				orgIDField,
			},
		},
		PropFilters: []carddav.PropFilter{{
			Name: vcard.FieldTelephone,
			TextMatches: []carddav.TextMatch{{
				Text:      phone,
				MatchType: carddav.MatchContains,
			}},
		}},
	}

	objects, err := c.client.QueryAddressBook(ctx, c.addressBook, query)
	if err != nil {
		return nil, fmt.Errorf("contacts: carddav query: %w", err)
	}

	// Servers match loosely on contains; re-check against the
	// normalized number before trusting a hit.
	for _, obj := range objects {
		for _, tel := range obj.Card.Values(vcard.FieldTelephone) {
			if NormalizePhone(tel) != phone {
				continue
			}
			e := entryFromCard(obj.Card)
			if e.identityID == "" {
				e.identityID = phone
			}
			return &convo.UserContext{
				IdentityID:     e.identityID,
				OrganizationID: e.orgID,
				DisplayName:    e.displayName,
				ResolvedAt:     time.Now(),
			}, nil
		}
	}
	return nil, nil
}
