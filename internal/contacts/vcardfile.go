package contacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/porterlabs/porter-agent/internal/convo"
)

// VCardFile resolves senders against a local vCard file. The file is
// parsed once at startup; Reload picks up edits without a restart.
type VCardFile struct {
	path string

	mu      sync.RWMutex
	byPhone map[string]entry
}

type entry struct {
	identityID  string
	displayName string
	orgID       string
}

// NewVCardFile loads and indexes a vCard file.
func NewVCardFile(path string) (*VCardFile, error) {
	v := &VCardFile{path: path}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload re-reads the vCard file and swaps the index.
func (v *VCardFile) Reload() error {
	f, err := os.Open(v.path)
	if err != nil {
		return fmt.Errorf("contacts: open vcard file: %w", err)
	}
	defer f.Close()

	index, err := indexCards(vcard.NewDecoder(f))
	if err != nil {
		return fmt.Errorf("contacts: parse %s: %w", v.path, err)
	}

	v.mu.Lock()
	v.byPhone = index
	v.mu.Unlock()
	return nil
}

func indexCards(dec *vcard.Decoder) (map[string]entry, error) {
	index := make(map[string]entry)
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		e := entryFromCard(card)
		for _, tel := range card.Values(vcard.FieldTelephone) {
			phone := NormalizePhone(tel)
			if phone == "" {
				continue
			}
			if e.identityID == "" {
				e.identityID = phone
			}
			index[phone] = e
		}
	}
	return index, nil
}

func entryFromCard(card vcard.Card) entry {
	e := entry{
		identityID:  card.Value(vcard.FieldUID),
		displayName: card.PreferredValue(vcard.FieldFormattedName),
		orgID:       card.Value(orgIDField),
	}
	if e.orgID == "" {
		e.orgID = card.Value(vcard.FieldOrganization)
	}
	return e
}

// Resolve looks up a sender by normalized phone number.
func (v *VCardFile) Resolve(ctx context.Context, sender string) (*convo.UserContext, error) {
	phone := NormalizePhone(sender)

	v.mu.RLock()
	e, ok := v.byPhone[phone]
	v.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	return &convo.UserContext{
		IdentityID:     e.identityID,
		OrganizationID: e.orgID,
		DisplayName:    e.displayName,
		ResolvedAt:     time.Now(),
	}, nil
}
