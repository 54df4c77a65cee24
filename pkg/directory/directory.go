package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// ErrContactNotFound is returned when a directory has no entry for the key
var ErrContactNotFound = errors.New("contact not found")

// UserDirectory resolves a signer's contact from their identity
type UserDirectory interface {
	LookupContactByIdentity(ctx context.Context, signerID string) (*types.Contact, error)
}

// DocumentDirectory resolves the contact of whoever sent a document for signature
type DocumentDirectory interface {
	LookupSenderContact(ctx context.Context, documentID string) (*types.Contact, error)
}

// StaticDirectory is a fixed, in-process directory satisfying both lookups
type StaticDirectory struct {
	mu      sync.RWMutex
	users   map[string]types.Contact
	senders map[string]types.Contact
}

var (
	_ UserDirectory     = (*StaticDirectory)(nil)
	_ DocumentDirectory = (*StaticDirectory)(nil)
)

// directoryFile is the on-disk JSON shape
type directoryFile struct {
	Users     map[string]types.Contact `json:"users"`
	Documents map[string]types.Contact `json:"documents"`
}

// NewStaticDirectory builds a directory. User keys are normalized.
func NewStaticDirectory(users, senders map[string]types.Contact) *StaticDirectory {
	d := &StaticDirectory{
		users:   make(map[string]types.Contact, len(users)),
		senders: make(map[string]types.Contact, len(senders)),
	}
	for id, c := range users {
		d.users[identity.Normalize(id)] = c
	}
	for id, c := range senders {
		d.senders[id] = c
	}
	return d
}

// LoadStaticDirectory reads a JSON file of the form
// {"users": {"<signerId>": {"name","email"}}, "documents": {"<documentId>": {...}}}
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var f directoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}

	return NewStaticDirectory(f.Users, f.Documents), nil
}

// LookupContactByIdentity finds a signer's contact by normalized identity
func (d *StaticDirectory) LookupContactByIdentity(ctx context.Context, signerID string) (*types.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.users[identity.Normalize(signerID)]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &c, nil
}

// LookupSenderContact finds the sender registered for documentID
func (d *StaticDirectory) LookupSenderContact(ctx context.Context, documentID string) (*types.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.senders[documentID]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &c, nil
}

// SetSender registers or replaces the sender for documentID
func (d *StaticDirectory) SetSender(documentID string, c types.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[documentID] = c
}

// SetUser registers or replaces the contact for signerID
func (d *StaticDirectory) SetUser(signerID string, c types.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[identity.Normalize(signerID)] = c
}
