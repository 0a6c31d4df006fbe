// Package directory implements the read-only façade the authentication
// pipeline and token service use to resolve principals by id, by name,
// or by credentials, without either caring how the snapshot picked a
// particular backend.
package directory

import (
	"context"
	"strconv"

	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/core"
)

// Facade is a thin, named-aware view over a Core's directories. It never
// mutates the snapshot; it only resolves which module.Directory a given
// name should hit, falling back to the primary the same way
// Core.GetDirectoryOrDefault does.
type Facade struct {
	core      *core.Core
	sessionID uint64
}

// New builds a Facade bound to snapshot for the given session, so every
// miss-event it triggers is attributable to the request that caused it.
func New(snapshot *core.Core, sessionID uint64) *Facade {
	return &Facade{core: snapshot, sessionID: sessionID}
}

// Named resolves the directory registered under name, or the primary
// directory if name is empty or unknown.
func (f *Facade) Named(name string) module.Directory {
	return f.core.GetDirectoryOrDefault(name, f.sessionID)
}

// Primary is the snapshot's designated default directory.
func (f *Facade) Primary() module.Directory {
	return f.core.Storage.Primary
}

// QueryCredentials resolves a principal by credentials against the named
// directory (or the primary, if name is empty).
func (f *Facade) QueryCredentials(ctx context.Context, dirName string, creds module.Credentials, returnMemberOf bool) (*module.Principal, error) {
	return f.Named(dirName).QueryCredentials(ctx, creds, returnMemberOf)
}

// QueryName resolves a principal by bare account name.
func (f *Facade) QueryName(ctx context.Context, dirName, name string, returnMemberOf bool) (*module.Principal, error) {
	return f.Named(dirName).Query(ctx, module.QueryByName, name, returnMemberOf)
}

// QueryID resolves a principal by numeric account id.
func (f *Facade) QueryID(ctx context.Context, dirName string, id uint32, returnMemberOf bool) (*module.Principal, error) {
	return f.Named(dirName).Query(ctx, module.QueryByID, strconv.FormatUint(uint64(id), 10), returnMemberOf)
}
