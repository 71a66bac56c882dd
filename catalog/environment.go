// Package catalog maintains the analyzer's knowledge of the runtime's
// type objects: the base "type" metatype found by scanning, every type
// instance discovered under it, and the name-to-address index the typed
// object decoders dispatch through. The catalog can be persisted next to
// the snapshot so later sessions skip the discovery scans.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// Entry is one cataloged type.
type Entry struct {
	Name string
	Addr types.Addr[objects.RawType]
}

// Environment binds a snapshot store to the type catalog built for it.
// It implements objects.Env, so decoders resolve types through it.
type Environment struct {
	store    *snapshot.Store
	dataPath string

	mu          sync.RWMutex
	baseType    types.Addr[objects.RawType]
	typesByName map[string]types.Addr[objects.RawType]
	nameByType  map[types.Addr[objects.RawType]]string
}

// NewEnvironment wraps store. dataPath is the snapshot's on-disk path,
// used to derive where the catalog persists.
func NewEnvironment(store *snapshot.Store, dataPath string) *Environment {
	return &Environment{
		store:       store,
		dataPath:    dataPath,
		typesByName: map[string]types.Addr[objects.RawType]{},
		nameByType:  map[types.Addr[objects.RawType]]string{},
	}
}

// Store implements objects.Env.
func (e *Environment) Store() *snapshot.Store {
	return e.store
}

// DataPath returns the snapshot path the environment was opened with.
func (e *Environment) DataPath() string {
	return e.dataPath
}

// BaseType returns the address of the base metatype, or null before
// bootstrap.
func (e *Environment) BaseType() types.Addr[objects.RawType] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseType
}

// SetBaseType records the base metatype and catalogs it under "type".
func (e *Environment) SetBaseType(addr types.Addr[objects.RawType]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseType = addr
	e.addLocked("type", addr)
}

// Bootstrapped reports whether the base metatype has been found.
func (e *Environment) Bootstrapped() bool {
	return !e.BaseType().IsNull()
}

// AddType catalogs a type instance. When two distinct type objects share
// a name, later ones are stored under "name+ADDRESS" so neither is lost.
func (e *Environment) AddType(name string, addr types.Addr[objects.RawType]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addLocked(name, addr)
}

func (e *Environment) addLocked(name string, addr types.Addr[objects.RawType]) {
	if existing, ok := e.typesByName[name]; ok && existing != addr {
		name = fmt.Sprintf("%s+%016X", name, addr.Uint64())
	}
	e.typesByName[name] = addr
	if _, ok := e.nameByType[addr]; !ok {
		e.nameByType[addr] = name
	}
}

// GetType implements objects.Env.
func (e *Environment) GetType(name string) (types.Addr[objects.RawType], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, ok := e.typesByName[name]
	return addr, ok
}

// TypeName implements objects.Env.
func (e *Environment) TypeName(addr types.Addr[objects.RawType]) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	name, ok := e.nameByType[addr]
	return name, ok
}

// TypeCount returns how many types are cataloged.
func (e *Environment) TypeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.typesByName)
}

// AllTypes returns every cataloged type sorted by name.
func (e *Environment) AllTypes() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]Entry, 0, len(e.typesByName))
	for name, addr := range e.typesByName {
		entries = append(entries, Entry{Name: name, Addr: addr})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// InvalidReason implements objects.Env: addr must be a readable object
// whose dynamic type is exactly expected, and the type's own decoder
// must accept its bytes.
func (e *Environment) InvalidReason(addr objects.ObjAddr, expected types.Addr[objects.RawType]) string {
	if !snapshot.ObjValid(e.store, addr, 8) {
		return "invalid_address"
	}
	obj, err := snapshot.Get(e.store, addr)
	if err != nil {
		return "invalid_address"
	}
	if obj.TypeAddr != expected {
		return "wrong_type"
	}
	return objects.Decode(e, addr).InvalidReason(e)
}
