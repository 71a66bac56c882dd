package catalog

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/types"
)

// catalogFileName is the catalog's name inside a directory-form snapshot.
const catalogFileName = "analysis.catalog"

// CatalogPath derives where the catalog persists for a snapshot at
// dataPath: inside the directory for directory-form snapshots, alongside
// the file otherwise.
func CatalogPath(dataPath string) string {
	if info, err := os.Stat(dataPath); err == nil && info.IsDir() {
		return filepath.Join(dataPath, catalogFileName)
	}
	return dataPath + ".catalog"
}

// Save writes the catalog next to the snapshot. The file starts with an
// xxhash of everything after it, so a truncated or corrupted file is
// rejected on load instead of silently poisoning the type index. The
// write goes through a temp file and rename.
func Save(env *Environment) error {
	entries := env.AllTypes()

	payload := make([]byte, 0, 16+len(entries)*24)
	payload = binary.LittleEndian.AppendUint64(payload, env.BaseType().Uint64())
	payload = binary.LittleEndian.AppendUint64(payload, uint64(len(entries)))
	var varint [binary.MaxVarintLen64]byte
	for _, entry := range entries {
		n := binary.PutUvarint(varint[:], uint64(len(entry.Name)))
		payload = append(payload, varint[:n]...)
		payload = append(payload, entry.Name...)
		payload = binary.LittleEndian.AppendUint64(payload, entry.Addr.Uint64())
	}

	data := binary.LittleEndian.AppendUint64(nil, xxhash.Sum64(payload))
	data = append(data, payload...)

	path := CatalogPath(env.DataPath())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing catalog")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "renaming catalog")
	}
	return nil
}

// Load reads a previously saved catalog. Returns false without error
// when no catalog file exists; a present but corrupt file is an error.
func Load(env *Environment) (bool, error) {
	data, err := os.ReadFile(CatalogPath(env.DataPath()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "reading catalog")
	}
	if len(data) < 24 {
		return false, errors.New("catalog file too short")
	}
	if binary.LittleEndian.Uint64(data[:8]) != xxhash.Sum64(data[8:]) {
		return false, errors.New("catalog checksum mismatch")
	}

	payload := data[8:]
	base := binary.LittleEndian.Uint64(payload[:8])
	count := binary.LittleEndian.Uint64(payload[8:16])
	payload = payload[16:]

	type record struct {
		name string
		addr uint64
	}
	records := make([]record, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, n := binary.Uvarint(payload)
		if n <= 0 || uint64(len(payload)) < uint64(n)+nameLen+8 {
			return false, errors.New("catalog record truncated")
		}
		payload = payload[n:]
		name := string(payload[:nameLen])
		payload = payload[nameLen:]
		addr := binary.LittleEndian.Uint64(payload[:8])
		payload = payload[8:]
		records = append(records, record{name: name, addr: addr})
	}

	env.SetBaseType(types.Addr[objects.RawType](base))
	for _, r := range records {
		env.AddType(r.name, types.Addr[objects.RawType](r.addr))
	}
	return true, nil
}
