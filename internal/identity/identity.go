// Package identity manages the two-part device identity model.
//
// Every node carries a stable id (derived once, persisted across
// restarts, used for capsule attribution and trust) and an instance id
// (regenerated each boot, used only for liveness and session
// correlation). The instance id never participates in chain linkage or
// hashing - a reboot must not change what a device "is".
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// stableIDFile is the filename under the node data dir holding the
// persisted stable id.
const stableIDFile = "device_id"

// DeviceIdentity identifies a device and the current process instance.
type DeviceIdentity struct {
	// StableID is derived once and persists across restarts.
	StableID string

	// InstanceID is regenerated each process start (UUIDv7, so instance
	// ids sort by boot time when listed).
	InstanceID string

	// BootTime records when this instance came up.
	BootTime time.Time
}

// Load reads the stable id persisted under dataDir, deriving and
// persisting a fresh one on first boot, and stamps a new instance id.
//
// The stable id is a SHA-256 of locally generated key material. No
// signature scheme is attached here; the id is an attribution handle,
// not a cryptographic proof.
func Load(dataDir string) (DeviceIdentity, error) {
	path := filepath.Join(dataDir, stableIDFile)

	stable, err := readStableID(path)
	if os.IsNotExist(err) {
		stable, err = deriveStableID()
		if err != nil {
			return DeviceIdentity{}, err
		}
		if werr := writeStableID(path, stable); werr != nil {
			return DeviceIdentity{}, werr
		}
	} else if err != nil {
		return DeviceIdentity{}, err
	}

	return DeviceIdentity{
		StableID:   stable,
		InstanceID: uuid.Must(uuid.NewV7()).String(),
		BootTime:   time.Now().UTC(),
	}, nil
}

func readStableID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if len(id) != sha256.Size*2 {
		return "", fmt.Errorf("identity: corrupt stable id in %s (len %d)", path, len(id))
	}
	return id, nil
}

func writeStableID(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity: create data dir: %w", err)
	}
	// 0600: the id doubles as the device's ledger handle.
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("identity: persist stable id: %w", err)
	}
	return nil
}

// deriveStableID hashes fresh random key material with the hostname.
// The hostname alone would collide across cloned images; the random
// component guarantees uniqueness even then.
func deriveStableID() (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("identity: read entropy: %w", err)
	}
	host, _ := os.Hostname()

	h := sha256.New()
	h.Write(seed)
	h.Write([]byte{0x00})
	h.Write([]byte(host))
	return hex.EncodeToString(h.Sum(nil)), nil
}
