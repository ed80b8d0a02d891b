// Package offlinequeue is the device-side store for delivery events
// recorded without connectivity. The queue file is encrypted at rest:
// transporter phones get lost, and the queue holds order ids and GPS
// traces.
package offlinequeue

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mesanova/entregas/internal/services/offline"
	"github.com/mesanova/entregas/internal/token"
)

const keySize = 32

// Submitter posts a batch to the sync endpoint and returns per-item
// results
type Submitter func(ctx context.Context, items []offline.Item) ([]offline.ItemResult, error)

// Queue is an encrypted append-only queue persisted to a single file.
// Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	path   string
	aead   cipher.AEAD
	hasher *token.Hasher
	items  []offline.Item
}

// Open loads the queue from path, creating an empty one if the file does
// not exist. The key must be 32 bytes (AES-256).
func Open(path string, key []byte, hasher *token.Hasher) (*Queue, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("queue key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	q := &Queue{path: path, aead: aead, hasher: hasher}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// LoadOrCreateKey reads a hex-encoded queue key from path, generating and
// persisting a fresh one on first run.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(string(data))
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("corrupt queue key file %s", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// Enqueue records an event. The content hash is computed here, before the
// item ever leaves the device, so later tampering is detectable
// server-side.
func (q *Queue) Enqueue(item offline.Item) error {
	if item.OrderID == "" || item.DeviceID == "" || item.EventType == "" || item.Timestamp == "" {
		return fmt.Errorf("offline event is missing required fields")
	}
	item.OfflineHash = q.hasher.HashOfflineEvent(item.OrderID, item.Timestamp, item.Gps, item.DeviceID)

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.items {
		if existing.OfflineHash == item.OfflineHash {
			return nil // duplicate record of the same act
		}
	}
	q.items = append(q.items, item)
	return q.save()
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queued items
func (q *Queue) Items() []offline.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]offline.Item, len(q.items))
	copy(out, q.items)
	return out
}

// Flush submits the queue and drops every acknowledged item, synced or
// rejected: the server has recorded both outcomes, so retrying is
// pointless. Items stay queued only when the submission itself fails.
func (q *Queue) Flush(ctx context.Context, submit Submitter) ([]offline.ItemResult, error) {
	q.mu.Lock()
	batch := make([]offline.Item, len(q.items))
	copy(batch, q.items)
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}

	results, err := submit(ctx, batch)
	if err != nil {
		return nil, err
	}

	acknowledged := make(map[string]bool, len(results))
	for _, res := range results {
		if res.OfflineHash != "" {
			acknowledged[res.OfflineHash] = true
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.items[:0]
	for _, item := range q.items {
		if !acknowledged[item.OfflineHash] {
			remaining = append(remaining, item)
		}
	}
	q.items = remaining
	if err := q.save(); err != nil {
		return results, err
	}
	return results, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) < q.aead.NonceSize() {
		return fmt.Errorf("queue file %s is truncated", q.path)
	}

	nonce, ciphertext := data[:q.aead.NonceSize()], data[q.aead.NonceSize():]
	plaintext, err := q.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("queue file %s cannot be decrypted: %w", q.path, err)
	}
	return json.Unmarshal(plaintext, &q.items)
}

// save writes the encrypted queue atomically. Caller holds the lock.
func (q *Queue) save() error {
	plaintext, err := json.Marshal(q.items)
	if err != nil {
		return err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	data := q.aead.Seal(nonce, nonce, plaintext, nil)

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
