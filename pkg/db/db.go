package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"

	"github.com/apnisec/npmguard/pkg/types"
)

const (
	SchemaVersion = 1

	rulesBucket    = "vulnerability"
	metadataBucket = "metadata"
	metadataKey    = "data"
)

// Operation is the persistence surface the catalog depends on. The rule
// store maps package name -> ordered rule list, written once at bootstrap.
type Operation interface {
	BatchUpdate(fn func(tx *bolt.Tx) error) error
	PutRules(tx *bolt.Tx, pkgName string, rules []types.VulnerabilityRule) error
	ForEachRules(fn func(pkgName string, rules []types.VulnerabilityRule) error) error
	IsEmpty() (bool, error)
	SetMetadata(meta Metadata) error
	GetMetadata() (Metadata, error)
}

// Metadata records when and how the rule store was populated.
type Metadata struct {
	Version  int
	SeededAt time.Time
}

// DB is a bbolt-backed rule store. A single DB is opened per process and
// shared read-only once the catalog is built.
type DB struct {
	db *bolt.DB
}

func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "db", "npmguard.db")
}

func Open(cacheDir string) (*DB, error) {
	dbPath := Path(cacheDir)
	eb := oops.With("db_path", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, eb.Wrapf(err, "failed to mkdir")
	}
	b, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, eb.Wrapf(err, "failed to open db")
	}
	return &DB{db: b}, nil
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return oops.Wrapf(err, "failed to close db")
	}
	return nil
}

func (d *DB) BatchUpdate(fn func(tx *bolt.Tx) error) error {
	if err := d.db.Batch(fn); err != nil {
		return oops.Wrapf(err, "error in batch update")
	}
	return nil
}

// PutRules stores the ordered rule list for one package. Storing the whole
// list as a single value keeps rule order stable across reloads.
func (d *DB) PutRules(tx *bolt.Tx, pkgName string, rules []types.VulnerabilityRule) error {
	eb := oops.With("package_name", pkgName)

	bkt, err := tx.CreateBucketIfNotExists([]byte(rulesBucket))
	if err != nil {
		return eb.Wrapf(err, "failed to create a bucket")
	}
	v, err := json.Marshal(rules)
	if err != nil {
		return eb.Wrapf(err, "failed to marshal rules")
	}
	return bkt.Put([]byte(pkgName), v)
}

func (d *DB) ForEachRules(fn func(pkgName string, rules []types.VulnerabilityRule) error) error {
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(rulesBucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			var rules []types.VulnerabilityRule
			if err := json.Unmarshal(v, &rules); err != nil {
				return oops.With("package_name", string(k)).Wrapf(err, "failed to unmarshal rules")
			}
			return fn(string(k), rules)
		})
	})
	if err != nil {
		return oops.Wrapf(err, "error in rules foreach")
	}
	return nil
}

// IsEmpty reports whether the store holds no rules yet, which triggers
// bootstrap seeding.
func (d *DB) IsEmpty() (bool, error) {
	empty := true
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(rulesBucket))
		if bkt == nil {
			return nil
		}
		k, _ := bkt.Cursor().First()
		empty = k == nil
		return nil
	})
	if err != nil {
		return false, oops.Wrapf(err, "failed to inspect rules bucket")
	}
	return empty, nil
}

func (d *DB) SetMetadata(meta Metadata) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		v, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(metadataKey), v)
	})
	if err != nil {
		return oops.Wrapf(err, "failed to save metadata")
	}
	return nil
}

func (d *DB) GetMetadata() (Metadata, error) {
	var meta Metadata
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(metadataBucket))
		if bkt == nil {
			return nil
		}
		v := bkt.Get([]byte(metadataKey))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return Metadata{}, oops.Wrapf(err, "failed to get metadata")
	}
	return meta, nil
}
