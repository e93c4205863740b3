package storage

import "github.com/dgraph-io/badger/v4"

// badgerIterOptsKeyOnly configures a prefix scan that never loads values.
// All secondary indexes here store empty values, so every index scan uses
// this and fetches records by key afterwards.
func badgerIterOptsKeyOnly(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return opts
}
