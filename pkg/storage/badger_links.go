package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// PutLink stores or replaces a link (upsert). Adjacency index entries
// are written in the same transaction as the record.
func (b *BadgerEngine) PutLink(link *Link) error {
	if link == nil {
		return ErrInvalidData
	}
	if link.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	var created bool
	err := b.db.Update(func(txn *badger.Txn) error {
		key := linkKey(link.ID)

		item, err := txn.Get(key)
		switch err {
		case nil:
			// Endpoints normally never change (the id is derived from
			// them), but stay robust: drop stale index entries.
			var old *Link
			if verr := item.Value(func(val []byte) error {
				var derr error
				old, derr = decodeLink(val)
				return derr
			}); verr != nil {
				return verr
			}
			if old.SourceID != link.SourceID || old.TargetID != link.TargetID || old.ProjectID != link.ProjectID {
				if derr := deleteLinkIndexes(txn, old); derr != nil {
					return derr
				}
			}
		case badger.ErrKeyNotFound:
			created = true
		default:
			return err
		}

		data, err := encodeLink(link)
		if err != nil {
			return fmt.Errorf("failed to encode link: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return setLinkIndexes(txn, link)
	})
	if err != nil {
		return err
	}

	if created {
		b.linkCount.Add(1)
	}
	return nil
}

// GetLink retrieves a link by ID.
func (b *BadgerEngine) GetLink(id LinkID) (*Link, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var link *Link
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(linkKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			link, decodeErr = decodeLink(val)
			return decodeErr
		})
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteLink physically removes a link and its index entries.
func (b *BadgerEngine) DeleteLink(id LinkID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		removed, err := deleteLinkInTxn(txn, LinkID(id))
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.linkCount.Add(-1)
	return nil
}

// LinksBySource returns all links whose source is the given node.
func (b *BadgerEngine) LinksBySource(source NodeID) ([]*Link, error) {
	return b.linksByAdjacency(prefixLinkSource, string(source))
}

// LinksByTarget returns all links whose target is the given node.
func (b *BadgerEngine) LinksByTarget(target NodeID) ([]*Link, error) {
	return b.linksByAdjacency(prefixLinkTarget, string(target))
}

// LinksByProject returns all links in a project.
func (b *BadgerEngine) LinksByProject(project ProjectID) ([]*Link, error) {
	return b.linksByAdjacency(prefixLinkProject, string(project))
}

func (b *BadgerEngine) linksByAdjacency(prefix byte, owner string) ([]*Link, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var links []*Link
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := scanAdjacency(txn, prefix, owner)
		if err != nil {
			return err
		}
		for _, id := range ids {
			item, err := txn.Get(linkKey(id))
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("link %s: %w", id, ErrNotFound)
			}
			if err != nil {
				return err
			}
			var link *Link
			if verr := item.Value(func(val []byte) error {
				var derr error
				link, derr = decodeLink(val)
				return derr
			}); verr != nil {
				return verr
			}
			links = append(links, link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// scanAdjacency collects link ids from one adjacency index.
func scanAdjacency(txn *badger.Txn, prefix byte, owner string) ([]LinkID, error) {
	scanPrefix := adjacencyIndexPrefix(prefix, owner)
	it := txn.NewIterator(badgerIterOptsKeyOnly(scanPrefix))
	defer it.Close()

	var ids []LinkID
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, LinkID(it.Item().Key()[len(scanPrefix):]))
	}
	return ids, nil
}

func setLinkIndexes(txn *badger.Txn, link *Link) error {
	if err := txn.Set(adjacencyIndexKey(prefixLinkSource, string(link.SourceID), link.ID), []byte{}); err != nil {
		return err
	}
	if err := txn.Set(adjacencyIndexKey(prefixLinkTarget, string(link.TargetID), link.ID), []byte{}); err != nil {
		return err
	}
	return txn.Set(adjacencyIndexKey(prefixLinkProject, string(link.ProjectID), link.ID), []byte{})
}

func deleteLinkIndexes(txn *badger.Txn, link *Link) error {
	if err := txn.Delete(adjacencyIndexKey(prefixLinkSource, string(link.SourceID), link.ID)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyIndexKey(prefixLinkTarget, string(link.TargetID), link.ID)); err != nil {
		return err
	}
	return txn.Delete(adjacencyIndexKey(prefixLinkProject, string(link.ProjectID), link.ID))
}

// deleteLinkInTxn removes a link record and its indexes. Returns false
// when the link does not exist.
func deleteLinkInTxn(txn *badger.Txn, id LinkID) (bool, error) {
	item, err := txn.Get(linkKey(id))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var link *Link
	if verr := item.Value(func(val []byte) error {
		var derr error
		link, derr = decodeLink(val)
		return derr
	}); verr != nil {
		return false, verr
	}

	if err := deleteLinkIndexes(txn, link); err != nil {
		return false, err
	}
	if err := txn.Delete(linkKey(id)); err != nil {
		return false, err
	}
	return true, nil
}
