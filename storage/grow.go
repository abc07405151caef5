package storage

import "sync/atomic"

// Grow creates a new storage at newPath with different bounds/sizes and
// copies every record across using the same read-stable protocol a normal
// reader would use:
//
//   - values and properties are truncated or zero-extended to fit the new
//     sizes;
//   - each copied record keeps its source revision;
//   - description and data version are propagated from the source;
//   - the new segment's creation time is stamped fresh (it is a distinct
//     storage entity, not a continuation).
//
// ids outside the new segment's [newBaseID, newMaxID) bounds are skipped.
func (s *Storage) Grow(newPath string, newBaseID, newMaxID int64, newValueSize, newPropertySize uint32, newQueueCapacity uint64, persist bool) (*Storage, error) {
	dst, err := Create(newPath, CreateOptions{
		BaseID:        newBaseID,
		MaxID:         newMaxID,
		ValueSize:     newValueSize,
		PropertySize:  newPropertySize,
		QueueCapacity: newQueueCapacity,
		Description:   s.hdr.Description,
		DataVersion:   s.hdr.DataVersion,
		Persist:       persist,
	})
	if err != nil {
		return nil, err
	}

	value := make([]byte, s.hdr.ValueSize)
	var property []byte
	if s.hdr.PropertySize > 0 {
		property = make([]byte, s.hdr.PropertySize)
	}

	dstValue := make([]byte, newValueSize)
	var dstProperty []byte
	if newPropertySize > 0 {
		dstProperty = make([]byte, newPropertySize)
	}

	err = s.Iterate(s.hdr.BaseID, s.hdr.MaxID, func(id int64) (bool, error) {
		if id < newBaseID || id >= newMaxID {
			return true, nil
		}

		rev, _, readErr := s.Read(id, value, property)
		if readErr != nil {
			return false, readErr
		}
		if rev == 0 {
			// Never-written slot; nothing to copy.
			return true, nil
		}

		fitCopy(dstValue, value)
		if dstProperty != nil {
			fitCopy(dstProperty, property)
		}

		if _, writeErr := dst.Write(id, dstValue, dstProperty); writeErr != nil {
			return false, writeErr
		}
		w, wordErr := dst.revWord(id)
		if wordErr != nil {
			return false, wordErr
		}
		atomic.StoreInt64(w, rev)
		return true, nil
	})
	if err != nil {
		dst.Close()
		return nil, err
	}

	return dst, nil
}

// fitCopy copies src into dst, truncating or zero-extending as needed.
func fitCopy(dst, src []byte) {
	clear(dst)
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	copy(dst[:n], src[:n])
}
