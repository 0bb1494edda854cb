package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Hash field names of a persisted session record.
const (
	fieldID                  = "id"
	fieldCreationTime        = "creationTime"
	fieldLastAccessedTime    = "lastAccessedTime"
	fieldMaxInactiveInterval = "maxInactiveInterval"
	attrFieldPrefix          = "sessionAttr:"
)

func attrField(name string) string {
	return attrFieldPrefix + name
}

func encodeValue(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// recordDelta is the set of hash writes and removals for one save.
type recordDelta struct {
	set  []any
	hdel []string
}

// encodeDelta renders the fields that changed since the last save. Timestamps and the
// inactivity interval are always written; the creation fields only for new sessions.
func encodeDelta(s *Session) (recordDelta, error) {
	var d recordDelta

	if s.isNew {
		d.set = append(d.set,
			fieldID, s.id,
			fieldCreationTime, strconv.FormatInt(s.creationTime.UnixMilli(), 10),
		)
	}
	d.set = append(d.set,
		fieldLastAccessedTime, strconv.FormatInt(s.lastAccessedTime.UnixMilli(), 10),
		fieldMaxInactiveInterval, strconv.FormatInt(int64(s.maxInactiveInterval/time.Second), 10),
	)

	for name := range s.delta {
		v, ok := s.attributes[name]
		if !ok {
			d.hdel = append(d.hdel, attrField(name))
			continue
		}
		raw, err := encodeValue(v)
		if err != nil {
			return recordDelta{}, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		d.set = append(d.set, attrField(name), string(raw))
	}

	return d, nil
}

// decodeRecord parses a hash read with HGETALL. Attribute values stay serialized.
func decodeRecord(id string, fields map[string]string) (*Session, error) {
	if storedID, ok := fields[fieldID]; ok && storedID != id {
		return nil, fmt.Errorf("%w: id field %q does not match key", ErrCorruptRecord, storedID)
	}

	created, err := parseMillis(fields, fieldCreationTime)
	if err != nil {
		return nil, err
	}
	lastAccessed, err := parseMillis(fields, fieldLastAccessedTime)
	if err != nil {
		return nil, err
	}
	rawInterval, ok := fields[fieldMaxInactiveInterval]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptRecord, fieldMaxInactiveInterval)
	}
	seconds, err := strconv.ParseInt(rawInterval, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, fieldMaxInactiveInterval, err)
	}

	s := &Session{
		id:                  id,
		creationTime:        created,
		lastAccessedTime:    lastAccessed,
		maxInactiveInterval: time.Duration(seconds) * time.Second,
		attributes:          make(map[string]any),
		delta:               make(map[string]struct{}),
		clock:               time.Now,
	}

	for field, value := range fields {
		name, isAttr := strings.CutPrefix(field, attrFieldPrefix)
		if !isAttr {
			continue
		}
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("%w: attribute %q is not valid JSON", ErrCorruptRecord, name)
		}
		s.attributes[name] = json.RawMessage(value)
	}

	return s, nil
}

func parseMillis(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing %s", ErrCorruptRecord, name)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, name, err)
	}
	return time.UnixMilli(ms), nil
}
