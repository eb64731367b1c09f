package tlv8

// Unmarshal decodes a TLV8 stream into logical items. A same-tag
// fragment directly after a maximal (255-byte) fragment continues the
// current item; any shorter preceding fragment, including the
// zero-length terminator the encoder emits after exact multiples of
// 255, ends it.
func Unmarshal(data []byte) ([]Item, error) {
	var items []Item
	lastFrag := 0

	for len(data) > 0 {
		if len(data) < 2 {
			return nil, ErrTruncated
		}
		tag := data[0]
		n := int(data[1])
		data = data[2:]
		if len(data) < n {
			return nil, ErrTruncated
		}
		value := data[:n]
		data = data[n:]

		if last := len(items) - 1; last >= 0 &&
			items[last].Tag == tag &&
			lastFrag == maxFragment {
			items[last].Value = append(items[last].Value, value...)
			lastFrag = n
			continue
		}

		items = append(items, Item{Tag: tag, Value: append([]byte(nil), value...)})
		lastFrag = n
	}
	return items, nil
}

// Container is a decoded message viewed by tag. Repeated tags separated
// by TagSeparator items (as in list-pairings responses) keep only the
// first occurrence; iterate the item slice for those.
type Container map[byte][]byte

// Parse decodes data and indexes the result by tag.
func Parse(data []byte) (Container, error) {
	items, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	c := make(Container, len(items))
	for _, it := range items {
		if _, dup := c[it.Tag]; !dup {
			c[it.Tag] = it.Value
		}
	}
	return c, nil
}

// Bytes returns the value for tag and whether it was present.
func (c Container) Bytes(tag byte) ([]byte, bool) {
	v, ok := c[tag]
	return v, ok
}

// Byte returns a single-byte value for tag. Missing or wider values
// return ok == false.
func (c Container) Byte(tag byte) (byte, bool) {
	v, ok := c[tag]
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// String returns the value for tag as a string.
func (c Container) String(tag byte) (string, bool) {
	v, ok := c[tag]
	if !ok {
		return "", false
	}
	return string(v), true
}
