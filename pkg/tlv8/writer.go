package tlv8

// Marshal encodes items in order, splitting values longer than 255
// bytes into consecutive same-tag fragments. A value whose length is
// an exact multiple of 255 gets a trailing zero-length fragment so the
// decoder can tell it apart from a continuation into a following item
// of the same tag.
func Marshal(items []Item) []byte {
	var size int
	for _, it := range items {
		size += encodedLen(len(it.Value))
	}

	buf := make([]byte, 0, size)
	for _, it := range items {
		buf = appendItem(buf, it)
	}
	return buf
}

// encodedLen returns the wire size of a value of length n, including
// tag and length octets for every fragment and the terminator for
// exact multiples of 255.
func encodedLen(n int) int {
	if n == 0 {
		return 2
	}
	frags := (n + maxFragment - 1) / maxFragment
	size := n + 2*frags
	if n%maxFragment == 0 {
		size += 2
	}
	return size
}

func appendItem(buf []byte, it Item) []byte {
	v := it.Value
	if len(v) == 0 {
		return append(buf, it.Tag, 0)
	}

	for len(v) > 0 {
		n := len(v)
		if n > maxFragment {
			n = maxFragment
		}
		buf = append(buf, it.Tag, byte(n))
		buf = append(buf, v[:n]...)
		v = v[n:]
	}
	if len(it.Value)%maxFragment == 0 {
		buf = append(buf, it.Tag, 0)
	}
	return buf
}
